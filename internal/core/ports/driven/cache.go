package driven

import (
	"context"
	"time"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
)

// CacheEntry is the search-cache projection of a chunk: identity, vector,
// lexical text and the denormalised document metadata needed for
// filtering. Derived, disposable, fully rebuildable from the store.
type CacheEntry struct {
	ChunkID       string
	DocumentID    string
	DocVersion    int64
	DocumentTitle string
	Category      string
	Domain        string
	Language      string
	ArticleLabel  string
	Content       string
	Vector        []float32
	IndexedAt     time.Time
}

// CacheHit is a raw scored hit from one signal of the cache.
type CacheHit struct {
	ChunkID       string
	DocumentID    string
	DocumentTitle string
	ArticleLabel  string
	Content       string
	Score         float64
	IndexedAt     time.Time
}

// HybridHits carries both signal sets of one cache query; the retriever
// owns the weighting.
type HybridHits struct {
	Vector  []CacheHit
	Lexical []CacheHit
}

// SearchCache is the low-latency hybrid index mirroring a subset of the
// primary store. Backed by Redis with RediSearch. Never authoritative:
// every error it returns wraps domain.ErrCacheUnavailable and the
// retriever falls back to the store.
type SearchCache interface {
	// Upsert writes cache entries. An entry stamped with an older
	// document version than the one already cached is ignored.
	Upsert(ctx context.Context, entries []CacheEntry) error

	// Remove evicts all entries of a document.
	Remove(ctx context.Context, documentID string) error

	// HybridQuery runs the vector KNN and lexical legs against the cache.
	HybridQuery(ctx context.Context, vector []float32, lexical string, filters domain.SearchFilters, k int) (*HybridHits, error)

	// Ping reports reachability, for health probes.
	Ping(ctx context.Context) error

	// FreshnessLag returns how far the cache lags the primary store,
	// measured from the oldest pending outbox task it has not seen.
	FreshnessLag(ctx context.Context) (time.Duration, error)

	// Close releases the client.
	Close() error
}

// NeighborCache stores TTL-bound per-document KNN results with reverse
// indexing so invalidating a document also evicts every entry in which
// it appears as a neighbour.
type NeighborCache interface {
	// Get returns the cached entry or domain.ErrNotFound on miss/expiry.
	Get(ctx context.Context, documentID string) (*domain.NeighborEntry, error)

	// Put stores an entry with the given TTL. An entry with an older
	// generation than the cached one is ignored.
	Put(ctx context.Context, entry *domain.NeighborEntry, ttl time.Duration) error

	// Invalidate removes the document's own entry and, transitively,
	// every entry listing the document as a neighbour.
	Invalidate(ctx context.Context, documentID string) error

	// Close releases the client.
	Close() error
}
