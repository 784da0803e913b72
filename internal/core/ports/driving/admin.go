package driving

import (
	"context"
	"time"
)

// ProviderHealth is one provider's circuit-breaker snapshot.
type ProviderHealth struct {
	// Name is the provider name.
	Name string

	// State is "closed", "open" or "half-open".
	State string

	// ConsecutiveFailures is the current failure streak.
	ConsecutiveFailures int
}

// Health is the readiness snapshot exposed to operators.
type Health struct {
	// EmbeddingProviders and LLMProviders list breaker states.
	EmbeddingProviders []ProviderHealth
	LLMProviders       []ProviderHealth

	// CacheReachable is false when the search cache ping fails.
	CacheReachable bool

	// CacheLag is how far the cache lags the store.
	CacheLag time.Duration

	// OutboxDepth is the number of pending cache-propagation tasks.
	OutboxDepth int
}

// Admin groups the operational entry points.
type Admin interface {
	// RebuildSearchCache reconstructs the cache from the primary store.
	// Idempotent and safe to run online. Returns the number of chunks
	// re-upserted.
	RebuildSearchCache(ctx context.Context) (int, error)

	// InvalidateDocument evicts a document from the search cache and
	// neighbour cache without waiting for TTL.
	InvalidateDocument(ctx context.Context, documentID string) error

	// Recluster runs the batch cluster analysis over the corpus and
	// returns the number of clustered documents.
	Recluster(ctx context.Context) (int, error)

	// Health reports provider, cache and outbox state.
	Health(ctx context.Context) (*Health, error)
}
