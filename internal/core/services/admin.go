package services

import (
	"context"
	"time"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

var _ driving.Admin = (*AdminService)(nil)

// ProviderStatuser exposes the gateway circuit-breaker snapshots.
type ProviderStatuser interface {
	Status() []driving.ProviderHealth
}

// AdminStore is the store surface administration needs.
type AdminStore interface {
	driven.OutboxStore
	ListIndexed(ctx context.Context) ([]domain.Document, error)
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	OldestOutboxAge(ctx context.Context) (time.Duration, error)
}

// AdminService groups the operational entry points: cache rebuild,
// invalidation, reclustering and health reporting.
type AdminService struct {
	store     AdminStore
	cache     driven.SearchCache
	neighbors driving.NeighborService
	analyzer  *Analyzer
	embedGW   ProviderStatuser
	llmGW     ProviderStatuser
}

// NewAdminService wires administration. cache and neighbors may be nil
// in store-only deployments.
func NewAdminService(store AdminStore, cache driven.SearchCache, neighbors driving.NeighborService, analyzer *Analyzer, embedGW, llmGW ProviderStatuser) *AdminService {
	return &AdminService{
		store:     store,
		cache:     cache,
		neighbors: neighbors,
		analyzer:  analyzer,
		embedGW:   embedGW,
		llmGW:     llmGW,
	}
}

// RebuildSearchCache re-projects every active indexed document into the
// search cache from the primary store. Idempotent and safe online; the
// per-document version guard makes concurrent outbox traffic harmless.
func (a *AdminService) RebuildSearchCache(ctx context.Context) (int, error) {
	if a.cache == nil {
		return 0, domain.ErrCacheUnavailable
	}

	docs, err := a.store.ListIndexed(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, doc := range docs {
		chunks, err := a.store.GetChunks(ctx, doc.ID)
		if err != nil {
			return total, err
		}
		entries := make([]driven.CacheEntry, len(chunks))
		for i, c := range chunks {
			entries[i] = driven.CacheEntry{
				ChunkID:       c.ID,
				DocumentID:    doc.ID,
				DocVersion:    doc.Version,
				DocumentTitle: doc.Title,
				Category:      doc.Category,
				Domain:        doc.Domain,
				Language:      doc.Language,
				ArticleLabel:  c.ArticleLabel,
				Content:       c.Content,
				Vector:        c.Embedding,
				IndexedAt:     doc.IndexedAt,
			}
		}
		if err := a.cache.Upsert(ctx, entries); err != nil {
			return total, err
		}
		total += len(entries)
	}
	logger.Info("Rebuilt search cache: %d documents, %d chunks", len(docs), total)
	return total, nil
}

// InvalidateDocument evicts a document from both caches immediately.
func (a *AdminService) InvalidateDocument(ctx context.Context, documentID string) error {
	if a.cache != nil {
		if err := a.cache.Remove(ctx, documentID); err != nil {
			return err
		}
	}
	if a.neighbors != nil {
		return a.neighbors.Invalidate(ctx, documentID)
	}
	return nil
}

// Recluster runs the batch cluster analysis.
func (a *AdminService) Recluster(ctx context.Context) (int, error) {
	return a.analyzer.Recluster(ctx)
}

// Health reports provider breaker states, cache reachability and
// propagation lag.
func (a *AdminService) Health(ctx context.Context) (*driving.Health, error) {
	h := &driving.Health{}
	if a.embedGW != nil {
		h.EmbeddingProviders = a.embedGW.Status()
	}
	if a.llmGW != nil {
		h.LLMProviders = a.llmGW.Status()
	}

	if a.cache != nil {
		h.CacheReachable = a.cache.Ping(ctx) == nil
	}

	if depth, err := a.store.OutboxDepth(ctx); err == nil {
		h.OutboxDepth = depth
	}
	if lag, err := a.store.OldestOutboxAge(ctx); err == nil {
		h.CacheLag = lag
	}
	return h, nil
}
