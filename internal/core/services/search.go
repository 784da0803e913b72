package services

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

var _ driving.Searcher = (*Retriever)(nil)

// Retriever answers hybrid queries. The fast path hits the search cache
// under a short timeout; any cache trouble falls back to the primary
// store and marks the response degraded instead of failing it.
type Retriever struct {
	store    driven.DocumentStore
	cache    driven.SearchCache
	embedder driven.EmbeddingService
	rt       *config.Runtime
}

// NewRetriever wires the hybrid retriever. cache may be nil; the
// retriever then serves store-only degraded responses.
func NewRetriever(store driven.DocumentStore, cache driven.SearchCache, embedder driven.EmbeddingService, rt *config.Runtime) *Retriever {
	return &Retriever{
		store:    store,
		cache:    cache,
		embedder: embedder,
		rt:       rt,
	}
}

// merged accumulates the two signals for one chunk before weighting.
type merged struct {
	hit     driven.CacheHit
	vector  float64
	lexical float64
}

// Search combines vector similarity and lexical relevance into one
// ranking. An empty result set is a valid outcome.
func (r *Retriever) Search(ctx context.Context, query string, filters domain.SearchFilters, topK int, minScore float64) (*domain.SearchResponse, error) {
	if query == "" {
		return nil, domain.ErrInvalidInput
	}

	cfg := r.rt.Current()
	if topK <= 0 {
		topK = cfg.Search.DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.SearchBudget())
	defer cancel()

	// Vector leg needs a query embedding; if every provider is down we
	// can still serve a lexical-only degraded answer.
	vector, embedErr := r.embedder.Embed(ctx, query)
	if embedErr != nil {
		logger.Warn("Query embedding failed, lexical-only search: %v", embedErr)
	}

	if r.cache != nil && embedErr == nil {
		resp, err := r.searchCache(ctx, cfg, vector, query, filters, topK, minScore)
		if err == nil {
			return resp, nil
		}
		logger.Warn("Search cache unavailable, falling back to store: %v", err)
	}

	return r.searchStore(ctx, cfg, vector, query, filters, topK, minScore)
}

func (r *Retriever) searchCache(ctx context.Context, cfg *config.Config, vector []float32, query string, filters domain.SearchFilters, topK int, minScore float64) (*domain.SearchResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.CacheQueryTimeout())
	defer cancel()

	hits, err := r.cache.HybridQuery(cctx, vector, query, filters, topK*2)
	if err != nil {
		return nil, err
	}
	results := rank(hits.Vector, hits.Lexical, cfg.Search, topK, minScore)
	return &domain.SearchResponse{Results: results}, nil
}

// searchStore runs both legs against the primary store concurrently.
// The response is always marked degraded. Running out of query budget
// is not an error: whatever hits were gathered before the deadline are
// returned as a (possibly empty) degraded best-so-far set.
func (r *Retriever) searchStore(ctx context.Context, cfg *config.Config, vector []float32, query string, filters domain.SearchFilters, topK int, minScore float64) (*domain.SearchResponse, error) {
	var vecHits, lexHits []driven.ChunkHit

	g, gctx := errgroup.WithContext(ctx)
	if vector != nil {
		g.Go(func() error {
			var err error
			vecHits, err = r.store.TopK(gctx, vector, filters, topK*2)
			return err
		})
	}
	g.Go(func() error {
		var err error
		lexHits, err = r.store.LexicalSearch(gctx, query, filters, topK*2)
		return err
	})
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Warn("Query budget exhausted, returning best-so-far: %v", err)
	}

	results := rank(toCacheHits(vecHits), toCacheHits(lexHits), cfg.Search, topK, minScore)
	return &domain.SearchResponse{Results: results, Degraded: true}, nil
}

func toCacheHits(hits []driven.ChunkHit) []driven.CacheHit {
	out := make([]driven.CacheHit, len(hits))
	for i, h := range hits {
		out[i] = driven.CacheHit{
			ChunkID:       h.ChunkID,
			DocumentID:    h.DocumentID,
			DocumentTitle: h.DocumentTitle,
			ArticleLabel:  h.ArticleLabel,
			Content:       h.Content,
			Score:         h.Score,
			IndexedAt:     h.IndexedAt,
		}
	}
	return out
}

// rank merges the two signal sets into one weighted ranking. Lexical
// scores are normalised against the best lexical hit; vector scores are
// cosine similarities clamped to [0,1]. Ties break towards the more
// recently indexed chunk, then by chunk ID so equal queries always
// return the same ordering.
func rank(vecHits, lexHits []driven.CacheHit, s config.Search, topK int, minScore float64) []domain.SearchResult {
	byChunk := make(map[string]*merged)

	for _, h := range vecHits {
		score := h.Score
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		byChunk[h.ChunkID] = &merged{hit: h, vector: score}
	}

	var maxLex float64
	for _, h := range lexHits {
		if h.Score > maxLex {
			maxLex = h.Score
		}
	}
	for _, h := range lexHits {
		norm := 0.0
		if maxLex > 0 {
			norm = h.Score / maxLex
		}
		if m, ok := byChunk[h.ChunkID]; ok {
			m.lexical = norm
		} else {
			byChunk[h.ChunkID] = &merged{hit: h, lexical: norm}
		}
	}

	total := s.VectorWeight + s.LexicalWeight
	results := make([]domain.SearchResult, 0, len(byChunk))
	for _, m := range byChunk {
		score := (s.VectorWeight*m.vector + s.LexicalWeight*m.lexical) / total
		if score < minScore {
			continue
		}
		results = append(results, domain.SearchResult{
			ChunkID:       m.hit.ChunkID,
			DocumentID:    m.hit.DocumentID,
			DocumentTitle: m.hit.DocumentTitle,
			Content:       m.hit.Content,
			Score:         score,
			VectorScore:   m.vector,
			LexicalScore:  m.lexical,
			ArticleLabel:  m.hit.ArticleLabel,
		})
	}

	indexedAt := make(map[string]int64, len(byChunk))
	for _, m := range byChunk {
		indexedAt[m.hit.ChunkID] = m.hit.IndexedAt.Unix()
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if a, b := indexedAt[results[i].ChunkID], indexedAt[results[j].ChunkID]; a != b {
			return a > b
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
