package driving

import (
	"context"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
)

// Searcher answers hybrid retrieval queries for the assistant.
type Searcher interface {
	// Search combines vector similarity and lexical relevance into one
	// ranking. Results below minScore are dropped; an empty set is a
	// valid outcome. The response is Degraded (never an error) when the
	// cache was unavailable or the query budget was exceeded.
	Search(ctx context.Context, query string, filters domain.SearchFilters, topK int, minScore float64) (*domain.SearchResponse, error)
}

// NeighborService serves per-document nearest-neighbour suggestions.
type NeighborService interface {
	// NeighborsOf returns the TTL-cached neighbour list for a document,
	// recomputing from the primary store on miss or expiry.
	NeighborsOf(ctx context.Context, documentID string) ([]domain.Neighbor, error)

	// Invalidate force-evicts the document's entry and every entry it
	// appears in, without waiting for TTL.
	Invalidate(ctx context.Context, documentID string) error
}
