package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

var _ driving.NeighborService = (*Neighbors)(nil)

// Neighbors serves per-document nearest-neighbour suggestions from a
// TTL cache, recomputing from store centroids on miss. A cluster match
// nudges a neighbour's score upward; clustering stays advisory.
type Neighbors struct {
	store driven.DocumentStore
	cache driven.NeighborCache
	rt    *config.Runtime

	recompute singleflight.Group
}

// NewNeighbors wires the neighbour service. cache may be nil; every
// lookup then recomputes.
func NewNeighbors(store driven.DocumentStore, cache driven.NeighborCache, rt *config.Runtime) *Neighbors {
	return &Neighbors{store: store, cache: cache, rt: rt}
}

// NeighborsOf returns the neighbour list for a document. Concurrent
// misses for the same document coalesce into one recomputation.
func (n *Neighbors) NeighborsOf(ctx context.Context, documentID string) ([]domain.Neighbor, error) {
	if n.cache != nil {
		entry, err := n.cache.Get(ctx, documentID)
		if err == nil {
			return entry.Neighbors, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Neighbour cache read failed for %s: %v", documentID, err)
		}
	}

	v, err, _ := n.recompute.Do(documentID, func() (interface{}, error) {
		return n.compute(ctx, documentID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Neighbor), nil
}

func (n *Neighbors) compute(ctx context.Context, documentID string) ([]domain.Neighbor, error) {
	cfg := n.rt.Current()

	doc, err := n.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	// Over-fetch so the similarity floor does not starve the list.
	hits, err := n.store.DocumentTopK(ctx, documentID, cfg.Neighbors.MaxNeighbors*2)
	if err != nil {
		return nil, err
	}

	ownCluster := n.clusterOf(ctx, documentID)

	neighbors := make([]domain.Neighbor, 0, cfg.Neighbors.MaxNeighbors)
	for _, h := range hits {
		if h.Similarity < cfg.Neighbors.MinSimilarity {
			continue
		}
		score := h.Similarity
		if ownCluster >= 0 && n.clusterOf(ctx, h.DocumentID) == ownCluster {
			score += cfg.Neighbors.ClusterBonus
			if score > 1 {
				score = 1
			}
		}
		neighbors = append(neighbors, domain.Neighbor{
			DocumentID: h.DocumentID,
			Title:      h.Title,
			Score:      score,
		})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Score > neighbors[j].Score
	})
	if len(neighbors) > cfg.Neighbors.MaxNeighbors {
		neighbors = neighbors[:cfg.Neighbors.MaxNeighbors]
	}

	if n.cache != nil {
		entry := &domain.NeighborEntry{
			DocumentID: documentID,
			Generation: doc.Version,
			Neighbors:  neighbors,
			ComputedAt: time.Now().UTC(),
		}
		if err := n.cache.Put(ctx, entry, n.rt.Current().NeighborTTL()); err != nil {
			logger.Warn("Neighbour cache write failed for %s: %v", documentID, err)
		}
	}
	return neighbors, nil
}

// clusterOf returns the document's cluster, or -1 for noise/unassigned.
func (n *Neighbors) clusterOf(ctx context.Context, documentID string) int {
	a, err := n.store.GetClusterAssignment(ctx, documentID)
	if err != nil {
		return -1
	}
	return a.ClusterID
}

// Invalidate evicts the document's entry and every entry it appears in.
func (n *Neighbors) Invalidate(ctx context.Context, documentID string) error {
	if n.cache == nil {
		return nil
	}
	return n.cache.Invalidate(ctx, documentID)
}
