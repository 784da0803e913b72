package domain

import "time"

// Neighbor is one entry of a document's nearest-neighbour list.
type Neighbor struct {
	// DocumentID is the neighbouring document.
	DocumentID string

	// Title is the neighbour's title, denormalised for display.
	Title string

	// Score is the cosine similarity between document centroids,
	// plus a small bonus when both documents share a cluster.
	Score float64
}

// NeighborEntry is a cached KNN result for one source document.
type NeighborEntry struct {
	// DocumentID is the source document.
	DocumentID string

	// Generation is the source document's version at compute time.
	// A recompute for an older generation never clobbers a newer entry.
	Generation int64

	// Neighbors is ordered by descending score.
	Neighbors []Neighbor

	// ComputedAt is when the entry was produced.
	ComputedAt time.Time
}

// ClusterAssignment maps a document to a semantic cluster.
// Advisory only: it enriches neighbour suggestions and never gates retrieval.
// ClusterID -1 marks noise (no cluster).
type ClusterAssignment struct {
	DocumentID string
	ClusterID  int
	UpdatedAt  time.Time
}
