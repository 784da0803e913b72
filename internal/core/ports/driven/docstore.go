package driven

import (
	"context"
	"time"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
)

// DocumentStore persists documents, chunks and embeddings.
// Backed by SQLite. This is the source of truth: it is the only port
// allowed to mutate durable state, and it enforces atomically that a
// newer document version invalidates the older version's chunks.
type DocumentStore interface {
	// GetDocument retrieves a document by ID (content included).
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ReplaceVersion persists a new document version together with its
	// chunks and embeddings in a single transaction, superseding any
	// chunks of earlier versions. Outbox rows for cache propagation are
	// written in the same transaction.
	ReplaceVersion(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error

	// SetStatus updates the document's indexing status and quality score.
	SetStatus(ctx context.Context, id string, status domain.IndexStatus, quality float64) error

	// Deactivate logically retires a document from retrieval.
	Deactivate(ctx context.Context, id string) error

	// GetChunks retrieves the current-version chunks of a document.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// GetChunk retrieves a specific chunk by ID.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// ListIndexed streams all active, indexed documents. Used by the
	// cache rebuild and the cluster analyzer.
	ListIndexed(ctx context.Context) ([]domain.Document, error)

	// TopK runs a cosine-similarity scan over active indexed chunks.
	// All stored vectors must share the query's dimensionality; a
	// mismatch surfaces domain.ErrDimensionMismatch.
	TopK(ctx context.Context, vector []float32, filters domain.SearchFilters, k int) ([]ChunkHit, error)

	// LexicalSearch runs a full-text query over active indexed chunks.
	LexicalSearch(ctx context.Context, query string, filters domain.SearchFilters, k int) ([]ChunkHit, error)

	// DocumentTopK runs document-level KNN over stored centroids,
	// excluding the given document itself.
	DocumentTopK(ctx context.Context, documentID string, k int) ([]DocumentHit, error)

	// SaveClusterAssignments replaces the advisory cluster map.
	SaveClusterAssignments(ctx context.Context, assignments []domain.ClusterAssignment) error

	// GetClusterAssignment returns the cluster for a document, or
	// domain.ErrNotFound when the document is unassigned.
	GetClusterAssignment(ctx context.Context, documentID string) (*domain.ClusterAssignment, error)

	// Close releases resources.
	Close() error
}

// ChunkHit is a ranked chunk from a store-side query primitive.
type ChunkHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// DocumentID is the chunk's parent document.
	DocumentID string

	// DocumentTitle is denormalised for hydration-free results.
	DocumentTitle string

	// Content is the chunk text.
	Content string

	// ArticleLabel is the structural label, if any.
	ArticleLabel string

	// Score is the raw signal score (cosine similarity or bm25 rank).
	Score float64

	// IndexedAt is the parent document's indexing time, for recency
	// tie-breaking.
	IndexedAt time.Time
}

// DocumentHit is a ranked document from a centroid KNN query.
type DocumentHit struct {
	DocumentID string
	Title      string
	Similarity float64
}
