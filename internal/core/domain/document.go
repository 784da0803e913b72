package domain

import "time"

// IndexStatus tracks where a document sits in its ingestion lifecycle.
type IndexStatus string

const (
	// StatusPending means the document has been received but not yet indexed.
	StatusPending IndexStatus = "pending"

	// StatusIndexed means the document is fully ingested and retrievable.
	StatusIndexed IndexStatus = "indexed"

	// StatusFailed means the last ingestion attempt failed; safe to retry.
	StatusFailed IndexStatus = "failed"

	// StatusNeedsReview means the document was ingested but its quality score
	// fell below the configured threshold. It is withheld from retrieval
	// until cleared by a reviewer or a re-analysis pass.
	StatusNeedsReview IndexStatus = "needs_review"
)

// Document represents a logical unit of legal text in the knowledge base.
// It is owned by the ingestion pipeline: retrieval never mutates it, and
// content changes always arrive as a re-ingestion that bumps Version.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Title is the human-readable title.
	Title string

	// Category is the document category (code, jurisprudence, doctrine, modele).
	Category string

	// Domain is the legal domain tag (configuration data, opaque to the core).
	Domain string

	// Language is the document language code ("fr", "ar").
	Language string

	// Content is the full normalised text before chunking.
	Content string

	// ContentHash is the SHA-256 of Content, used for idempotent re-ingestion.
	ContentHash string

	// Version increases monotonically on every content change.
	// Chunks belong to exactly one version; a new version invalidates
	// the previous version's chunks rather than updating them in place.
	Version int64

	// Status is the current indexing status.
	Status IndexStatus

	// QualityScore is the computed extraction quality in [0,1].
	QualityScore float64

	// Centroid is the mean of the document's chunk embeddings, used for
	// document-level KNN. Empty until the document is first indexed.
	Centroid []float32

	// Active is false once the document has been logically retired.
	// Retired documents are excluded from retrieval but never hard-deleted
	// synchronously, so in-flight queries holding references stay valid.
	Active bool

	// IndexedAt is when the current version finished indexing.
	IndexedAt time.Time

	// CreatedAt is when the document was first ingested.
	CreatedAt time.Time

	// UpdatedAt is when the document was last touched.
	UpdatedAt time.Time
}

// Chunk is a contiguous slice of one document version's text, the unit of
// retrieval. Chunks are immutable once persisted.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// DocVersion is the document version this chunk belongs to.
	DocVersion int64

	// Seq is the ordinal position within the document, contiguous from 0.
	Seq int

	// Start and End are character offsets into the document content.
	Start int
	End   int

	// ArticleLabel is the structural label ("article 12") when the chunk
	// was produced by the article-aware strategy, empty otherwise.
	ArticleLabel string

	// Content is the chunk text.
	Content string

	// Embedding is the vector representation for semantic search.
	Embedding []float32

	// Provider and Model identify what produced the embedding.
	Provider string
	Model    string
}

// StructureHints carries optional structural metadata supplied by the
// document producer, used to pick and steer the chunking strategy.
type StructureHints struct {
	// ArticleOffsets are character offsets of article starts, when the
	// producer already knows the document structure.
	ArticleOffsets []int

	// HasArticles indicates the text exposes numbered articles even if
	// exact offsets are unknown; the chunker then detects them itself.
	HasArticles bool
}
