// Package driving provides interfaces for use-case entry points (primary/inbound ports).
package driving

import (
	"context"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
)

// IngestRequest is the producer-to-core ingestion trigger.
type IngestRequest struct {
	// DocumentID identifies the logical document. Re-using an ID with
	// changed text re-ingests as a new version.
	DocumentID string

	// Title is the display title.
	Title string

	// Text is the raw document text from the producer.
	Text string

	// Category, Domain and Language classify the document.
	Category string
	Domain   string
	Language string

	// Hints carries optional structural metadata.
	Hints domain.StructureHints
}

// IngestResult reports the terminal state of one ingestion run.
type IngestResult struct {
	// Status is the resulting indexing status.
	Status domain.IndexStatus

	// QualityScore is the computed quality in [0,1].
	QualityScore float64

	// Version is the persisted content version.
	Version int64

	// Unchanged is true when the content hash matched the stored
	// version and the run was a no-op.
	Unchanged bool
}

// Ingestor is the ingestion pipeline entry point. At most one job runs
// per document ID; concurrent triggers for the same document coalesce
// into the in-flight job's result.
type Ingestor interface {
	IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error)
}
