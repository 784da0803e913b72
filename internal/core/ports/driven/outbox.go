package driven

import (
	"context"
	"time"
)

// Outbox operations describing what to propagate to the search cache.
const (
	OutboxOpUpsert = "upsert"
	OutboxOpRemove = "remove"
)

// OutboxTask is one pending cache-propagation unit. Tasks are enqueued
// inside the ingestion transaction so that a crash between commit and
// propagation is recoverable by replaying the outbox.
type OutboxTask struct {
	// ID is the task identifier.
	ID string

	// DocumentID is the document whose cache projection must change.
	DocumentID string

	// DocVersion stamps the task so a slow propagation of an older
	// version cannot clobber a newer cache entry.
	DocVersion int64

	// Op is OutboxOpUpsert or OutboxOpRemove.
	Op string

	// Attempts counts delivery attempts so far.
	Attempts int

	// NextAttemptAt gates retry scheduling.
	NextAttemptAt time.Time
}

// OutboxStore manages the cache-propagation outbox. Implemented by the
// SQLite store so enqueueing shares the ingestion transaction.
type OutboxStore interface {
	// DueOutbox returns up to limit tasks whose retry time has passed,
	// oldest first.
	DueOutbox(ctx context.Context, limit int) ([]OutboxTask, error)

	// CompleteOutbox removes a delivered task.
	CompleteOutbox(ctx context.Context, id string) error

	// RetryOutbox increments the attempt counter and reschedules the
	// task, or drops it once maxAttempts is reached.
	RetryOutbox(ctx context.Context, id string, delay time.Duration, maxAttempts int) error

	// OutboxDepth reports the number of pending tasks, for health probes.
	OutboxDepth(ctx context.Context) (int, error)
}
