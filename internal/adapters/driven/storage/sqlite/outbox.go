package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// DueOutbox returns up to limit tasks whose retry time has passed,
// oldest first.
func (s *Store) DueOutbox(ctx context.Context, limit int) ([]driven.OutboxTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, doc_version, op, attempts, next_attempt_at
		FROM cache_outbox
		WHERE next_attempt_at <= CURRENT_TIMESTAMP
		ORDER BY created_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var tasks []driven.OutboxTask
	for rows.Next() {
		var t driven.OutboxTask
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.DocVersion, &t.Op,
			&t.Attempts, &t.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("scanning outbox task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CompleteOutbox removes a delivered task.
func (s *Store) CompleteOutbox(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache_outbox WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("completing outbox task: %w", err)
	}
	return nil
}

// RetryOutbox reschedules a failed task, dropping it after maxAttempts.
// A dropped task is logged: the cache stays consistent through the next
// full rebuild, and retrieval keeps working via the store fallback.
func (s *Store) RetryOutbox(ctx context.Context, id string, delay time.Duration, maxAttempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cache_outbox
		SET attempts = attempts + 1, next_attempt_at = ?
		WHERE id = ? AND attempts + 1 < ?`,
		time.Now().UTC().Add(delay), id, maxAttempts)
	if err != nil {
		return fmt.Errorf("rescheduling outbox task: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		logger.Warn("Outbox task %s dropped after %d attempts", id, maxAttempts)
		_, err := s.db.ExecContext(ctx, "DELETE FROM cache_outbox WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("dropping outbox task: %w", err)
		}
	}
	return nil
}

// OutboxDepth reports the number of pending tasks.
func (s *Store) OutboxDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_outbox").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting outbox: %w", err)
	}
	return n, nil
}

// OldestOutboxAge returns how long the oldest pending task has waited,
// which is the cache's freshness lag upper bound. Zero when empty.
func (s *Store) OldestOutboxAge(ctx context.Context) (time.Duration, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT created_at FROM cache_outbox ORDER BY created_at LIMIT 1").Scan(&created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Empty outbox means the cache is fully caught up.
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("reading oldest outbox task: %w", err)
	}
	return time.Since(created), nil
}
