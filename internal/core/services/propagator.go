package services

import (
	"context"
	"fmt"
	"time"

	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// PropagatorStore is the store surface the propagator needs: document
// reads plus the outbox the ingestion transaction writes to.
type PropagatorStore interface {
	driven.OutboxStore
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
}

// Propagator drains the cache-propagation outbox: after every committed
// ingestion it projects the document's current store state into the
// search cache. Delivery is at-least-once and idempotent; a task that
// keeps failing is retried with exponential backoff and dropped after
// the configured attempt limit.
type Propagator struct {
	store PropagatorStore
	cache driven.SearchCache
	rt    *config.Runtime
}

// NewPropagator wires the outbox worker.
func NewPropagator(store PropagatorStore, cache driven.SearchCache, rt *config.Runtime) *Propagator {
	return &Propagator{store: store, cache: cache, rt: rt}
}

// Run polls the outbox until the context is cancelled.
func (p *Propagator) Run(ctx context.Context) {
	for {
		interval := time.Duration(p.rt.Current().Outbox.PollIntervalMS) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if _, err := p.ProcessOnce(ctx); err != nil {
			logger.Warn("Outbox pass failed: %v", err)
		}
	}
}

// ProcessOnce handles one batch of due tasks and returns how many were
// completed. Exposed for the shutdown drain and tests.
func (p *Propagator) ProcessOnce(ctx context.Context) (int, error) {
	cfg := p.rt.Current()

	tasks, err := p.store.DueOutbox(ctx, cfg.Outbox.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing due tasks: %w", err)
	}

	done := 0
	for _, task := range tasks {
		if err := p.deliver(ctx, task); err != nil {
			logger.Warn("Outbox task %s (%s %s) failed on attempt %d: %v",
				task.ID, task.Op, task.DocumentID, task.Attempts+1, err)
			backoff := time.Duration(cfg.Outbox.BackoffBaseMS) * time.Millisecond << task.Attempts
			if rerr := p.store.RetryOutbox(ctx, task.ID, backoff, cfg.Outbox.MaxAttempts); rerr != nil {
				logger.Error("Rescheduling outbox task %s: %v", task.ID, rerr)
			}
			continue
		}
		if err := p.store.CompleteOutbox(ctx, task.ID); err != nil {
			logger.Error("Completing outbox task %s: %v", task.ID, err)
			continue
		}
		done++
	}
	return done, nil
}

// deliver projects the document's current store state into the cache.
// Upsert tasks re-read the store rather than carrying a payload, so a
// newer version committed after enqueueing makes the older task a
// harmless duplicate of the newer one.
func (p *Propagator) deliver(ctx context.Context, task driven.OutboxTask) error {
	if task.Op == driven.OutboxOpRemove {
		return p.cache.Remove(ctx, task.DocumentID)
	}

	doc, err := p.store.GetDocument(ctx, task.DocumentID)
	if err != nil {
		return err
	}
	if !doc.Active || doc.Status != domain.StatusIndexed {
		// Deactivated or withheld since the task was enqueued.
		return p.cache.Remove(ctx, task.DocumentID)
	}

	chunks, err := p.store.GetChunks(ctx, task.DocumentID)
	if err != nil {
		return err
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
	return p.cache.Upsert(ctx, entries)
}
