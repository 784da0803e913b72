// Package services implements the engine use cases behind the driving
// ports: ingestion, hybrid retrieval, neighbour suggestions, cluster
// analysis, cache propagation and administration.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/lexikon-ai/kbengine/internal/chunker"
	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

var _ driving.Ingestor = (*Indexer)(nil)

// Indexer runs the ingestion pipeline: normalise, hash, chunk, embed,
// persist. At most one job runs per document ID; concurrent triggers
// coalesce into the in-flight job's result.
type Indexer struct {
	store     driven.DocumentStore
	embedder  driven.EmbeddingService
	extractor driven.TextExtractor
	neighbors driving.NeighborService
	rt        *config.Runtime

	inflight singleflight.Group
}

// NewIndexer wires the ingestion pipeline. neighbors may be nil when the
// neighbour cache is disabled.
func NewIndexer(store driven.DocumentStore, embedder driven.EmbeddingService, extractor driven.TextExtractor, neighbors driving.NeighborService, rt *config.Runtime) *Indexer {
	return &Indexer{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		neighbors: neighbors,
		rt:        rt,
	}
}

// IngestDocument ingests one document version end to end. Re-ingesting
// unchanged content is a no-op; changed content persists as a new
// version whose chunks atomically supersede the old ones.
func (ix *Indexer) IngestDocument(ctx context.Context, req driving.IngestRequest) (*driving.IngestResult, error) {
	if req.DocumentID == "" || req.Title == "" {
		return nil, fmt.Errorf("%w: document id and title are required", domain.ErrInvalidInput)
	}

	v, err, _ := ix.inflight.Do(req.DocumentID, func() (interface{}, error) {
		return ix.ingest(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*driving.IngestResult), nil
}

func (ix *Indexer) ingest(ctx context.Context, req driving.IngestRequest) (*driving.IngestResult, error) {
	cfg := ix.rt.Current()

	maxDuration := time.Duration(cfg.Ingestion.MaxDurationSeconds) * time.Second
	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	logger.Section(fmt.Sprintf("Ingest %s", req.DocumentID))

	text, err := ix.extractor.Extract(ctx, req.Text)
	if err != nil {
		ix.markFailed(req.DocumentID)
		return nil, fmt.Errorf("extracting text: %w", err)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: document text is empty", domain.ErrInvalidInput)
	}

	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])

	prev, err := ix.store.GetDocument(ctx, req.DocumentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	if prev != nil && prev.ContentHash == hash && prev.Status != domain.StatusFailed {
		logger.Debug("Content hash unchanged for %s, skipping", req.DocumentID)
		return &driving.IngestResult{
			Status:       prev.Status,
			QualityScore: prev.QualityScore,
			Version:      prev.Version,
			Unchanged:    true,
		}, nil
	}

	version := int64(1)
	if prev != nil {
		version = prev.Version + 1
	}

	pieces, err := chunker.New(cfg.Chunking).Chunk(text, req.Category, req.Hints)
	if err != nil {
		ix.markFailed(req.DocumentID)
		return nil, fmt.Errorf("chunking: %w", err)
	}
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: document produced no chunks", domain.ErrInvalidInput)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		ix.markFailed(req.DocumentID)
		return nil, fmt.Errorf("embedding %d chunks: %w", len(pieces), err)
	}

	quality := qualityScore(text, pieces, req.Category)
	status := domain.StatusIndexed
	if quality < cfg.Quality.Threshold {
		status = domain.StatusNeedsReview
		logger.Warn("Document %s quality %.2f below threshold %.2f, routing to review",
			req.DocumentID, quality, cfg.Quality.Threshold)
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:           req.DocumentID,
		Title:        req.Title,
		Category:     req.Category,
		Domain:       req.Domain,
		Language:     req.Language,
		Content:      text,
		ContentHash:  hash,
		Version:      version,
		Status:       status,
		QualityScore: quality,
		Centroid:     centroid(embeddings),
		Active:       true,
		IndexedAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if prev != nil {
		doc.CreatedAt = prev.CreatedAt
	}

	chunks := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			ID:           uuid.NewString(),
			DocumentID:   req.DocumentID,
			DocVersion:   version,
			Seq:          p.Seq,
			Start:        p.Start,
			End:          p.End,
			ArticleLabel: p.ArticleLabel,
			Content:      p.Content,
			Embedding:    embeddings[i],
			Provider:     ix.embedder.Name(),
		}
	}

	if err := ix.store.ReplaceVersion(ctx, doc, chunks); err != nil {
		ix.markFailed(req.DocumentID)
		return nil, fmt.Errorf("persisting version %d: %w", version, err)
	}

	// The document's centroid moved, so its neighbour lists are stale.
	if ix.neighbors != nil {
		if err := ix.neighbors.Invalidate(ctx, req.DocumentID); err != nil {
			logger.Warn("Invalidating neighbours of %s: %v", req.DocumentID, err)
		}
	}

	logger.Info("Ingested %s v%d: %d chunks, quality %.2f, status %s",
		req.DocumentID, version, len(chunks), quality, status)

	return &driving.IngestResult{
		Status:       status,
		QualityScore: quality,
		Version:      version,
	}, nil
}

// markFailed records a failed run on an existing document. A document
// that never made it into the store has nothing to mark.
func (ix *Indexer) markFailed(documentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ix.store.SetStatus(ctx, documentID, domain.StatusFailed, 0); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("Marking %s failed: %v", documentID, err)
	}
}

// centroid returns the component mean of the chunk embeddings.
func centroid(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	out := make([]float32, len(embeddings[0]))
	for _, e := range embeddings {
		for i, v := range e {
			out[i] += v
		}
	}
	n := float32(len(embeddings))
	for i := range out {
		out[i] /= n
	}
	return out
}

// qualityScore estimates extraction quality in [0,1] from text and
// chunking shape. Low scores usually mean a botched upstream extraction:
// binary noise, truncated text or a wall of unstructured characters.
func qualityScore(text string, pieces []chunker.Piece, category string) float64 {
	// Length: very short documents carry little retrievable signal.
	lengthScore := float64(len(text)) / 2000
	if lengthScore > 1 {
		lengthScore = 1
	}

	// Letter ratio: extraction noise shows up as symbol soup.
	var letters, total int
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			letters++
		}
	}
	letterScore := 0.0
	if total > 0 {
		letterScore = float64(letters) / float64(total)
	}

	// Structure: code-like categories should have yielded labelled chunks.
	structureScore := 1.0
	if category == "code" || category == "codes" {
		labelled := 0
		for _, p := range pieces {
			if strings.TrimSpace(p.ArticleLabel) != "" {
				labelled++
			}
		}
		structureScore = float64(labelled) / float64(len(pieces))
	}

	return 0.3*lengthScore + 0.4*letterScore + 0.3*structureScore
}
