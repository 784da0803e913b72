package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
)

// GetDocument retrieves a document by ID, content included.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, category, domain, language, content, content_hash,
		       version, status, quality_score, centroid, active,
		       indexed_at, created_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ReplaceVersion persists a new document version with its chunks in one
// transaction: the document row is upserted, all chunks of earlier
// versions are removed (from both the chunk table and the lexical
// index), the new chunks are inserted, and an outbox task for cache
// propagation is enqueued. All-or-nothing per document version.
func (s *Store) ReplaceVersion(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	dims := 0
	for _, c := range chunks {
		if dims == 0 {
			dims = len(c.Embedding)
		}
		if len(c.Embedding) != dims {
			return fmt.Errorf("%w: chunk %s has %d dims, expected %d",
				domain.ErrDimensionMismatch, c.ID, len(c.Embedding), dims)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace version: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, category, domain, language, content,
			content_hash, version, status, quality_score, centroid, dims,
			active, indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			domain = excluded.domain,
			language = excluded.language,
			content = excluded.content,
			content_hash = excluded.content_hash,
			version = excluded.version,
			status = excluded.status,
			quality_score = excluded.quality_score,
			centroid = excluded.centroid,
			dims = excluded.dims,
			active = 1,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Category, doc.Domain, doc.Language, doc.Content,
		doc.ContentHash, doc.Version, string(doc.Status), doc.QualityScore,
		float32SliceToBytes(doc.Centroid), dims, now, now, now)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	// Superseded chunks are invalidated, never updated in place.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks_fts WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("clearing lexical index: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}

	for _, c := range chunks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, doc_version, seq, start_off,
				end_off, article_label, content, embedding, provider, model, dims)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.DocVersion, c.Seq, c.Start, c.End,
			c.ArticleLabel, c.Content, float32SliceToBytes(c.Embedding),
			c.Provider, c.Model, len(c.Embedding))
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Seq, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks_fts (content, title, chunk_id, document_id)
			VALUES (?, ?, ?, ?)`,
			c.Content, doc.Title, c.ID, doc.ID)
		if err != nil {
			return fmt.Errorf("indexing chunk %d: %w", c.Seq, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_outbox (id, document_id, doc_version, op)
		VALUES (?, ?, ?, ?)`,
		uuid.New().String(), doc.ID, doc.Version, driven.OutboxOpUpsert)
	if err != nil {
		return fmt.Errorf("enqueueing outbox task: %w", err)
	}

	return tx.Commit()
}

// SetStatus updates the document's indexing status and quality score.
func (s *Store) SetStatus(ctx context.Context, id string, status domain.IndexStatus, quality float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, quality_score = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(status), quality, id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Deactivate logically retires a document and enqueues cache eviction.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivating document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_outbox (id, document_id, doc_version, op)
		SELECT ?, id, version, ? FROM documents WHERE id = ?`,
		uuid.New().String(), driven.OutboxOpRemove, id)
	if err != nil {
		return fmt.Errorf("enqueueing eviction: %w", err)
	}

	return tx.Commit()
}

// GetChunks retrieves the current-version chunks of a document, in order.
func (s *Store) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, doc_version, seq, start_off, end_off,
		       article_label, content, embedding, provider, model
		FROM chunks WHERE document_id = ? ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// GetChunk retrieves a specific chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, doc_version, seq, start_off, end_off,
		       article_label, content, embedding, provider, model
		FROM chunks WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying chunk: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, domain.ErrNotFound
	}
	return scanChunk(rows)
}

// ListIndexed returns all active, indexed documents without content,
// centroids included. Used by the cache rebuild and the cluster analyzer.
func (s *Store) ListIndexed(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, category, domain, language, '', content_hash,
		       version, status, quality_score, centroid, active,
		       indexed_at, created_at, updated_at
		FROM documents
		WHERE active = 1 AND status = 'indexed'
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing indexed documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func scanDocument(row *sql.Row) (*domain.Document, error) {
	var doc domain.Document
	var status string
	var centroid []byte
	var indexedAt sql.NullTime

	err := row.Scan(&doc.ID, &doc.Title, &doc.Category, &doc.Domain,
		&doc.Language, &doc.Content, &doc.ContentHash, &doc.Version,
		&status, &doc.QualityScore, &centroid, &doc.Active,
		&indexedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Status = domain.IndexStatus(status)
	doc.Centroid = bytesToFloat32Slice(centroid)
	if indexedAt.Valid {
		doc.IndexedAt = indexedAt.Time
	}
	return &doc, nil
}

func scanDocumentRows(rows *sql.Rows) (*domain.Document, error) {
	var doc domain.Document
	var status string
	var centroid []byte
	var indexedAt sql.NullTime

	err := rows.Scan(&doc.ID, &doc.Title, &doc.Category, &doc.Domain,
		&doc.Language, &doc.Content, &doc.ContentHash, &doc.Version,
		&status, &doc.QualityScore, &centroid, &doc.Active,
		&indexedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Status = domain.IndexStatus(status)
	doc.Centroid = bytesToFloat32Slice(centroid)
	if indexedAt.Valid {
		doc.IndexedAt = indexedAt.Time
	}
	return &doc, nil
}

func scanChunk(rows *sql.Rows) (*domain.Chunk, error) {
	var c domain.Chunk
	var embedding []byte

	err := rows.Scan(&c.ID, &c.DocumentID, &c.DocVersion, &c.Seq,
		&c.Start, &c.End, &c.ArticleLabel, &c.Content, &embedding,
		&c.Provider, &c.Model)
	if err != nil {
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	c.Embedding = bytesToFloat32Slice(embedding)
	return &c, nil
}
