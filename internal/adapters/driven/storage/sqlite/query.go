package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// filterClause builds the document-side WHERE fragment for search filters.
func filterClause(filters domain.SearchFilters) (string, []any) {
	var conds []string
	var args []any

	if filters.Category != "" {
		conds = append(conds, "d.category = ?")
		args = append(args, filters.Category)
	}
	if filters.Domain != "" {
		conds = append(conds, "d.domain = ?")
		args = append(args, filters.Domain)
	}
	if filters.Language != "" {
		conds = append(conds, "d.language = ?")
		args = append(args, filters.Language)
	}
	if len(filters.DocumentIDs) > 0 {
		placeholders := strings.Repeat("?,", len(filters.DocumentIDs))
		conds = append(conds, fmt.Sprintf("d.id IN (%s)", placeholders[:len(placeholders)-1]))
		for _, id := range filters.DocumentIDs {
			args = append(args, id)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

// TopK scans the embeddings of active indexed chunks and returns the k
// most cosine-similar to the query vector. A stored vector whose length
// differs from the query is a data-integrity failure, surfaced loudly
// rather than silently coerced.
func (s *Store) TopK(ctx context.Context, vector []float32, filters domain.SearchFilters, k int) ([]driven.ChunkHit, error) {
	where, args := filterClause(filters)

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.title, c.content, c.article_label,
		       c.embedding, c.dims, d.indexed_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.active = 1 AND d.status = 'indexed'`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	defer rows.Close()

	var hits []driven.ChunkHit
	for rows.Next() {
		var hit driven.ChunkHit
		var blob []byte
		var dims int
		var indexedAt sql.NullTime
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.DocumentTitle,
			&hit.Content, &hit.ArticleLabel, &blob, &dims, &indexedAt); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		if dims != len(vector) {
			logger.Error("Stored vector for chunk %s has %d dims, query has %d",
				hit.ChunkID, dims, len(vector))
			return nil, fmt.Errorf("%w: chunk %s stored %d dims, query %d",
				domain.ErrDimensionMismatch, hit.ChunkID, dims, len(vector))
		}
		if indexedAt.Valid {
			hit.IndexedAt = indexedAt.Time
		}
		hit.Score = cosineSimilarity(vector, bytesToFloat32Slice(blob))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// LexicalSearch runs an FTS5 query over active indexed chunks. The score
// is the negated bm25 rank, so higher is better.
func (s *Store) LexicalSearch(ctx context.Context, query string, filters domain.SearchFilters, k int) ([]driven.ChunkHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	where, args := filterClause(filters)

	sqlArgs := append([]any{match}, args...)
	sqlArgs = append(sqlArgs, k)

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.title, c.content, c.article_label,
		       -bm25(chunks_fts) AS score, d.indexed_at
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ? AND d.active = 1 AND d.status = 'indexed'`+where+`
		ORDER BY score DESC
		LIMIT ?`, sqlArgs...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []driven.ChunkHit
	for rows.Next() {
		var hit driven.ChunkHit
		var indexedAt sql.NullTime
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.DocumentTitle,
			&hit.Content, &hit.ArticleLabel, &hit.Score, &indexedAt); err != nil {
			return nil, fmt.Errorf("scanning lexical row: %w", err)
		}
		if indexedAt.Valid {
			hit.IndexedAt = indexedAt.Time
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ftsQuery sanitises user text into an FTS5 OR query of quoted terms.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// DocumentTopK runs document-level KNN over stored centroids, excluding
// the source document itself.
func (s *Store) DocumentTopK(ctx context.Context, documentID string, k int) ([]driven.DocumentHit, error) {
	var centroid []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT centroid FROM documents WHERE id = ? AND active = 1", documentID).Scan(&centroid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading centroid: %w", err)
	}
	source := bytesToFloat32Slice(centroid)
	if len(source) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, centroid FROM documents
		WHERE active = 1 AND status = 'indexed' AND id != ? AND centroid IS NOT NULL`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("centroid scan: %w", err)
	}
	defer rows.Close()

	var hits []driven.DocumentHit
	for rows.Next() {
		var hit driven.DocumentHit
		var blob []byte
		if err := rows.Scan(&hit.DocumentID, &hit.Title, &blob); err != nil {
			return nil, fmt.Errorf("scanning centroid row: %w", err)
		}
		other := bytesToFloat32Slice(blob)
		if len(other) != len(source) {
			return nil, fmt.Errorf("%w: document %s centroid has %d dims, source %d",
				domain.ErrDimensionMismatch, hit.DocumentID, len(other), len(source))
		}
		hit.Similarity = cosineSimilarity(source, other)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SaveClusterAssignments replaces the advisory cluster map atomically.
func (s *Store) SaveClusterAssignments(ctx context.Context, assignments []domain.ClusterAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cluster save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cluster_assignments"); err != nil {
		return fmt.Errorf("clearing clusters: %w", err)
	}

	now := time.Now().UTC()
	for _, a := range assignments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cluster_assignments (document_id, cluster_id, updated_at)
			VALUES (?, ?, ?)`, a.DocumentID, a.ClusterID, now)
		if err != nil {
			return fmt.Errorf("inserting cluster assignment: %w", err)
		}
	}

	return tx.Commit()
}

// GetClusterAssignment returns the cluster for a document.
func (s *Store) GetClusterAssignment(ctx context.Context, documentID string) (*domain.ClusterAssignment, error) {
	var a domain.ClusterAssignment
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, cluster_id, updated_at
		FROM cluster_assignments WHERE document_id = ?`, documentID).
		Scan(&a.DocumentID, &a.ClusterID, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading cluster assignment: %w", err)
	}
	return &a, nil
}
