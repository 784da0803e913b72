package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testDoc(id string, version int64) *domain.Document {
	return &domain.Document{
		ID:           id,
		Title:        "Code des obligations",
		Category:     "code",
		Domain:       "civil",
		Language:     "fr",
		Content:      "Article 1 contenu du premier article",
		ContentHash:  "hash-" + id,
		Version:      version,
		Status:       domain.StatusIndexed,
		QualityScore: 0.9,
		Centroid:     []float32{0.5, 0.5, 0},
		Active:       true,
	}
}

func testChunks(docID string, version int64, vectors ...[]float32) []domain.Chunk {
	chunks := make([]domain.Chunk, len(vectors))
	for i, v := range vectors {
		chunks[i] = domain.Chunk{
			ID:         docID + "-c" + string(rune('0'+i)),
			DocumentID: docID,
			DocVersion: version,
			Seq:        i,
			Start:      i * 10,
			End:        i*10 + 10,
			Content:    "pension alimentaire obligation contenu",
			Embedding:  v,
			Provider:   "ollama",
			Model:      "bge-m3",
		}
	}
	return chunks
}

func TestReplaceVersionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := testDoc("doc1", 1)
	chunks := testChunks("doc1", 1, []float32{1, 0, 0}, []float32{0, 1, 0})
	require.NoError(t, s.ReplaceVersion(ctx, doc, chunks))

	got, err := s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, domain.StatusIndexed, got.Status)
	assert.Equal(t, []float32{0.5, 0.5, 0}, got.Centroid)
	assert.True(t, got.Active)

	stored, err := s.GetChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, []float32{1, 0, 0}, stored[0].Embedding)
	assert.Equal(t, 0, stored[0].Seq)
}

func TestReplaceVersionSupersedesOldChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0}, []float32{0, 1, 0})))

	v2 := testChunks("doc1", 2, []float32{0, 0, 1})
	v2[0].ID = "doc1-v2-c0"
	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 2), v2))

	stored, err := s.GetChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(2), stored[0].DocVersion)
}

func TestReplaceVersionRejectsMixedDims(t *testing.T) {
	s := newTestStore(t)

	chunks := testChunks("doc1", 1, []float32{1, 0, 0}, []float32{0, 1})
	err := s.ReplaceVersion(context.Background(), testDoc("doc1", 1), chunks)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestGetDocumentNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocument(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopKOrdersBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0}, []float32{0, 1, 0}, []float32{0.9, 0.1, 0})))

	hits, err := s.TopK(ctx, []float32{1, 0, 0}, domain.SearchFilters{}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc1-c0", hits[0].ChunkID)
	assert.Equal(t, "doc1-c2", hits[1].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestTopKDimensionMismatchIsHardError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0})))

	_, err := s.TopK(ctx, []float32{1, 0, 0, 0}, domain.SearchFilters{}, 5)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestTopKFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0})))

	other := testDoc("doc2", 1)
	other.Category = "jurisprudence"
	require.NoError(t, s.ReplaceVersion(ctx, other,
		testChunks("doc2", 1, []float32{1, 0, 0})))

	hits, err := s.TopK(ctx, []float32{1, 0, 0}, domain.SearchFilters{Category: "code"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc1", hits[0].DocumentID)
}

func TestTopKExcludesUnindexedDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	review := testDoc("doc1", 1)
	review.Status = domain.StatusNeedsReview
	require.NoError(t, s.ReplaceVersion(ctx, review,
		testChunks("doc1", 1, []float32{1, 0, 0})))

	hits, err := s.TopK(ctx, []float32{1, 0, 0}, domain.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalSearchFindsTerms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0})))

	hits, err := s.LexicalSearch(ctx, "pension alimentaire", domain.SearchFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc1-c0", hits[0].ChunkID)
	assert.Greater(t, hits[0].Score, 0.0)

	none, err := s.LexicalSearch(ctx, "inexistant", domain.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeactivateExcludesFromQueriesAndEnqueuesEviction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0})))
	require.NoError(t, s.Deactivate(ctx, "doc1"))

	hits, err := s.TopK(ctx, []float32{1, 0, 0}, domain.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	tasks, err := s.DueOutbox(ctx, 10)
	require.NoError(t, err)
	var removes int
	for _, task := range tasks {
		if task.Op == driven.OutboxOpRemove {
			removes++
		}
	}
	assert.Equal(t, 1, removes)
}

func TestDocumentTopK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testDoc("a", 1)
	a.Centroid = []float32{1, 0, 0}
	b := testDoc("b", 1)
	b.Centroid = []float32{0.9, 0.1, 0}
	c := testDoc("c", 1)
	c.Centroid = []float32{0, 1, 0}
	for _, doc := range []*domain.Document{a, b, c} {
		require.NoError(t, s.ReplaceVersion(ctx, doc,
			testChunks(doc.ID, 1, []float32{1, 0, 0})))
	}

	hits, err := s.DocumentTopK(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].DocumentID)
	assert.Less(t, hits[1].Similarity, hits[0].Similarity)
}

func TestOutboxLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0})))

	tasks, err := s.DueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, driven.OutboxOpUpsert, tasks[0].Op)
	assert.Equal(t, int64(1), tasks[0].DocVersion)

	depth, err := s.OutboxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	require.NoError(t, s.CompleteOutbox(ctx, tasks[0].ID))
	depth, err = s.OutboxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestOutboxRetryDropsAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0})))

	tasks, err := s.DueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	id := tasks[0].ID

	// Two retries survive with maxAttempts=3, the third drops the task.
	require.NoError(t, s.RetryOutbox(ctx, id, 0, 3))
	require.NoError(t, s.RetryOutbox(ctx, id, 0, 3))
	require.NoError(t, s.RetryOutbox(ctx, id, 0, 3))

	depth, err := s.OutboxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestOldestOutboxAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty outbox is fully caught up, not an error.
	age, err := s.OldestOutboxAge(ctx)
	require.NoError(t, err)
	assert.Zero(t, age)

	require.NoError(t, s.ReplaceVersion(ctx, testDoc("doc1", 1),
		testChunks("doc1", 1, []float32{1, 0, 0})))

	age, err = s.OldestOutboxAge(ctx)
	require.NoError(t, err)
	assert.Greater(t, age, time.Duration(0))
}

func TestOldestOutboxAgePropagatesScanErrors(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// A broken store must not masquerade as zero lag.
	_, err = s.OldestOutboxAge(context.Background())
	assert.Error(t, err)
}

func TestClusterAssignmentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assignments := []domain.ClusterAssignment{
		{DocumentID: "a", ClusterID: 0},
		{DocumentID: "b", ClusterID: 0},
		{DocumentID: "c", ClusterID: 1},
	}
	require.NoError(t, s.SaveClusterAssignments(ctx, assignments))

	got, err := s.GetClusterAssignment(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ClusterID)

	_, err = s.GetClusterAssignment(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// A re-save fully replaces the previous map.
	require.NoError(t, s.SaveClusterAssignments(ctx,
		[]domain.ClusterAssignment{{DocumentID: "a", ClusterID: 5}}))
	_, err = s.GetClusterAssignment(ctx, "b")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0.1, -2.5, 3.25, 0}
	out := bytesToFloat32Slice(float32SliceToBytes(in))
	assert.Equal(t, in, out)

	assert.Nil(t, float32SliceToBytes(nil))
	assert.Nil(t, bytesToFloat32Slice(nil))
}
