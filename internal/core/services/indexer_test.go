package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
)

const sampleText = `La pension alimentaire est fixée selon les besoins de l'enfant et les
ressources des parents. Le juge peut la réviser à tout moment lorsque la
situation de l'une des parties change de manière significative. Elle est
due jusqu'à la majorité de l'enfant, et au-delà lorsqu'il poursuit des
études sérieuses.`

func sampleRequest() driving.IngestRequest {
	return driving.IngestRequest{
		DocumentID: "doc-1",
		Title:      "Pension alimentaire",
		Text:       sampleText,
		Category:   "jurisprudence",
		Domain:     "famille",
		Language:   "fr",
	}
}

func newTestIndexer(store *memStore) (*Indexer, *memNeighborCache) {
	ncache := newMemNeighborCache()
	rt := testRuntime()
	neighbors := NewNeighbors(store, ncache, rt)
	ix := NewIndexer(store, &stubEmbedder{dims: 8}, &stubExtractor{}, neighbors, rt)
	return ix, ncache
}

func TestIngestNewDocument(t *testing.T) {
	store := newMemStore()
	ix, _ := newTestIndexer(store)

	res, err := ix.IngestDocument(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, res.Status)
	assert.Equal(t, int64(1), res.Version)
	assert.False(t, res.Unchanged)
	assert.Greater(t, res.QualityScore, 0.5)

	doc, err := store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, doc.Status)
	assert.NotEmpty(t, doc.ContentHash)
	assert.NotEmpty(t, doc.Centroid)

	chunks, err := store.GetChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, int64(1), c.DocVersion)
		assert.NotEmpty(t, c.Embedding)
		assert.Equal(t, "stub", c.Provider)
	}

	// The committed transaction left a propagation task behind.
	depth, err := store.OutboxDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestIngestUnchangedContentIsNoOp(t *testing.T) {
	store := newMemStore()
	ix, _ := newTestIndexer(store)

	_, err := ix.IngestDocument(context.Background(), sampleRequest())
	require.NoError(t, err)

	res, err := ix.IngestDocument(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, res.Unchanged)
	assert.Equal(t, int64(1), res.Version)

	// No second write, so no second outbox task.
	depth, err := store.OutboxDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestIngestChangedContentBumpsVersion(t *testing.T) {
	store := newMemStore()
	ix, _ := newTestIndexer(store)

	_, err := ix.IngestDocument(context.Background(), sampleRequest())
	require.NoError(t, err)

	req := sampleRequest()
	req.Text = sampleText + "\nUn alinéa supplémentaire modifie le contenu."
	res, err := ix.IngestDocument(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Version)
	assert.False(t, res.Unchanged)

	chunks, err := store.GetChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, int64(2), c.DocVersion)
	}
}

func TestIngestInvalidatesNeighbours(t *testing.T) {
	store := newMemStore()
	ix, ncache := newTestIndexer(store)

	_, err := ix.IngestDocument(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Contains(t, ncache.invalidations, "doc-1")
}

func TestIngestRejectsMissingFields(t *testing.T) {
	store := newMemStore()
	ix, _ := newTestIndexer(store)

	_, err := ix.IngestDocument(context.Background(), driving.IngestRequest{Title: "sans id"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ix.IngestDocument(context.Background(), driving.IngestRequest{DocumentID: "doc-2"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngestRejectsEmptyText(t *testing.T) {
	store := newMemStore()
	ix, _ := newTestIndexer(store)

	req := sampleRequest()
	req.Text = "   \n  "
	_, err := ix.IngestDocument(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngestExtractorFailure(t *testing.T) {
	store := newMemStore()
	rt := testRuntime()
	ix := NewIndexer(store, &stubEmbedder{dims: 8}, &stubExtractor{err: domain.ErrParseUnavailable}, nil, rt)

	_, err := ix.IngestDocument(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, domain.ErrParseUnavailable)
}

func TestIngestEmbeddingFailureMarksExistingDocFailed(t *testing.T) {
	store := newMemStore()
	rt := testRuntime()
	embedder := &stubEmbedder{dims: 8}
	ix := NewIndexer(store, embedder, &stubExtractor{}, nil, rt)

	_, err := ix.IngestDocument(context.Background(), sampleRequest())
	require.NoError(t, err)

	embedder.err = errDown
	req := sampleRequest()
	req.Text = sampleText + "\nNouvelle version."
	_, err = ix.IngestDocument(context.Background(), req)
	require.Error(t, err)

	doc, err := store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, doc.Status)
}

func TestIngestFailedDocumentIsRetriedEvenWhenHashMatches(t *testing.T) {
	store := newMemStore()
	rt := testRuntime()
	embedder := &stubEmbedder{dims: 8}
	ix := NewIndexer(store, embedder, &stubExtractor{}, nil, rt)

	_, err := ix.IngestDocument(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(context.Background(), "doc-1", domain.StatusFailed, 0))

	res, err := ix.IngestDocument(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.False(t, res.Unchanged)
	assert.Equal(t, domain.StatusIndexed, res.Status)
	assert.Equal(t, int64(2), res.Version)
}

func TestIngestLowQualityRoutedToReview(t *testing.T) {
	store := newMemStore()
	ix, _ := newTestIndexer(store)

	req := sampleRequest()
	req.DocumentID = "doc-noise"
	req.Text = strings.Repeat("@#$%0123,;:!4567~~≡≡ ", 40)
	res, err := ix.IngestDocument(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNeedsReview, res.Status)
	assert.Less(t, res.QualityScore, 0.5)
}
