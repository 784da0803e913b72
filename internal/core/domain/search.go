package domain

// SearchFilters narrows a search to a subset of the corpus.
// Zero values mean "no filter".
type SearchFilters struct {
	// Category restricts results to one document category.
	Category string

	// Domain restricts results to one legal domain.
	Domain string

	// Language restricts results to one language.
	Language string

	// DocumentIDs restricts results to specific documents.
	DocumentIDs []string
}

// SearchResult represents a single ranked hit.
type SearchResult struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// DocumentID is the chunk's parent document.
	DocumentID string

	// DocumentTitle is the parent document's title, denormalised for display.
	DocumentTitle string

	// Content is the chunk text.
	Content string

	// Score is the combined relevance score in [0,1].
	Score float64

	// VectorScore and LexicalScore are the raw per-signal scores that
	// produced Score, kept for diagnostics.
	VectorScore  float64
	LexicalScore float64

	// ArticleLabel is the structural label of the chunk, if any.
	ArticleLabel string
}

// SearchResponse is the outcome of a hybrid search.
type SearchResponse struct {
	// Results is the ranked (possibly empty) hit list.
	Results []SearchResult

	// Degraded is true when the response was served from the primary
	// store because the search cache was unavailable or the query
	// exceeded its budget. Callers may surface reduced-confidence UX.
	Degraded bool
}
