package cli

import (
	"context"
	"errors"
	"time"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
)

// setupTestServices installs stub services and returns a cleanup func
// restoring the previous ones.
func setupTestServices() func() {
	oldIngest := ingestService
	oldSearch := searchService
	oldNeighbors := neighborService
	oldAdmin := adminService

	ingestService = &mockIngestService{}
	searchService = &mockSearchService{}
	neighborService = &mockNeighborService{}
	adminService = &mockAdminService{}

	return func() {
		ingestService = oldIngest
		searchService = oldSearch
		neighborService = oldNeighbors
		adminService = oldAdmin
	}
}

type mockIngestService struct{}

func (m *mockIngestService) IngestDocument(_ context.Context, _ driving.IngestRequest) (*driving.IngestResult, error) {
	return &driving.IngestResult{
		Status:       domain.StatusIndexed,
		QualityScore: 0.87,
		Version:      1,
	}, nil
}

type mockSearchService struct{}

func (m *mockSearchService) Search(_ context.Context, _ string, _ domain.SearchFilters, _ int, _ float64) (*domain.SearchResponse, error) {
	return &domain.SearchResponse{
		Results: []domain.SearchResult{
			{
				ChunkID:       "chunk-1",
				DocumentID:    "doc-1",
				DocumentTitle: "Code civil — Livre III",
				Content:       "Les contrats légalement formés tiennent lieu de loi.",
				Score:         0.92,
				ArticleLabel:  "Article 1103",
			},
		},
	}, nil
}

type mockSearchServiceError struct{}

func (m *mockSearchServiceError) Search(_ context.Context, _ string, _ domain.SearchFilters, _ int, _ float64) (*domain.SearchResponse, error) {
	return nil, errors.New("backend unavailable")
}

type mockNeighborService struct{}

func (m *mockNeighborService) NeighborsOf(_ context.Context, id string) ([]domain.Neighbor, error) {
	if id == "missing" {
		return nil, domain.ErrNotFound
	}
	return []domain.Neighbor{
		{DocumentID: "doc-2", Title: "Jurisprudence voisine", Score: 0.91},
	}, nil
}

func (m *mockNeighborService) Invalidate(_ context.Context, _ string) error {
	return nil
}

type mockAdminService struct{}

func (m *mockAdminService) RebuildSearchCache(_ context.Context) (int, error) {
	return 42, nil
}

func (m *mockAdminService) InvalidateDocument(_ context.Context, _ string) error {
	return nil
}

func (m *mockAdminService) Recluster(_ context.Context) (int, error) {
	return 7, nil
}

func (m *mockAdminService) Health(_ context.Context) (*driving.Health, error) {
	return &driving.Health{
		EmbeddingProviders: []driving.ProviderHealth{
			{Name: "ollama/bge-m3", State: "closed"},
		},
		CacheReachable: true,
		CacheLag:       2 * time.Second,
		OutboxDepth:    3,
	}, nil
}
