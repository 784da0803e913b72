package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
)

// testRuntime returns a Runtime over the defaults with fast timings.
func testRuntime() *config.Runtime {
	cfg := config.Default()
	cfg.Outbox.PollIntervalMS = 10
	cfg.Outbox.BackoffBaseMS = 1
	return config.NewRuntime(cfg)
}

// memStore is an in-memory DocumentStore plus outbox for service tests.
type memStore struct {
	mu          sync.Mutex
	docs        map[string]*domain.Document
	chunks      map[string][]domain.Chunk
	outbox      []driven.OutboxTask
	assignments map[string]domain.ClusterAssignment
	replaceErr  error
	nextTaskID  int
}

func newMemStore() *memStore {
	return &memStore{
		docs:        make(map[string]*domain.Document),
		chunks:      make(map[string][]domain.Chunk),
		assignments: make(map[string]domain.ClusterAssignment),
	}
}

func (m *memStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memStore) ReplaceVersion(_ context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	cp := *doc
	m.docs[doc.ID] = &cp
	m.chunks[doc.ID] = append([]domain.Chunk(nil), chunks...)
	m.nextTaskID++
	m.outbox = append(m.outbox, driven.OutboxTask{
		ID:         fmt.Sprintf("task-%d", m.nextTaskID),
		DocumentID: doc.ID,
		DocVersion: doc.Version,
		Op:         driven.OutboxOpUpsert,
	})
	return nil
}

func (m *memStore) SetStatus(_ context.Context, id string, status domain.IndexStatus, quality float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Status = status
	doc.QualityScore = quality
	return nil
}

func (m *memStore) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Active = false
	m.nextTaskID++
	m.outbox = append(m.outbox, driven.OutboxTask{
		ID:         fmt.Sprintf("task-%d", m.nextTaskID),
		DocumentID: id,
		DocVersion: doc.Version,
		Op:         driven.OutboxOpRemove,
	})
	return nil
}

func (m *memStore) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Chunk(nil), m.chunks[documentID]...), nil
}

func (m *memStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunks := range m.chunks {
		for _, c := range chunks {
			if c.ID == id {
				cp := c
				return &cp, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) ListIndexed(_ context.Context) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Document
	for _, d := range m.docs {
		if d.Active && d.Status == domain.StatusIndexed {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) TopK(_ context.Context, vector []float32, filters domain.SearchFilters, k int) ([]driven.ChunkHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []driven.ChunkHit
	for docID, chunks := range m.chunks {
		doc := m.docs[docID]
		if doc == nil || !doc.Active || doc.Status != domain.StatusIndexed || !matches(doc, filters) {
			continue
		}
		for _, c := range chunks {
			hits = append(hits, driven.ChunkHit{
				ChunkID:       c.ID,
				DocumentID:    docID,
				DocumentTitle: doc.Title,
				Content:       c.Content,
				ArticleLabel:  c.ArticleLabel,
				Score:         cosine32(vector, c.Embedding),
				IndexedAt:     doc.IndexedAt,
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memStore) LexicalSearch(_ context.Context, query string, filters domain.SearchFilters, k int) ([]driven.ChunkHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	terms := strings.Fields(strings.ToLower(query))
	var hits []driven.ChunkHit
	for docID, chunks := range m.chunks {
		doc := m.docs[docID]
		if doc == nil || !doc.Active || doc.Status != domain.StatusIndexed || !matches(doc, filters) {
			continue
		}
		for _, c := range chunks {
			content := strings.ToLower(c.Content)
			score := 0.0
			for _, t := range terms {
				score += float64(strings.Count(content, t))
			}
			if score == 0 {
				continue
			}
			hits = append(hits, driven.ChunkHit{
				ChunkID:       c.ID,
				DocumentID:    docID,
				DocumentTitle: doc.Title,
				Content:       c.Content,
				ArticleLabel:  c.ArticleLabel,
				Score:         score,
				IndexedAt:     doc.IndexedAt,
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memStore) DocumentTopK(_ context.Context, documentID string, k int) ([]driven.DocumentHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.docs[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var hits []driven.DocumentHit
	for id, d := range m.docs {
		if id == documentID || !d.Active || d.Status != domain.StatusIndexed || len(d.Centroid) == 0 {
			continue
		}
		hits = append(hits, driven.DocumentHit{
			DocumentID: id,
			Title:      d.Title,
			Similarity: cosine32(src.Centroid, d.Centroid),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memStore) SaveClusterAssignments(_ context.Context, assignments []domain.ClusterAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = make(map[string]domain.ClusterAssignment)
	for _, a := range assignments {
		m.assignments[a.DocumentID] = a
	}
	return nil
}

func (m *memStore) GetClusterAssignment(_ context.Context, documentID string) (*domain.ClusterAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *memStore) DueOutbox(_ context.Context, limit int) ([]driven.OutboxTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []driven.OutboxTask
	for _, t := range m.outbox {
		if len(out) >= limit {
			break
		}
		if !t.NextAttemptAt.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) CompleteOutbox(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.outbox {
		if t.ID == id {
			m.outbox = append(m.outbox[:i], m.outbox[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) RetryOutbox(_ context.Context, id string, delay time.Duration, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.outbox {
		if t.ID != id {
			continue
		}
		t.Attempts++
		if t.Attempts >= maxAttempts {
			m.outbox = append(m.outbox[:i], m.outbox[i+1:]...)
			return nil
		}
		t.NextAttemptAt = time.Now().Add(delay)
		m.outbox[i] = t
		return nil
	}
	return nil
}

func (m *memStore) OutboxDepth(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbox), nil
}

func (m *memStore) OldestOutboxAge(_ context.Context) (time.Duration, error) {
	return 0, nil
}

func (m *memStore) Close() error { return nil }

func matches(d *domain.Document, f domain.SearchFilters) bool {
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.Domain != "" && d.Domain != f.Domain {
		return false
	}
	if f.Language != "" && d.Language != f.Language {
		return false
	}
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == d.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosine32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// memCache is an in-memory SearchCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]driven.CacheEntry
	fail    bool
	upserts int
	removes int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]driven.CacheEntry)}
}

func (c *memCache) Upsert(_ context.Context, entries []driven.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return domain.ErrCacheUnavailable
	}
	if len(entries) == 0 {
		return nil
	}
	docID := entries[0].DocumentID
	if cur := c.entries[docID]; len(cur) > 0 && cur[0].DocVersion > entries[0].DocVersion {
		return nil
	}
	c.entries[docID] = append([]driven.CacheEntry(nil), entries...)
	c.upserts++
	return nil
}

func (c *memCache) Remove(_ context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return domain.ErrCacheUnavailable
	}
	delete(c.entries, documentID)
	c.removes++
	return nil
}

func (c *memCache) HybridQuery(_ context.Context, vector []float32, lexical string, filters domain.SearchFilters, k int) (*driven.HybridHits, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, domain.ErrCacheUnavailable
	}
	hits := &driven.HybridHits{}
	terms := strings.Fields(strings.ToLower(lexical))
	for _, entries := range c.entries {
		for _, e := range entries {
			if filters.Category != "" && e.Category != filters.Category {
				continue
			}
			if filters.Language != "" && e.Language != filters.Language {
				continue
			}
			hit := driven.CacheHit{
				ChunkID:       e.ChunkID,
				DocumentID:    e.DocumentID,
				DocumentTitle: e.DocumentTitle,
				ArticleLabel:  e.ArticleLabel,
				Content:       e.Content,
				IndexedAt:     e.IndexedAt,
			}
			vecHit := hit
			vecHit.Score = cosine32(vector, e.Vector)
			hits.Vector = append(hits.Vector, vecHit)

			content := strings.ToLower(e.Content)
			score := 0.0
			for _, t := range terms {
				score += float64(strings.Count(content, t))
			}
			if score > 0 {
				lexHit := hit
				lexHit.Score = score
				hits.Lexical = append(hits.Lexical, lexHit)
			}
		}
	}
	sort.Slice(hits.Vector, func(i, j int) bool { return hits.Vector[i].Score > hits.Vector[j].Score })
	if len(hits.Vector) > k {
		hits.Vector = hits.Vector[:k]
	}
	return hits, nil
}

func (c *memCache) Ping(_ context.Context) error {
	if c.fail {
		return domain.ErrCacheUnavailable
	}
	return nil
}

func (c *memCache) FreshnessLag(_ context.Context) (time.Duration, error) { return 0, nil }
func (c *memCache) Close() error                                          { return nil }

// memNeighborCache is an in-memory NeighborCache.
type memNeighborCache struct {
	mu            sync.Mutex
	entries       map[string]*domain.NeighborEntry
	invalidations []string
}

func newMemNeighborCache() *memNeighborCache {
	return &memNeighborCache{entries: make(map[string]*domain.NeighborEntry)}
}

func (c *memNeighborCache) Get(_ context.Context, documentID string) (*domain.NeighborEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func (c *memNeighborCache) Put(_ context.Context, entry *domain.NeighborEntry, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[entry.DocumentID]; ok && cur.Generation > entry.Generation {
		return nil
	}
	c.entries[entry.DocumentID] = entry
	return nil
}

func (c *memNeighborCache) Invalidate(_ context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations = append(c.invalidations, documentID)
	delete(c.entries, documentID)
	for id, e := range c.entries {
		for _, n := range e.Neighbors {
			if n.DocumentID == documentID {
				delete(c.entries, id)
				break
			}
		}
	}
	return nil
}

func (c *memNeighborCache) Close() error { return nil }

// stubEmbedder derives a deterministic vector from the text so related
// strings embed identically and tests stay reproducible.
type stubEmbedder struct {
	dims  int
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	vec := make([]float32, s.dims)
	for i, r := range text {
		vec[i%s.dims] += float32(r % 13)
	}
	return vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int              { return s.dims }
func (s *stubEmbedder) Name() string                 { return "stub" }
func (s *stubEmbedder) Ping(_ context.Context) error { return nil }
func (s *stubEmbedder) Close() error                 { return nil }

// stubExtractor passes text through unchanged.
type stubExtractor struct {
	err error
}

func (s *stubExtractor) Extract(_ context.Context, raw string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return strings.TrimSpace(raw), nil
}

var errDown = errors.New("backend down")
