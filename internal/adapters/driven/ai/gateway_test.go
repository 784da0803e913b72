package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
)

// fakeEmbedder is a scriptable embedding provider. batchErr fails only
// the batch endpoint, leaving single-text calls healthy.
type fakeEmbedder struct {
	name     string
	dims     int
	err      error
	batchErr error
	calls    int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int              { return f.dims }
func (f *fakeEmbedder) Name() string                 { return f.name }
func (f *fakeEmbedder) Ping(_ context.Context) error { return f.err }
func (f *fakeEmbedder) Close() error                 { return nil }

// fakeLLM is a scriptable LLM provider.
type fakeLLM struct {
	name  string
	out   string
	err   error
	calls int
}

func (f *fakeLLM) Generate(_ context.Context, _ string, _ driven.GenerateOptions) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func (f *fakeLLM) Name() string                 { return f.name }
func (f *fakeLLM) Ping(_ context.Context) error { return f.err }
func (f *fakeLLM) Close() error                 { return nil }

func testChain() ChainConfig {
	return ChainConfig{
		FailureThreshold:  3,
		Cooldown:          30 * time.Second,
		HalfOpenSuccesses: 2,
		BatchSize:         4,
	}
}

func TestEmbedUsesFirstHealthyProvider(t *testing.T) {
	primary := &fakeEmbedder{name: "primary", dims: 8}
	fallback := &fakeEmbedder{name: "fallback", dims: 8}
	g := NewEmbeddingGateway(testChain(), 8, []driven.EmbeddingService{primary, fallback}, nil)

	vec, err := g.Embed(context.Background(), "texte")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fallback.calls)
}

func TestEmbedFallsBackOnFailure(t *testing.T) {
	primary := &fakeEmbedder{name: "primary", dims: 8, err: errors.New("connection refused")}
	fallback := &fakeEmbedder{name: "fallback", dims: 8}
	g := NewEmbeddingGateway(testChain(), 8, []driven.EmbeddingService{primary, fallback}, nil)

	vec, err := g.Embed(context.Background(), "texte")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestEmbedOpensBreakerAfterThreshold(t *testing.T) {
	primary := &fakeEmbedder{name: "primary", dims: 8, err: errors.New("down")}
	fallback := &fakeEmbedder{name: "fallback", dims: 8}
	g := NewEmbeddingGateway(testChain(), 8, []driven.EmbeddingService{primary, fallback}, nil)

	// Three failures open the primary's breaker.
	for i := 0; i < 3; i++ {
		_, err := g.Embed(context.Background(), "texte")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, primary.calls)

	// During cooldown the primary is skipped entirely.
	_, err := g.Embed(context.Background(), "texte")
	require.NoError(t, err)
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, 4, fallback.calls)

	status := g.Status()
	require.Len(t, status, 2)
	assert.Equal(t, string(StateOpen), status[0].State)
	assert.Equal(t, string(StateClosed), status[1].State)
}

func TestEmbedRejectsWrongDimensions(t *testing.T) {
	wrong := &fakeEmbedder{name: "wrong", dims: 4}
	right := &fakeEmbedder{name: "right", dims: 8}
	g := NewEmbeddingGateway(testChain(), 8, []driven.EmbeddingService{wrong, right}, nil)

	vec, err := g.Embed(context.Background(), "texte")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 1, wrong.calls)
}

func TestEmbedAllProvidersExhausted(t *testing.T) {
	a := &fakeEmbedder{name: "a", dims: 8, err: errors.New("down")}
	b := &fakeEmbedder{name: "b", dims: 8, err: errors.New("also down")}
	g := NewEmbeddingGateway(testChain(), 8, []driven.EmbeddingService{a, b}, nil)

	_, err := g.Embed(context.Background(), "texte")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllProvidersExhausted)
}

func TestEmbedBatchSplitsIntoSubBatches(t *testing.T) {
	p := &fakeEmbedder{name: "p", dims: 8}
	g := NewEmbeddingGateway(testChain(), 8, []driven.EmbeddingService{p}, nil)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "segment"
	}
	vecs, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 10)
	// Batch size 4 means three sub-batch calls.
	assert.Equal(t, 3, p.calls)
}

func TestEmbedBatchRetriesItemwiseBeforeFallback(t *testing.T) {
	// Batch endpoint down, single-text endpoint fine: the sub-batch is
	// recovered item by item without touching the fallback.
	primary := &fakeEmbedder{name: "primary", dims: 8, batchErr: errors.New("payload too large")}
	fallback := &fakeEmbedder{name: "fallback", dims: 8}
	g := NewEmbeddingGateway(testChain(), 8, []driven.EmbeddingService{primary, fallback}, nil)

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	// One failed batch call plus three single-text retries.
	assert.Equal(t, 4, primary.calls)
	assert.Zero(t, fallback.calls)

	status := g.Status()
	assert.Equal(t, string(StateClosed), status[0].State)
}

func TestEmbedBatchFailsOverToNextProvider(t *testing.T) {
	primary := &fakeEmbedder{name: "primary", dims: 8, err: errors.New("down")}
	fallback := &fakeEmbedder{name: "fallback", dims: 8}
	g := NewEmbeddingGateway(testChain(), 8, []driven.EmbeddingService{primary, fallback}, nil)

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	// The batch attempt and the first itemwise retry both fail; the
	// fallback serves the whole sub-batch.
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := newBreaker(3, 30*time.Second, 2)
	now := time.Now()
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.recordFailure(errors.New("down"))
	}
	assert.False(t, b.allow())

	// After the cooldown the breaker admits trial calls.
	now = now.Add(31 * time.Second)
	assert.True(t, b.allow())
	state, _ := b.snapshot()
	assert.Equal(t, StateHalfOpen, state)

	// One success is not enough to close.
	b.recordSuccess()
	state, _ = b.snapshot()
	assert.Equal(t, StateHalfOpen, state)

	// The second success closes it.
	b.recordSuccess()
	state, failures := b.snapshot()
	assert.Equal(t, StateClosed, state)
	assert.Zero(t, failures)
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := newBreaker(3, 30*time.Second, 2)
	now := time.Now()
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.recordFailure(errors.New("down"))
	}
	now = now.Add(31 * time.Second)
	require.True(t, b.allow())

	b.recordFailure(errors.New("still down"))
	assert.False(t, b.allow())
}

func TestLLMGatewayFallsBack(t *testing.T) {
	primary := &fakeLLM{name: "primary", err: errors.New("down")}
	fallback := &fakeLLM{name: "fallback", out: "réponse"}
	g := NewLLMGateway(testChain(), []driven.LLMService{primary, fallback}, nil)

	out, err := g.Generate(context.Background(), "question", driven.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "réponse", out)
}

func TestLLMGatewayExhausted(t *testing.T) {
	g := NewLLMGateway(testChain(), []driven.LLMService{
		&fakeLLM{name: "a", err: errors.New("down")},
	}, nil)

	_, err := g.Generate(context.Background(), "question", driven.GenerateOptions{})
	assert.ErrorIs(t, err, domain.ErrAllProvidersExhausted)
}
