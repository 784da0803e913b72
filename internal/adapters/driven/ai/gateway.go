package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// Ensure the gateways implement the provider ports.
var (
	_ driven.EmbeddingService = (*EmbeddingGateway)(nil)
	_ driven.LLMService       = (*LLMGateway)(nil)
)

// embedProvider is one member of the embedding chain.
type embedProvider struct {
	svc     driven.EmbeddingService
	breaker *breaker
	limiter *rate.Limiter
}

// llmProvider is one member of the LLM chain.
type llmProvider struct {
	svc     driven.LLMService
	breaker *breaker
	limiter *rate.Limiter
}

// ChainConfig holds the circuit breaker tunables shared by a chain.
type ChainConfig struct {
	FailureThreshold  int
	Cooldown          time.Duration
	HalfOpenSuccesses int

	// BatchSize is the sub-batch size the embedding gateway fails over
	// at; a batch that dies on one provider resumes on the next without
	// re-embedding completed sub-batches.
	BatchSize int
}

// EmbeddingGateway walks an ordered provider chain behind circuit
// breakers. All providers must produce vectors of the same configured
// dimensionality; a wrong-sized vector counts as a provider failure.
type EmbeddingGateway struct {
	providers  []*embedProvider
	dimensions int
	batchSize  int
}

// NewEmbeddingGateway builds the chain in the given priority order.
func NewEmbeddingGateway(cfg ChainConfig, dimensions int, services []driven.EmbeddingService, rates []float64) *EmbeddingGateway {
	g := &EmbeddingGateway{
		dimensions: dimensions,
		batchSize:  cfg.BatchSize,
	}
	if g.batchSize <= 0 {
		g.batchSize = 16
	}
	for i, svc := range services {
		g.providers = append(g.providers, &embedProvider{
			svc:     svc,
			breaker: newBreaker(cfg.FailureThreshold, cfg.Cooldown, cfg.HalfOpenSuccesses),
			limiter: newLimiter(rates, i),
		})
	}
	return g
}

func newLimiter(rates []float64, i int) *rate.Limiter {
	if i < len(rates) && rates[i] > 0 {
		return rate.NewLimiter(rate.Limit(rates[i]), 1)
	}
	return rate.NewLimiter(rate.Inf, 1)
}

// Embed tries each provider in order until one produces a vector of the
// configured dimensionality.
func (g *EmbeddingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	var errs []error
	for _, p := range g.providers {
		if !p.breaker.allow() {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vec, err := p.svc.Embed(ctx, text)
		if err == nil && len(vec) != g.dimensions {
			err = fmt.Errorf("%w: provider %s returned %d dims, want %d",
				domain.ErrDimensionMismatch, p.svc.Name(), len(vec), g.dimensions)
		}
		if err != nil {
			p.breaker.recordFailure(err)
			logger.Warn("Embedding provider %s failed: %v", p.svc.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.svc.Name(), err))
			continue
		}
		p.breaker.recordSuccess()
		return vec, nil
	}
	return nil, exhausted(errs)
}

// EmbedBatch embeds texts in sub-batches. Each sub-batch walks the chain
// from the top, so a provider that fails mid-run loses only the current
// sub-batch to its fallback, not the completed ones.
func (g *EmbeddingGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := g.embedSubBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch at offset %d: %w", start, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *EmbeddingGateway) embedSubBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var errs []error
	for _, p := range g.providers {
		if !p.breaker.allow() {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := p.svc.EmbedBatch(ctx, texts)
		if err == nil {
			err = checkBatchDims(vecs, len(texts), g.dimensions, p.svc.Name())
		}
		if err != nil {
			// A dead batch may be one poisoned item; retry each text
			// alone before writing the provider off.
			vecs, err = g.embedItemwise(ctx, p, texts)
		}
		if err != nil {
			p.breaker.recordFailure(err)
			logger.Warn("Embedding provider %s failed: %v", p.svc.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.svc.Name(), err))
			continue
		}
		p.breaker.recordSuccess()
		return vecs, nil
	}
	return nil, exhausted(errs)
}

func (g *EmbeddingGateway) embedItemwise(ctx context.Context, p *embedProvider, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vec, err := p.svc.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(vec) != g.dimensions {
			return nil, fmt.Errorf("%w: provider %s returned %d dims, want %d",
				domain.ErrDimensionMismatch, p.svc.Name(), len(vec), g.dimensions)
		}
		out = append(out, vec)
	}
	return out, nil
}

func checkBatchDims(vecs [][]float32, want, dims int, name string) error {
	if len(vecs) != want {
		return fmt.Errorf("provider %s returned %d vectors, want %d", name, len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != dims {
			return fmt.Errorf("%w: provider %s vector %d has %d dims, want %d",
				domain.ErrDimensionMismatch, name, i, len(v), dims)
		}
	}
	return nil
}

// Dimensions returns the configured vector size.
func (g *EmbeddingGateway) Dimensions() int {
	return g.dimensions
}

// Name identifies the chain in logs.
func (g *EmbeddingGateway) Name() string {
	return "gateway/embedding"
}

// Ping succeeds if any provider in the chain is reachable.
func (g *EmbeddingGateway) Ping(ctx context.Context) error {
	var errs []error
	for _, p := range g.providers {
		if err := p.svc.Ping(ctx); err == nil {
			return nil
		} else {
			errs = append(errs, err)
		}
	}
	return exhausted(errs)
}

// Status reports per-provider breaker state for health probes.
func (g *EmbeddingGateway) Status() []driving.ProviderHealth {
	out := make([]driving.ProviderHealth, 0, len(g.providers))
	for _, p := range g.providers {
		state, failures := p.breaker.snapshot()
		out = append(out, driving.ProviderHealth{
			Name:                p.svc.Name(),
			State:               string(state),
			ConsecutiveFailures: failures,
		})
	}
	return out
}

// Close closes every provider in the chain.
func (g *EmbeddingGateway) Close() error {
	var errs []error
	for _, p := range g.providers {
		if err := p.svc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LLMGateway walks an ordered LLM provider chain behind circuit breakers.
type LLMGateway struct {
	providers []*llmProvider
}

// NewLLMGateway builds the chain in the given priority order.
func NewLLMGateway(cfg ChainConfig, services []driven.LLMService, rates []float64) *LLMGateway {
	g := &LLMGateway{}
	for i, svc := range services {
		g.providers = append(g.providers, &llmProvider{
			svc:     svc,
			breaker: newBreaker(cfg.FailureThreshold, cfg.Cooldown, cfg.HalfOpenSuccesses),
			limiter: newLimiter(rates, i),
		})
	}
	return g
}

// Generate tries each provider in order until one returns a completion.
func (g *LLMGateway) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	var errs []error
	for _, p := range g.providers {
		if !p.breaker.allow() {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}

		out, err := p.svc.Generate(ctx, prompt, opts)
		if err != nil {
			p.breaker.recordFailure(err)
			logger.Warn("LLM provider %s failed: %v", p.svc.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.svc.Name(), err))
			continue
		}
		p.breaker.recordSuccess()
		return out, nil
	}
	return "", exhausted(errs)
}

// Name identifies the chain in logs.
func (g *LLMGateway) Name() string {
	return "gateway/llm"
}

// Ping succeeds if any provider in the chain is reachable.
func (g *LLMGateway) Ping(ctx context.Context) error {
	var errs []error
	for _, p := range g.providers {
		if err := p.svc.Ping(ctx); err == nil {
			return nil
		} else {
			errs = append(errs, err)
		}
	}
	return exhausted(errs)
}

// Status reports per-provider breaker state for health probes.
func (g *LLMGateway) Status() []driving.ProviderHealth {
	out := make([]driving.ProviderHealth, 0, len(g.providers))
	for _, p := range g.providers {
		state, failures := p.breaker.snapshot()
		out = append(out, driving.ProviderHealth{
			Name:                p.svc.Name(),
			State:               string(state),
			ConsecutiveFailures: failures,
		})
	}
	return out
}

// Close closes every provider in the chain.
func (g *LLMGateway) Close() error {
	var errs []error
	for _, p := range g.providers {
		if err := p.svc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// exhausted wraps the per-provider errors under ErrAllProvidersExhausted.
// With no errors at all, every breaker was open.
func exhausted(errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("%w: all circuit breakers open", domain.ErrAllProvidersExhausted)
	}
	return fmt.Errorf("%w: %w", domain.ErrAllProvidersExhausted, errors.Join(errs...))
}
