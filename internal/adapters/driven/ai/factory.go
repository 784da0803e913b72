package ai

import (
	"fmt"
	"os"
	"time"

	ollamaembed "github.com/lexikon-ai/kbengine/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/lexikon-ai/kbengine/internal/adapters/driven/embedding/openai"
	ollamallm "github.com/lexikon-ai/kbengine/internal/adapters/driven/llm/ollama"
	openaillm "github.com/lexikon-ai/kbengine/internal/adapters/driven/llm/openai"
	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// BuildGateways constructs the embedding and LLM fallback chains from
// configuration. A provider whose API key is missing is skipped with a
// warning; an empty chain is ErrNoProviderConfigured.
func BuildGateways(cfg *config.Config, usage driven.UsageRecorder) (*EmbeddingGateway, *LLMGateway, error) {
	chain := ChainConfig{
		FailureThreshold:  cfg.Gateway.FailureThreshold,
		Cooldown:          time.Duration(cfg.Gateway.CooldownSeconds) * time.Second,
		HalfOpenSuccesses: cfg.Gateway.HalfOpenSuccesses,
	}

	var (
		embedServices []driven.EmbeddingService
		embedRates    []float64
	)
	for _, name := range cfg.Gateway.EmbeddingOrder {
		p := cfg.Providers[name]
		svc, err := buildEmbeddingService(name, p, cfg.Embedding.Dimensions, usage)
		if err != nil {
			logger.Warn("Skipping embedding provider %s: %v", name, err)
			continue
		}
		if p.MaxBatch > 0 && (chain.BatchSize == 0 || p.MaxBatch < chain.BatchSize) {
			chain.BatchSize = p.MaxBatch
		}
		embedServices = append(embedServices, svc)
		embedRates = append(embedRates, p.RatePerSecond)
	}
	if len(embedServices) == 0 {
		return nil, nil, fmt.Errorf("%w: no usable embedding provider", domain.ErrNoProviderConfigured)
	}

	var (
		llmServices []driven.LLMService
		llmRates    []float64
	)
	for _, name := range cfg.Gateway.LLMOrder {
		p := cfg.Providers[name]
		svc, err := buildLLMService(name, p, usage)
		if err != nil {
			logger.Warn("Skipping LLM provider %s: %v", name, err)
			continue
		}
		llmServices = append(llmServices, svc)
		llmRates = append(llmRates, p.RatePerSecond)
	}

	embedGW := NewEmbeddingGateway(chain, cfg.Embedding.Dimensions, embedServices, embedRates)
	llmGW := NewLLMGateway(chain, llmServices, llmRates)
	return embedGW, llmGW, nil
}

func buildEmbeddingService(name string, p config.Provider, dims int, usage driven.UsageRecorder) (driven.EmbeddingService, error) {
	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	switch name {
	case "ollama":
		return ollamaembed.NewEmbeddingService(ollamaembed.Config{
			BaseURL:    p.BaseURL,
			Model:      p.EmbedModel,
			Timeout:    timeout,
			Dimensions: dims,
			MaxBatch:   p.MaxBatch,
			Usage:      usage,
		}), nil
	case "openai":
		key := os.Getenv(p.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("environment variable %s not set", p.APIKeyEnv)
		}
		return openaiembed.NewEmbeddingService(openaiembed.Config{
			APIKey:     key,
			BaseURL:    p.BaseURL,
			Model:      p.EmbedModel,
			Timeout:    timeout,
			Dimensions: dims,
			MaxBatch:   p.MaxBatch,
			Usage:      usage,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func buildLLMService(name string, p config.Provider, usage driven.UsageRecorder) (driven.LLMService, error) {
	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	switch name {
	case "ollama":
		return ollamallm.NewLLMService(ollamallm.LLMConfig{
			BaseURL: p.BaseURL,
			Model:   p.LLMModel,
			Timeout: timeout,
			Usage:   usage,
		}), nil
	case "openai":
		key := os.Getenv(p.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("environment variable %s not set", p.APIKeyEnv)
		}
		return openaillm.NewLLMService(openaillm.Config{
			APIKey:  key,
			BaseURL: p.BaseURL,
			Model:   p.LLMModel,
			Timeout: timeout,
			Usage:   usage,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
