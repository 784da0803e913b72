// Package openai provides an LLM service adapter using the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the OpenAI LLM service.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API base URL, for Azure or compatible APIs.
	BaseURL string

	// Model is the chat model to use (default: gpt-4o-mini).
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration

	// CostPer1KIn and CostPer1KOut are prices per thousand prompt and
	// completion tokens, used for the usage cost estimate.
	CostPer1KIn  float64
	CostPer1KOut float64

	// Usage receives per-call token accounting when non-nil.
	Usage driven.UsageRecorder
}

// LLMService provides completions using the OpenAI API.
type LLMService struct {
	client       *openai.Client
	model        string
	costPer1KIn  float64
	costPer1KOut float64
	usage        driven.UsageRecorder
}

// NewLLMService creates a new OpenAI LLM service.
func NewLLMService(cfg Config) (*LLMService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &LLMService{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		costPer1KIn:  cfg.CostPer1KIn,
		costPer1KOut: cfg.CostPer1KOut,
		usage:        cfg.Usage,
	}, nil
}

// Generate produces a text completion from a prompt.
func (s *LLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	var messages []openai.ChatCompletionMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai: create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no completion returned")
	}

	if s.usage != nil {
		cost := float64(resp.Usage.PromptTokens)/1000*s.costPer1KIn +
			float64(resp.Usage.CompletionTokens)/1000*s.costPer1KOut
		s.usage.RecordUsage(s.Name(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost)
	}

	return resp.Choices[0].Message.Content, nil
}

// Name returns the provider name for logging and usage accounting.
func (s *LLMService) Name() string {
	return "openai/" + s.model
}

// Ping validates the API key with a lightweight models listing.
func (s *LLMService) Ping(ctx context.Context) error {
	if _, err := s.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai: ping failed: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}
