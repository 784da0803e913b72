package driven

import "context"

// LLMService provides free-text completions grounded on retrieved chunks.
// Consumed by the answering assistant; the core only wires the fallback
// chain and never composes prompts itself.
type LLMService interface {
	// Generate produces a text completion from a prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Name returns the provider name for logging and usage accounting.
	Name() string

	// Ping validates the service is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// GenerateOptions configures text generation behaviour.
type GenerateOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64

	// SystemPrompt is prepended as the system message when non-empty.
	SystemPrompt string
}
