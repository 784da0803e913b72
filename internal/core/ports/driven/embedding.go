package driven

import "context"

// EmbeddingService generates vector embeddings from text.
//
// Note: this is separate from the store and cache, which hold vectors.
// EmbeddingService generates them.
//
// Implementations include:
//   - Ollama (nomic-embed-text, bge-m3): local, free, tried first
//   - OpenAI (text-embedding-3-small/large): metered cloud fallback
//   - the gateway chain in adapters/driven/ai, which wraps an ordered
//     list of the above behind circuit breakers
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	// Implementations split the input to their maximum batch size.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 768, 1024, 1536).
	// This must match the deployment's configured dimensionality.
	Dimensions() int

	// Name returns the provider name for logging and usage accounting.
	Name() string

	// Ping validates the service is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
