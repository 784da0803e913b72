// Package config loads and validates engine configuration from a TOML
// file, with environment variables overriding secrets. Tunable knobs can
// be hot-reloaded at runtime via the fsnotify watcher.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Chunking controls how documents are split into retrieval units.
type Chunking struct {
	// TargetSize is the chunk target size in normalised tokens.
	TargetSize int `toml:"target_size"`

	// MinSize is the minimum chunk size; shorter documents yield one chunk.
	MinSize int `toml:"min_size"`

	// MaxSize caps a single chunk; oversized structural units are split.
	MaxSize int `toml:"max_size"`

	// DefaultOverlap is the token overlap used when the category has no
	// specific entry.
	DefaultOverlap int `toml:"default_overlap"`

	// OverlapByCategory maps a document category to its token overlap.
	OverlapByCategory map[string]int `toml:"overlap_by_category"`
}

// Provider configures one embedding/LLM backend.
type Provider struct {
	// BaseURL is the API endpoint (Ollama-style local servers).
	BaseURL string `toml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// Keys never live in the config file itself.
	APIKeyEnv string `toml:"api_key_env"`

	// EmbedModel and LLMModel select the models to use.
	EmbedModel string `toml:"embed_model"`
	LLMModel   string `toml:"llm_model"`

	// TimeoutSeconds bounds every call to this provider.
	TimeoutSeconds int `toml:"timeout_seconds"`

	// MaxBatch is the provider's maximum embedding batch size.
	MaxBatch int `toml:"max_batch"`

	// RatePerSecond limits request rate to the provider (0 = unlimited).
	RatePerSecond float64 `toml:"rate_per_second"`
}

// Gateway configures the provider fallback chain and circuit breakers.
type Gateway struct {
	// EmbeddingOrder and LLMOrder are provider names in priority order.
	EmbeddingOrder []string `toml:"embedding_order"`
	LLMOrder       []string `toml:"llm_order"`

	// FailureThreshold consecutive failures open a provider's breaker.
	FailureThreshold int `toml:"failure_threshold"`

	// CooldownSeconds is how long an open breaker skips the provider.
	CooldownSeconds int `toml:"cooldown_seconds"`

	// HalfOpenSuccesses closes the breaker after this many trial successes.
	HalfOpenSuccesses int `toml:"half_open_successes"`
}

// Embedding fixes the deployment's vector dimensionality.
type Embedding struct {
	Dimensions int `toml:"dimensions"`
}

// Store configures the SQLite primary store.
type Store struct {
	// DataDir holds the database file. Empty means ~/.kbengine/data.
	DataDir string `toml:"data_dir"`
}

// Cache configures the Redis search cache.
type Cache struct {
	Addr     string `toml:"addr"`
	Password string `toml:"-"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`

	// QueryTimeoutMS bounds cache queries; on expiry the retriever
	// falls back to the primary store immediately.
	QueryTimeoutMS int `toml:"query_timeout_ms"`
}

// Search holds the hybrid ranking tunables. Hot-reloadable.
type Search struct {
	// VectorWeight and LexicalWeight combine the two signals into one
	// score. Defaults favour semantic similarity (0.7 / 0.3).
	VectorWeight  float64 `toml:"vector_weight"`
	LexicalWeight float64 `toml:"lexical_weight"`

	// DefaultTopK applies when the caller passes topK <= 0.
	DefaultTopK int `toml:"default_top_k"`

	// BudgetMS is the overall query budget (cache + fallback combined).
	BudgetMS int `toml:"budget_ms"`
}

// Neighbors configures the neighbour cache. Hot-reloadable.
type Neighbors struct {
	TTLMinutes    int     `toml:"ttl_minutes"`
	MaxNeighbors  int     `toml:"max_neighbors"`
	MinSimilarity float64 `toml:"min_similarity"`

	// ClusterBonus is added to a neighbour's score when it shares a
	// cluster with the source document.
	ClusterBonus float64 `toml:"cluster_bonus"`
}

// Quality configures the ingestion quality gate. Hot-reloadable.
type Quality struct {
	// Threshold below which a document is routed to needs_review.
	Threshold float64 `toml:"threshold"`
}

// Cluster configures the batch cluster analyzer.
type Cluster struct {
	// ProjectionDims is the reduced dimensionality before clustering.
	ProjectionDims int `toml:"projection_dims"`

	// Eps is the DBSCAN neighbourhood radius (cosine distance).
	Eps float64 `toml:"eps"`

	// MinPts is the DBSCAN core-point density threshold.
	MinPts int `toml:"min_pts"`
}

// Outbox configures cache-propagation retry behaviour.
type Outbox struct {
	MaxAttempts    int `toml:"max_attempts"`
	BatchSize      int `toml:"batch_size"`
	PollIntervalMS int `toml:"poll_interval_ms"`
	BackoffBaseMS  int `toml:"backoff_base_ms"`
}

// Ingestion bounds ingestion jobs.
type Ingestion struct {
	// MaxDurationSeconds marks an overrunning job failed (retryable).
	MaxDurationSeconds int `toml:"max_duration_seconds"`
}

// Config is the full engine configuration.
type Config struct {
	Chunking  Chunking            `toml:"chunking"`
	Embedding Embedding           `toml:"embedding"`
	Providers map[string]Provider `toml:"providers"`
	Gateway   Gateway             `toml:"gateway"`
	Store     Store               `toml:"store"`
	Cache     Cache               `toml:"cache"`
	Search    Search              `toml:"search"`
	Neighbors Neighbors           `toml:"neighbors"`
	Quality   Quality             `toml:"quality"`
	Cluster   Cluster             `toml:"cluster"`
	Outbox    Outbox              `toml:"outbox"`
	Ingestion Ingestion           `toml:"ingestion"`
}

// Default returns the configuration used when fields are absent.
func Default() *Config {
	return &Config{
		Chunking: Chunking{
			TargetSize:     400,
			MinSize:        40,
			MaxSize:        800,
			DefaultOverlap: 50,
			OverlapByCategory: map[string]int{
				"code":          100,
				"jurisprudence": 80,
				"doctrine":      60,
				"modele":        40,
			},
		},
		Embedding: Embedding{Dimensions: 1024},
		Providers: map[string]Provider{
			"ollama": {
				BaseURL:        "http://localhost:11434",
				EmbedModel:     "bge-m3",
				LLMModel:       "qwen2.5",
				TimeoutSeconds: 30,
				MaxBatch:       16,
			},
			"openai": {
				APIKeyEnv:      "OPENAI_API_KEY",
				EmbedModel:     "text-embedding-3-small",
				LLMModel:       "gpt-4o-mini",
				TimeoutSeconds: 30,
				MaxBatch:       64,
			},
		},
		Gateway: Gateway{
			EmbeddingOrder:    []string{"ollama", "openai"},
			LLMOrder:          []string{"ollama", "openai"},
			FailureThreshold:  3,
			CooldownSeconds:   30,
			HalfOpenSuccesses: 2,
		},
		Cache: Cache{
			Addr:           "localhost:6379",
			PoolSize:       10,
			QueryTimeoutMS: 200,
		},
		Search: Search{
			VectorWeight:  0.7,
			LexicalWeight: 0.3,
			DefaultTopK:   10,
			BudgetMS:      2000,
		},
		Neighbors: Neighbors{
			TTLMinutes:    60,
			MaxNeighbors:  10,
			MinSimilarity: 0.85,
			ClusterBonus:  0.05,
		},
		Quality: Quality{Threshold: 0.5},
		Cluster: Cluster{
			ProjectionDims: 32,
			Eps:            0.25,
			MinPts:         3,
		},
		Outbox: Outbox{
			MaxAttempts:    3,
			BatchSize:      5,
			PollIntervalMS: 1000,
			BackoffBaseMS:  500,
		},
		Ingestion: Ingestion{MaxDurationSeconds: 300},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error: the defaults apply. Secrets are pulled from the
// environment afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", filepath.Base(path), err)
		}
	}

	cfg.Cache.Password = os.Getenv("REDIS_PASSWORD")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if len(c.Gateway.EmbeddingOrder) == 0 {
		return fmt.Errorf("gateway.embedding_order must name at least one provider")
	}
	for _, name := range c.Gateway.EmbeddingOrder {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("gateway.embedding_order references unknown provider %q", name)
		}
	}
	for _, name := range c.Gateway.LLMOrder {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("gateway.llm_order references unknown provider %q", name)
		}
	}
	if w := c.Search.VectorWeight + c.Search.LexicalWeight; w <= 0 {
		return fmt.Errorf("search weights must sum to a positive value, got %g", w)
	}
	if c.Chunking.TargetSize <= 0 || c.Chunking.MinSize <= 0 {
		return fmt.Errorf("chunking sizes must be positive")
	}
	if c.Chunking.MaxSize < c.Chunking.TargetSize {
		return fmt.Errorf("chunking.max_size (%d) below target_size (%d)",
			c.Chunking.MaxSize, c.Chunking.TargetSize)
	}
	return nil
}

// OverlapFor returns the token overlap configured for a category.
func (c *Chunking) OverlapFor(category string) int {
	if o, ok := c.OverlapByCategory[category]; ok {
		return o
	}
	return c.DefaultOverlap
}

// NeighborTTL returns the neighbour-cache TTL as a duration.
func (c *Config) NeighborTTL() time.Duration {
	return time.Duration(c.Neighbors.TTLMinutes) * time.Minute
}

// CacheQueryTimeout returns the cache query timeout as a duration.
func (c *Config) CacheQueryTimeout() time.Duration {
	return time.Duration(c.Cache.QueryTimeoutMS) * time.Millisecond
}

// SearchBudget returns the overall query budget as a duration.
func (c *Config) SearchBudget() time.Duration {
	return time.Duration(c.Search.BudgetMS) * time.Millisecond
}

// Runtime holds the current configuration and supports atomic swaps from
// the hot-reload watcher. Services that read tunables per call hold a
// *Runtime instead of a *Config.
type Runtime struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewRuntime wraps a validated configuration.
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{cfg: cfg}
}

// Current returns the active configuration. Callers must not mutate it.
func (r *Runtime) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Swap replaces the active configuration.
func (r *Runtime) Swap(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}
