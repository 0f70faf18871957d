// Package config provides configuration for the recall service. Settings
// load from environment variables with the RECALL_ prefix, optionally
// overlaid by a YAML file; env vars win over the file, the file wins
// over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Eviction  EvictionConfig  `yaml:"eviction"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	// Engine is "sqlite" or "postgres" (default: sqlite).
	Engine string `yaml:"engine"`

	// DSN is the backend connection string. For sqlite this is a file
	// path or ":memory:" (default: ./data/recall.db).
	DSN string `yaml:"dsn"`
}

// EmbeddingConfig configures the embedding provider chain.
type EmbeddingConfig struct {
	// Provider is "ollama" or "deterministic" (default: deterministic).
	// The deterministic provider needs no external service and is meant
	// for tests and air-gapped setups.
	Provider string `yaml:"provider"`

	// Dimensions is the vector dimension (default: 768).
	Dimensions int `yaml:"dimensions"`

	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`

	// CacheMaxBytes bounds the embedding cache (default: 64 MiB;
	// 0 disables caching).
	CacheMaxBytes int64 `yaml:"cache_max_bytes"`

	// RateLimit is the provider call budget per second (default: 10).
	RateLimit float64 `yaml:"rate_limit"`

	// BreakerFailures trips the circuit after this many consecutive
	// provider failures (default: 5).
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerCooldown is how long the circuit stays open (default: 30s).
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// IndexConfig configures the vector index lifecycle.
type IndexConfig struct {
	// SnapshotDir is where index snapshots live (default: ./data/index).
	// Empty disables snapshots.
	SnapshotDir string `yaml:"snapshot_dir"`
}

// RetrievalConfig configures context assembly.
type RetrievalConfig struct {
	PreferenceKeywords string  `yaml:"preference_keywords"`
	SemanticThreshold  float64 `yaml:"semantic_threshold"`
	DefaultThreshold   float64 `yaml:"default_threshold"`
	MaxMemories        int     `yaml:"max_memories"`
}

// EvictionConfig configures the background eviction pass.
type EvictionConfig struct {
	// Enabled starts the periodic scheduler with Service.Start
	// (default: false; RunOnce stays available either way).
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	MaxAge          time.Duration `yaml:"max_age"`
	ImportanceFloor float64       `yaml:"importance_floor"`
	BatchSize       int           `yaml:"batch_size"`
}

// WorkerConfig configures async indexing.
type WorkerConfig struct {
	AsyncIndexing   bool          `yaml:"async_indexing"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load builds the configuration from defaults overridden by the
// environment.
func Load() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile builds the configuration from defaults, overlaid by the YAML
// file at path, overlaid by the environment.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine: "sqlite",
			DSN:    "./data/recall.db",
		},
		Embedding: EmbeddingConfig{
			Provider:        "deterministic",
			Dimensions:      768,
			OllamaURL:       "http://localhost:11434",
			OllamaModel:     "nomic-embed-text",
			CacheMaxBytes:   64 << 20,
			RateLimit:       10,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Index: IndexConfig{
			SnapshotDir: "./data/index",
		},
		Retrieval: RetrievalConfig{
			PreferenceKeywords: "preferences likes dislikes favorite",
			SemanticThreshold:  0.7,
			DefaultThreshold:   0.5,
			MaxMemories:        10,
		},
		Eviction: EvictionConfig{
			Enabled:         false,
			Interval:        time.Hour,
			MaxAge:          30 * 24 * time.Hour,
			ImportanceFloor: 0.5,
			BatchSize:       500,
		},
		Worker: WorkerConfig{
			AsyncIndexing:   false,
			Workers:         2,
			QueueSize:       100,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func (c *Config) applyEnv() {
	c.Storage.Engine = getEnv("RECALL_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DSN = getEnv("RECALL_STORAGE_DSN", c.Storage.DSN)

	c.Embedding.Provider = getEnv("RECALL_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Dimensions = getEnvInt("RECALL_EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.OllamaURL = getEnv("RECALL_OLLAMA_URL", c.Embedding.OllamaURL)
	c.Embedding.OllamaModel = getEnv("RECALL_OLLAMA_MODEL", c.Embedding.OllamaModel)

	c.Index.SnapshotDir = getEnv("RECALL_SNAPSHOT_DIR", c.Index.SnapshotDir)

	c.Retrieval.MaxMemories = getEnvInt("RECALL_MAX_MEMORIES", c.Retrieval.MaxMemories)

	c.Eviction.Enabled = getEnvBool("RECALL_EVICTION_ENABLED", c.Eviction.Enabled)
	c.Eviction.Interval = getEnvDuration("RECALL_EVICTION_INTERVAL", c.Eviction.Interval)
	c.Eviction.MaxAge = getEnvDuration("RECALL_EVICTION_MAX_AGE", c.Eviction.MaxAge)

	c.Worker.AsyncIndexing = getEnvBool("RECALL_ASYNC_INDEXING", c.Worker.AsyncIndexing)
	c.Worker.Workers = getEnvInt("RECALL_WORKERS", c.Worker.Workers)
	c.Worker.QueueSize = getEnvInt("RECALL_QUEUE_SIZE", c.Worker.QueueSize)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage engine %q", c.Storage.Engine)
	}
	switch c.Embedding.Provider {
	case "ollama", "deterministic":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable; unparseable
// values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable; unparseable
// values fall back to the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable; unparseable
// values fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
