package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "deterministic", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.InDelta(t, 0.7, cfg.Retrieval.SemanticThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Retrieval.DefaultThreshold, 1e-9)
	assert.Equal(t, 10, cfg.Retrieval.MaxMemories)
	assert.Equal(t, 30*24*time.Hour, cfg.Eviction.MaxAge)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_STORAGE_ENGINE", "postgres")
	t.Setenv("RECALL_EMBEDDING_DIMENSIONS", "384")
	t.Setenv("RECALL_ASYNC_INDEXING", "true")
	t.Setenv("RECALL_EVICTION_MAX_AGE", "72h")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.True(t, cfg.Worker.AsyncIndexing)
	assert.Equal(t, 72*time.Hour, cfg.Eviction.MaxAge)
}

func TestEnvUnparseableFallsBack(t *testing.T) {
	t.Setenv("RECALL_EMBEDDING_DIMENSIONS", "not-a-number")
	t.Setenv("RECALL_ASYNC_INDEXING", "maybe")

	cfg := Load()
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.False(t, cfg.Worker.AsyncIndexing)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: postgres
  dsn: postgres://localhost/recall
retrieval:
  max_memories: 5
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, "postgres://localhost/recall", cfg.Storage.DSN)
	assert.Equal(t, 5, cfg.Retrieval.MaxMemories)
	// Untouched sections keep their defaults.
	assert.Equal(t, "deterministic", cfg.Embedding.Provider)
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  engine: postgres\n"), 0o644))

	t.Setenv("RECALL_STORAGE_ENGINE", "sqlite")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.Storage.Engine = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Embedding.Provider = "openai"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Embedding.Dimensions = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
