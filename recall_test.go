package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()

	cfg := LoadConfig()
	cfg.Storage.Engine = "sqlite"
	cfg.Storage.DSN = filepath.Join(dir, "recall.db")
	cfg.Embedding.Provider = "deterministic"
	cfg.Embedding.Dimensions = 64
	cfg.Index.SnapshotDir = filepath.Join(dir, "index")
	// The deterministic embedder scores by token overlap; trained-model
	// thresholds are too strict for it.
	cfg.Retrieval.SemanticThreshold = 0.3
	cfg.Retrieval.DefaultThreshold = 0.3
	return cfg
}

func openService(t *testing.T, cfg *Config) *Service {
	t.Helper()
	svc, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc
}

func TestCreateAndSearch(t *testing.T) {
	svc := openService(t, testConfig(t))
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		Content:    "customer prefers wireless headphones",
		Type:       MemorySemantic,
		Importance: 0.8,
	})
	require.NoError(t, err)

	results, err := svc.Search(ctx, "wireless headphones", SearchOptions{Limit: 5, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, rec.ID, results[0].Record.ID)

	require.NoError(t, svc.Touch(ctx, rec.ID))
	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
}

func TestWorkingMemoryLifecycle(t *testing.T) {
	svc := openService(t, testConfig(t))
	ctx := context.Background()

	_, err := svc.UpsertWorkingMemory(ctx, UpsertWorkingInput{
		SessionID:       "sess-1",
		ContextData:     map[string]string{"owner": "user-1"},
		ShortTermMemory: map[string]string{"topic": "refund request"},
		TTL:             time.Hour,
	})
	require.NoError(t, err)

	wm, err := svc.GetWorkingMemory(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "refund request", wm.ShortTermMemory["topic"])

	require.NoError(t, svc.ClearWorkingMemory(ctx, "sess-1"))
	wm, err = svc.GetWorkingMemory(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestConsolidateAndRetrieve(t *testing.T) {
	svc := openService(t, testConfig(t))
	ctx := context.Background()

	_, err := svc.UpsertWorkingMemory(ctx, UpsertWorkingInput{
		SessionID:       "sess-1",
		ContextData:     map[string]string{"owner": "user-1"},
		ShortTermMemory: map[string]string{"preference": "prefers evening delivery slots"},
	})
	require.NoError(t, err)

	sum, err := svc.Consolidate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Promoted)

	// Promoted memory surfaces in context for a related query.
	rc, err := svc.GetRelevantContext(ctx, RetrievalRequest{
		Query: "preference: prefers evening delivery slots",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rc.Memories)
	assert.True(t, rc.Memories[0].HasTag("source=working_memory"))

	// Consolidation cleared the session, so nothing is attached.
	rc, err = svc.GetRelevantContext(ctx, RetrievalRequest{
		Query:     "anything",
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Nil(t, rc.WorkingMemory)
}

func TestEvict(t *testing.T) {
	svc := openService(t, testConfig(t))
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		Content:    "old trivia nobody needs",
		Type:       MemoryEpisodic,
		Importance: 0.1,
	})
	require.NoError(t, err)

	// Backdate past the eviction horizon.
	stored, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	stored.CreatedAt = time.Now().UTC().Add(-60 * 24 * time.Hour)
	require.NoError(t, svc.store.PutMemory(ctx, stored))

	rep, err := svc.Evict(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
	assert.True(t, rep.Rebuilt)

	results, err := svc.Search(ctx, "old trivia nobody needs", SearchOptions{Limit: 5, MinSimilarity: 0.1})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSnapshotRestoredAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	svc, err := Open(cfg)
	require.NoError(t, err)

	rec, err := svc.Create(ctx, CreateInput{
		Content: "survives the restart",
		Type:    MemorySemantic,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown(ctx))

	// Fresh process against the same data directory.
	svc = openService(t, cfg)
	results, err := svc.Search(ctx, "survives the restart", SearchOptions{Limit: 1, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].Record.ID)
}

func TestStaleSnapshotReconciledOnOpen(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	svc, err := Open(cfg)
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Content: "first note", Type: MemoryEpisodic})
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown(ctx))

	// Write behind the snapshot's back.
	svc, err = Open(cfg)
	require.NoError(t, err)
	cfgNoSnap := *cfg
	cfgNoSnap.Index.SnapshotDir = ""
	second, err := svc.Create(ctx, CreateInput{Content: "second note", Type: MemoryEpisodic})
	require.NoError(t, err)
	// Close the store without refreshing the snapshot.
	svc.cfg = &cfgNoSnap
	require.NoError(t, svc.Shutdown(ctx))

	// Reopen: the stale snapshot disagrees with the store and is
	// reconciled by a rebuild.
	svc = openService(t, cfg)
	results, err := svc.Search(ctx, "second note", SearchOptions{Limit: 1, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, second.ID, results[0].Record.ID)
}

func TestStats(t *testing.T) {
	svc := openService(t, testConfig(t))
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Content: "one", Type: MemoryEpisodic})
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Records)
	assert.Equal(t, 1, st.Indexed)
	assert.Zero(t, st.TombstoneRatio)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Engine = "cassandra"
	_, err := Open(cfg)
	assert.Error(t, err)
}
