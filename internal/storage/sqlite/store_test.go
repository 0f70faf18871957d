package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/recall/internal/storage"
	"github.com/commercekit/recall/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:         id,
		Owner:      "user-1",
		Content:    "prefers dark roast coffee",
		Embedding:  []float32{0.6, 0.8},
		Type:       types.MemorySemantic,
		Importance: 0.7,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		Tags:       []string{"preference"},
		Metadata: types.Metadata{
			Source:         "api",
			ConversationID: "conv-1",
		},
	}
}

func TestPutGetMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("mem-1")
	require.NoError(t, s.PutMemory(ctx, rec))

	got, err := s.GetMemory(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Owner, got.Owner)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, rec.Type, got.Type)
	assert.InDelta(t, rec.Importance, got.Importance, 1e-9)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, "conv-1", got.Metadata.ConversationID)
	assert.Equal(t, "api", got.Metadata.Source)
}

func TestPutMemoryUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("mem-1")
	require.NoError(t, s.PutMemory(ctx, rec))

	rec.Content = "prefers light roast coffee"
	rec.Importance = 0.9
	require.NoError(t, s.PutMemory(ctx, rec))

	got, err := s.GetMemory(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "prefers light roast coffee", got.Content)
	assert.InDelta(t, 0.9, got.Importance, 1e-9)

	n, err := s.CountMemories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutMemoryInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.PutMemory(ctx, &types.MemoryRecord{ID: "", Content: "x", Type: types.MemoryEpisodic})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = s.PutMemory(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestGetMemoryNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMemory(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetMemoriesPreservesOrderSkipsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.PutMemory(ctx, testRecord(id)))
	}

	got, err := s.GetMemories(ctx, []string{"c", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestTouch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMemory(ctx, testRecord("mem-1")))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Touch(ctx, "mem-1", at))
	require.NoError(t, s.Touch(ctx, "mem-1", at))

	got, err := s.GetMemory(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, got.LastAccessedAt.Equal(at))

	assert.ErrorIs(t, s.Touch(ctx, "nope", at), storage.ErrNotFound)
}

func TestDeleteMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMemory(ctx, testRecord("mem-1")))
	require.NoError(t, s.DeleteMemory(ctx, "mem-1"))

	_, err := s.GetMemory(ctx, "mem-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMemory(ctx, "mem-1"), storage.ErrNotFound)
}

func TestDeleteStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testRecord("old-low")
	old.CreatedAt = now.Add(-48 * time.Hour)
	old.Importance = 0.1
	require.NoError(t, s.PutMemory(ctx, old))

	oldImportant := testRecord("old-high")
	oldImportant.CreatedAt = now.Add(-48 * time.Hour)
	oldImportant.Importance = 0.9
	require.NoError(t, s.PutMemory(ctx, oldImportant))

	fresh := testRecord("fresh-low")
	fresh.CreatedAt = now
	fresh.Importance = 0.1
	require.NoError(t, s.PutMemory(ctx, fresh))

	deleted, err := s.DeleteStale(ctx, now.Add(-24*time.Hour), 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-low"}, deleted)

	// Only records matching BOTH conditions go.
	_, err = s.GetMemory(ctx, "old-high")
	assert.NoError(t, err)
	_, err = s.GetMemory(ctx, "fresh-low")
	assert.NoError(t, err)
}

func TestDeleteStaleLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		rec := testRecord(id)
		rec.CreatedAt = now.Add(-48 * time.Hour)
		rec.Importance = 0.1
		require.NoError(t, s.PutMemory(ctx, rec))
	}

	deleted, err := s.DeleteStale(ctx, now, 0.5, 2)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	n, err := s.CountMemories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestByConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		rec := testRecord(id)
		rec.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.PutMemory(ctx, rec))
	}
	other := testRecord("other")
	other.Metadata.ConversationID = "conv-2"
	require.NoError(t, s.PutMemory(ctx, other))

	got, err := s.ByConversation(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestEachEmbedded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMemory(ctx, testRecord("embedded")))
	pending := testRecord("pending")
	pending.Embedding = nil
	require.NoError(t, s.PutMemory(ctx, pending))

	seen := map[string][]float32{}
	err := s.EachEmbedded(ctx, func(id string, vec []float32) error {
		seen[id] = vec
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, []float32{0.6, 0.8}, seen["embedded"])
}

func TestWorkingMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	expiry := now.Add(time.Hour)

	rec := &types.WorkingMemoryRecord{
		SessionID:       "sess-1",
		ContextData:     map[string]string{"owner": "user-1"},
		ShortTermMemory: map[string]string{"topic": "billing"},
		ExpiresAt:       &expiry,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, s.PutWorking(ctx, rec))

	got, err := s.GetWorking(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ContextData, got.ContextData)
	assert.Equal(t, rec.ShortTermMemory, got.ShortTermMemory)
	assert.True(t, got.Active)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expiry))
}

func TestDeactivateWorking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &types.WorkingMemoryRecord{
		SessionID: "sess-1",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.PutWorking(ctx, rec))
	require.NoError(t, s.DeactivateWorking(ctx, "sess-1"))

	got, err := s.GetWorking(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, s.DeactivateWorking(ctx, "nope"), storage.ErrNotFound)
}

func TestListActiveWorking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, sid := range []string{"sess-1", "sess-2"} {
		require.NoError(t, s.PutWorking(ctx, &types.WorkingMemoryRecord{
			SessionID: sid,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}
	require.NoError(t, s.DeactivateWorking(ctx, "sess-2"))

	active, err := s.ListActiveWorking(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sess-1", active[0].SessionID)
}
