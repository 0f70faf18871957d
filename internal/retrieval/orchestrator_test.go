package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/recall/internal/embedding"
	"github.com/commercekit/recall/internal/memory"
	"github.com/commercekit/recall/internal/storage/sqlite"
	"github.com/commercekit/recall/internal/vector"
	"github.com/commercekit/recall/internal/working"
	"github.com/commercekit/recall/pkg/types"
)

const testDim = 64

type fixture struct {
	memories *memory.Store
	working  *working.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &fixture{
		memories: memory.New(db, vector.New(testDim), embedding.NewDeterministic(testDim), memory.Config{}),
		working:  working.New(db, nil),
	}
}

// The deterministic embedder scores by token overlap, so tests drive
// pool membership through shared words and lowered thresholds.
func testConfig() Config {
	return Config{
		PreferenceKeywords: "preferences",
		SemanticThreshold:  0.3,
		DefaultThreshold:   0.3,
		MaxMemories:        10,
	}
}

func TestQueryPoolReturnsRelevantMemories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.memories.Create(ctx, memory.CreateInput{
		Content: "customer asked about wireless headphones",
		Type:    types.MemoryEpisodic,
	})
	require.NoError(t, err)
	_, err = f.memories.Create(ctx, memory.CreateInput{
		Content: "invoice sent last tuesday",
		Type:    types.MemoryEpisodic,
	})
	require.NoError(t, err)

	o := New(f.memories, f.working, testConfig())
	got, err := o.GetRelevantContext(ctx, Request{Query: "wireless headphones"})
	require.NoError(t, err)
	require.NotEmpty(t, got.Memories)
	assert.Equal(t, rec.ID, got.Memories[0].ID)
}

func TestPreferencePoolPrecedesGeneralMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pref, err := f.memories.Create(ctx, memory.CreateInput{
		Content:    "preferences",
		Type:       types.MemorySemantic,
		Importance: 0.9,
	})
	require.NoError(t, err)
	episodic, err := f.memories.Create(ctx, memory.CreateInput{
		Content: "discussed delivery windows",
		Type:    types.MemoryEpisodic,
	})
	require.NoError(t, err)

	o := New(f.memories, f.working, testConfig())
	got, err := o.GetRelevantContext(ctx, Request{Query: "discussed delivery windows"})
	require.NoError(t, err)
	require.Len(t, got.Memories, 2)
	assert.Equal(t, pref.ID, got.Memories[0].ID)
	assert.Equal(t, episodic.ID, got.Memories[1].ID)
}

func TestPreferencePoolSemanticOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Episodic content that matches the preference keywords must not
	// ride in through the preference pool.
	_, err := f.memories.Create(ctx, memory.CreateInput{
		Content: "preferences",
		Type:    types.MemoryEpisodic,
	})
	require.NoError(t, err)
	semantic, err := f.memories.Create(ctx, memory.CreateInput{
		Content: "preferences include morning deliveries",
		Type:    types.MemorySemantic,
	})
	require.NoError(t, err)

	o := New(f.memories, f.working, testConfig())
	got, err := o.GetRelevantContext(ctx, Request{})
	require.NoError(t, err)
	require.Len(t, got.Memories, 1)
	assert.Equal(t, semantic.ID, got.Memories[0].ID)
}

func TestDeduplicationFirstPoolWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One memory that matches the preference query AND the user query.
	rec, err := f.memories.Create(ctx, memory.CreateInput{
		Content: "preferences include quiet hotels",
		Type:    types.MemorySemantic,
	})
	require.NoError(t, err)

	o := New(f.memories, f.working, testConfig())
	got, err := o.GetRelevantContext(ctx, Request{Query: "preferences include quiet hotels"})
	require.NoError(t, err)
	require.Len(t, got.Memories, 1)
	assert.Equal(t, rec.ID, got.Memories[0].ID)
}

func TestConversationPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recent, err := f.memories.Create(ctx, memory.CreateInput{
		Content:  "ordered two units earlier today",
		Type:     types.MemoryEpisodic,
		Metadata: types.Metadata{ConversationID: "conv-1"},
	})
	require.NoError(t, err)
	_, err = f.memories.Create(ctx, memory.CreateInput{
		Content:  "unrelated conversation detail",
		Type:     types.MemoryEpisodic,
		Metadata: types.Metadata{ConversationID: "conv-2"},
	})
	require.NoError(t, err)

	o := New(f.memories, f.working, testConfig())
	got, err := o.GetRelevantContext(ctx, Request{
		Query:          "completely different topic words",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(got.Memories))
	for _, m := range got.Memories {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, recent.ID)
	assert.Len(t, ids, 1)
}

func TestConversationPoolOutranksGeneralUnderCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.memories.Create(ctx, memory.CreateInput{
		Content:  "ordered two units earlier today",
		Type:     types.MemoryEpisodic,
		Metadata: types.Metadata{ConversationID: "conv-1"},
	})
	require.NoError(t, err)
	for _, content := range []string{"shared topic words one", "shared topic words two"} {
		_, err := f.memories.Create(ctx, memory.CreateInput{
			Content: content,
			Type:    types.MemoryEpisodic,
		})
		require.NoError(t, err)
	}

	cfg := testConfig()
	cfg.MaxMemories = 2
	o := New(f.memories, f.working, cfg)
	got, err := o.GetRelevantContext(ctx, Request{
		Query:          "shared topic words",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	// The conversation hit holds the front slot; the cap trims general
	// matches, never conversation context.
	require.Len(t, got.Memories, 2)
	assert.Equal(t, conv.ID, got.Memories[0].ID)
	assert.NotEqual(t, conv.ID, got.Memories[1].ID)
}

func TestSameMemoryInTwoPoolsKeepsConversationSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	both, err := f.memories.Create(ctx, memory.CreateInput{
		Content:  "customer asked about wireless headphones",
		Type:     types.MemoryEpisodic,
		Metadata: types.Metadata{ConversationID: "conv-1"},
	})
	require.NoError(t, err)
	other, err := f.memories.Create(ctx, memory.CreateInput{
		Content: "wireless headphones restocked",
		Type:    types.MemoryEpisodic,
	})
	require.NoError(t, err)

	o := New(f.memories, f.working, testConfig())
	got, err := o.GetRelevantContext(ctx, Request{
		Query:          "wireless headphones",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	// Matched by both the conversation and relevance pools: appears
	// once, in the conversation pool's slot at the front.
	require.Len(t, got.Memories, 2)
	assert.Equal(t, both.ID, got.Memories[0].ID)
	assert.Equal(t, other.ID, got.Memories[1].ID)
}

func TestMaxMemoriesCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := f.memories.Create(ctx, memory.CreateInput{
			Content: "shared topic words number " + string(rune('a'+i)),
			Type:    types.MemoryEpisodic,
		})
		require.NoError(t, err)
	}

	cfg := testConfig()
	cfg.MaxMemories = 3
	o := New(f.memories, f.working, cfg)
	got, err := o.GetRelevantContext(ctx, Request{Query: "shared topic words"})
	require.NoError(t, err)
	assert.Len(t, got.Memories, 3)
}

func TestWorkingMemoryAttached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.working.Upsert(ctx, working.UpsertInput{
		SessionID:       "sess-1",
		ShortTermMemory: map[string]string{"topic": "returns"},
	})
	require.NoError(t, err)

	o := New(f.memories, f.working, testConfig())
	got, err := o.GetRelevantContext(ctx, Request{Query: "anything", SessionID: "sess-1"})
	require.NoError(t, err)
	require.NotNil(t, got.WorkingMemory)
	assert.Equal(t, "returns", got.WorkingMemory.ShortTermMemory["topic"])

	// Unknown session attaches nothing.
	got, err = o.GetRelevantContext(ctx, Request{Query: "anything", SessionID: "sess-unknown"})
	require.NoError(t, err)
	assert.Nil(t, got.WorkingMemory)
}

func TestEmptyStateYieldsEmptyContext(t *testing.T) {
	f := newFixture(t)

	o := New(f.memories, f.working, testConfig())
	got, err := o.GetRelevantContext(context.Background(), Request{Query: "nothing stored yet"})
	require.NoError(t, err)
	assert.Empty(t, got.Memories)
	assert.Nil(t, got.WorkingMemory)
}
