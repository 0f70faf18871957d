// Package retrieval assembles the context handed to an agent turn. It
// merges three memory pools: recent conversation history, long-lived
// preferences, and memories relevant to the current query, then
// attaches the session's working memory.
package retrieval

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/commercekit/recall/internal/memory"
	"github.com/commercekit/recall/internal/working"
	"github.com/commercekit/recall/pkg/types"
)

// Config controls context assembly.
type Config struct {
	// PreferenceKeywords augment the request query for the preference
	// pool (default "preferences likes dislikes favorite").
	PreferenceKeywords string

	// SemanticThreshold is the similarity floor for the preference
	// pool (default 0.7). Preferences must match strongly to avoid
	// polluting every turn with weakly related facts.
	SemanticThreshold float64

	// DefaultThreshold is the similarity floor for the query-relevance
	// pool (default 0.5).
	DefaultThreshold float64

	// MaxMemories caps the merged memory list (default 10).
	MaxMemories int

	Logger *log.Logger
}

func (c *Config) defaults() {
	if c.PreferenceKeywords == "" {
		c.PreferenceKeywords = "preferences likes dislikes favorite"
	}
	if c.SemanticThreshold <= 0 {
		c.SemanticThreshold = 0.7
	}
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = 0.5
	}
	if c.MaxMemories <= 0 {
		c.MaxMemories = 10
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Request identifies what context to assemble.
type Request struct {
	// Query is the current user input driving relevance search.
	Query string

	// SessionID selects the working memory to attach. Empty skips it.
	SessionID string

	// ConversationID pulls in recent same-conversation memories.
	// Empty skips the recency pool.
	ConversationID string
}

// Context is the assembled result of one retrieval.
type Context struct {
	// Memories is the merged, deduplicated pool, conversation hits
	// first, capped at MaxMemories.
	Memories []*types.MemoryRecord `json:"memories"`

	// WorkingMemory is the session's live working memory, nil when the
	// session has none.
	WorkingMemory *types.WorkingMemoryRecord `json:"working_memory,omitempty"`
}

// Orchestrator merges memory pools into agent context.
type Orchestrator struct {
	memories *memory.Store
	working  *working.Store
	cfg      Config
	log      *log.Logger
}

// New creates an orchestrator.
func New(m *memory.Store, w *working.Store, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		memories: m,
		working:  w,
		cfg:      cfg,
		log:      cfg.Logger.With("component", "retrieval"),
	}
}

// GetRelevantContext assembles context for one agent turn. Pool order
// decides conflicts: a memory surfaced by an earlier pool keeps its
// slot and later pools cannot re-add it. A pool that errors is logged
// and skipped so one degraded source never empties the whole context.
func (o *Orchestrator) GetRelevantContext(ctx context.Context, req Request) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Context{}
	seen := make(map[string]bool)

	add := func(recs []*types.MemoryRecord) {
		for _, rec := range recs {
			if seen[rec.ID] || len(out.Memories) >= o.cfg.MaxMemories {
				continue
			}
			seen[rec.ID] = true
			out.Memories = append(out.Memories, rec)
		}
	}

	// Pool a: recent memories from the same conversation. These carry
	// the immediate context of the turn and outrank everything else.
	if req.ConversationID != "" {
		recent, err := o.memories.ByConversation(ctx, req.ConversationID, o.cfg.MaxMemories)
		if err != nil {
			o.log.Warn("conversation pool unavailable", "err", err)
		} else {
			add(recent)
		}
	}

	// Pool b: durable preferences, semantic records only, high
	// threshold. The request query augments the keyword set so
	// preferences in the query's domain outrank generic ones.
	prefQuery := strings.TrimSpace(req.Query + " " + o.cfg.PreferenceKeywords)
	prefs, err := o.memories.Search(ctx, prefQuery, memory.SearchOptions{
		Limit:         o.cfg.MaxMemories,
		MinSimilarity: o.cfg.SemanticThreshold,
		Type:          types.MemorySemantic,
	})
	if err != nil {
		o.log.Warn("preference pool unavailable", "err", err)
	} else {
		add(records(prefs))
	}

	// Pool c: memories relevant to the current query.
	if strings.TrimSpace(req.Query) != "" {
		relevant, err := o.memories.Search(ctx, req.Query, memory.SearchOptions{
			Limit:         o.cfg.MaxMemories,
			MinSimilarity: o.cfg.DefaultThreshold,
		})
		if err != nil {
			o.log.Warn("relevance pool unavailable", "err", err)
		} else {
			add(records(relevant))
		}
	}

	if req.SessionID != "" {
		wm, err := o.working.Get(ctx, req.SessionID)
		if err != nil {
			o.log.Warn("working memory unavailable", "session_id", req.SessionID, "err", err)
		} else {
			out.WorkingMemory = wm
		}
	}

	return out, nil
}

func records(results []memory.SearchResult) []*types.MemoryRecord {
	recs := make([]*types.MemoryRecord, len(results))
	for i, r := range results {
		recs[i] = r.Record
	}
	return recs
}
