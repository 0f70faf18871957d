// Package consolidation promotes working-memory entries into durable
// memories. Promotion deactivates the source record, which is what makes
// a re-run a no-op: once consolidated, a session contributes nothing
// until new working memory is written.
package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/commercekit/recall/internal/memory"
	"github.com/commercekit/recall/internal/working"
	"github.com/commercekit/recall/pkg/types"
)

// Predicate decides whether a short-term entry is worth keeping.
type Predicate func(key, value string) bool

// KeywordPredicate promotes entries whose key or value contains any of
// the given keywords, case-insensitively. With no keywords everything
// is promoted.
func KeywordPredicate(keywords ...string) Predicate {
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}
	return func(key, value string) bool {
		if len(lowered) == 0 {
			return true
		}
		k, v := strings.ToLower(key), strings.ToLower(value)
		for _, kw := range lowered {
			if strings.Contains(k, kw) || strings.Contains(v, kw) {
				return true
			}
		}
		return false
	}
}

// Config controls consolidation behavior.
type Config struct {
	// Importance is assigned to promoted memories (default 0.6).
	Importance float64

	// Predicate selects the entries to promote. Nil promotes all.
	Predicate Predicate

	Logger *log.Logger
}

// Summary reports one consolidation run.
type Summary struct {
	// Scanned is the number of live working-memory records examined.
	Scanned int `json:"scanned"`

	// Promoted is the number of durable memories created.
	Promoted int `json:"promoted"`

	// Failed counts entries whose promotion errored. The run continues
	// past individual failures; the source record is deactivated anyway
	// so a retry cannot double-promote the entries that succeeded.
	Failed int `json:"failed"`
}

// Engine runs consolidation over the working store into the memory
// store.
type Engine struct {
	working   *working.Store
	memories  *memory.Store
	cfg       Config
	predicate Predicate
	log       *log.Logger
}

// New creates a consolidation engine.
func New(w *working.Store, m *memory.Store, cfg Config) *Engine {
	if cfg.Importance <= 0 {
		cfg.Importance = 0.6
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	pred := cfg.Predicate
	if pred == nil {
		pred = func(string, string) bool { return true }
	}
	return &Engine{
		working:   w,
		memories:  m,
		cfg:       cfg,
		predicate: pred,
		log:       cfg.Logger.With("component", "consolidation"),
	}
}

// Run scans live working memory, promotes matching entries as durable
// episodic memories, and deactivates each scanned record. ownerFilter
// restricts the scan to sessions whose context owner matches; empty
// means all sessions. Cancellation is honored between records: already
// promoted entries stay promoted.
func (e *Engine) Run(ctx context.Context, ownerFilter string) (Summary, error) {
	recs, err := e.working.ListActive(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list working memory: %w", err)
	}

	var sum Summary
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if ownerFilter != "" && rec.Owner() != ownerFilter {
			continue
		}
		sum.Scanned++

		promoted, failed := e.consolidateRecord(ctx, rec)
		sum.Promoted += promoted
		sum.Failed += failed

		// Deactivation is the idempotence guard: it happens even when
		// some entries failed, so a re-run never duplicates the ones
		// that succeeded. Failures are reported, not retried.
		if err := e.working.Deactivate(ctx, rec.SessionID); err != nil {
			e.log.Error("failed to deactivate consolidated session",
				"session_id", rec.SessionID, "err", err)
		}
	}

	e.log.Info("consolidation run complete",
		"scanned", sum.Scanned, "promoted", sum.Promoted, "failed", sum.Failed)
	return sum, nil
}

// consolidateRecord promotes the matching entries of one working-memory
// record. Keys are visited in sorted order so repeated runs over equal
// input produce memories in a stable order.
func (e *Engine) consolidateRecord(ctx context.Context, rec *types.WorkingMemoryRecord) (promoted, failed int) {
	keys := make([]string, 0, len(rec.ShortTermMemory))
	for k := range rec.ShortTermMemory {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := rec.ShortTermMemory[key]
		if !e.predicate(key, value) {
			continue
		}

		_, err := e.memories.Create(ctx, memory.CreateInput{
			Owner:      rec.Owner(),
			Content:    fmt.Sprintf("%s: %s", key, value),
			Type:       types.MemoryEpisodic,
			Importance: e.cfg.Importance,
			Tags:       []string{"source=working_memory", "session:" + rec.SessionID},
			Metadata: types.Metadata{
				Source: "consolidation",
			},
		})
		if err != nil {
			e.log.Warn("failed to promote working-memory entry",
				"session_id", rec.SessionID, "key", key, "err", err)
			failed++
			continue
		}
		promoted++
	}
	return promoted, failed
}
