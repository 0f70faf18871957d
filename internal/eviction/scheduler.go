// Package eviction reclaims old low-importance memories in batches and
// keeps the vector index compacted afterward.
package eviction

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/commercekit/recall/internal/memory"
)

// Policy decides what an eviction pass removes.
type Policy struct {
	// MaxAge evicts records older than this (default 30 days).
	MaxAge time.Duration

	// ImportanceFloor protects records at or above this importance
	// regardless of age (default 0.5).
	ImportanceFloor float64

	// BatchSize bounds one delete round-trip (default 500). Batching
	// keeps any single store transaction small under large backlogs.
	BatchSize int

	// SnapshotDir, when set, persists an index snapshot after a pass
	// that rebuilt the index.
	SnapshotDir string

	Logger *log.Logger
}

func (p *Policy) defaults() {
	if p.MaxAge <= 0 {
		p.MaxAge = 30 * 24 * time.Hour
	}
	if p.ImportanceFloor <= 0 {
		p.ImportanceFloor = 0.5
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 500
	}
	if p.Logger == nil {
		p.Logger = log.Default()
	}
}

// Report summarizes one eviction pass.
type Report struct {
	// Deleted is the number of records removed.
	Deleted int `json:"deleted"`

	// Batches is the number of delete rounds the pass took.
	Batches int `json:"batches"`

	// Rebuilt is true when the index was rebuilt (and compacted).
	Rebuilt bool `json:"rebuilt"`
}

// Scheduler runs eviction passes over a memory store.
type Scheduler struct {
	memories *memory.Store
	policy   Policy
	log      *log.Logger
	now      func() time.Time
}

// New creates a scheduler with the given policy.
func New(m *memory.Store, policy Policy) *Scheduler {
	policy.defaults()
	return &Scheduler{
		memories: m,
		policy:   policy,
		log:      policy.Logger.With("component", "eviction"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce executes one eviction pass: delete stale records in batches,
// then rebuild the index when anything was deleted or the tombstone
// ratio has crossed the compaction threshold. Cancellation between
// batches leaves already-deleted batches deleted; the next pass picks
// up where this one stopped.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	cutoff := s.now().Add(-s.policy.MaxAge)

	var rep Report
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		ids, err := s.memories.DeleteStale(ctx, cutoff, s.policy.ImportanceFloor, s.policy.BatchSize)
		if err != nil {
			return rep, fmt.Errorf("eviction batch failed: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		rep.Deleted += len(ids)
		rep.Batches++
		if len(ids) < s.policy.BatchSize {
			break
		}
	}

	if rep.Deleted > 0 || s.memories.Index().NeedsCompaction() {
		if err := s.memories.RebuildIndex(ctx); err != nil {
			return rep, fmt.Errorf("post-eviction rebuild failed: %w", err)
		}
		rep.Rebuilt = true

		if s.policy.SnapshotDir != "" {
			if err := s.memories.Index().WriteSnapshot(s.policy.SnapshotDir); err != nil {
				// The in-memory index is already correct; a failed
				// snapshot only costs rebuild time on the next start.
				s.log.Warn("failed to write index snapshot", "dir", s.policy.SnapshotDir, "err", err)
			}
		}
	}

	s.log.Info("eviction pass complete",
		"deleted", rep.Deleted, "batches", rep.Batches, "rebuilt", rep.Rebuilt)
	return rep, nil
}

// Run executes RunOnce on the given interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("eviction pass failed", "err", err)
			}
		}
	}
}
