// Package working manages session-scoped working memory: a single
// active record per session, merged on upsert, soft-deleted on clear,
// and expired lazily on read.
package working

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/commercekit/recall/internal/storage"
	"github.com/commercekit/recall/pkg/types"
)

// Store applies working-memory policy on top of a storage.WorkingStore.
type Store struct {
	backend storage.WorkingStore
	log     *log.Logger
	now     func() time.Time
}

// New creates a working-memory store.
func New(backend storage.WorkingStore, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		backend: backend,
		log:     logger.With("component", "working"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the active working memory for a session, or nil when the
// session has none. A record whose TTL has lapsed is deactivated as a
// side effect and reported as absent: expiry is enforced on the read
// path, no sweeper required.
func (s *Store) Get(ctx context.Context, sessionID string) (*types.WorkingMemoryRecord, error) {
	rec, err := s.backend.GetWorking(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.Active {
		return nil, nil
	}
	if rec.Expired(s.now()) {
		if err := s.backend.DeactivateWorking(ctx, sessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("failed to deactivate expired working memory", "session_id", sessionID, "err", err)
		}
		return nil, nil
	}
	return rec, nil
}

// UpsertInput is the caller-facing shape of a working-memory update.
type UpsertInput struct {
	SessionID       string
	ContextData     map[string]string
	ShortTermMemory map[string]string

	// TTL > 0 sets (or resets) the expiry deadline relative to now.
	// Zero leaves any existing deadline untouched.
	TTL time.Duration
}

// Upsert merges the input into the session's active record, creating a
// fresh one when the session has no live record (none, cleared, or
// expired). Map entries are merged key-by-key with incoming values
// winning; keys absent from the input are preserved.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (*types.WorkingMemoryRecord, error) {
	if in.SessionID == "" {
		return nil, storage.ErrInvalidInput
	}
	now := s.now()

	rec, err := s.Get(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &types.WorkingMemoryRecord{
			SessionID: in.SessionID,
			Active:    true,
			CreatedAt: now,
		}
	}

	rec.ContextData = mergeMap(rec.ContextData, in.ContextData)
	rec.ShortTermMemory = mergeMap(rec.ShortTermMemory, in.ShortTermMemory)
	if in.TTL > 0 {
		deadline := now.Add(in.TTL)
		rec.ExpiresAt = &deadline
	}
	rec.UpdatedAt = now

	if err := s.backend.PutWorking(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Clear deactivates the session's working memory, retaining the record
// for audit. Clearing a session that has no record is a no-op.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	err := s.backend.DeactivateWorking(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Deactivate marks the session inactive, surfacing ErrNotFound for an
// unknown session. Consolidation uses this to guarantee idempotence.
func (s *Store) Deactivate(ctx context.Context, sessionID string) error {
	return s.backend.DeactivateWorking(ctx, sessionID)
}

// ListActive returns the live working-memory records: active and not
// expired. Lapsed records encountered here are deactivated in passing.
func (s *Store) ListActive(ctx context.Context) ([]*types.WorkingMemoryRecord, error) {
	recs, err := s.backend.ListActiveWorking(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	live := recs[:0]
	for _, rec := range recs {
		if rec.Expired(now) {
			if err := s.backend.DeactivateWorking(ctx, rec.SessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.log.Warn("failed to deactivate expired working memory", "session_id", rec.SessionID, "err", err)
			}
			continue
		}
		live = append(live, rec)
	}
	return live, nil
}

func mergeMap(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
