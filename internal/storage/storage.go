// Package storage defines the record-store contract backing the memory
// subsystem. The record store is the authoritative home of all memory
// and working-memory fields; the vector index is a derived cache that
// can always be rebuilt from it.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/commercekit/recall/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// RecordStore is transactional keyed storage for durable memory records.
type RecordStore interface {
	// PutMemory inserts or replaces a record by id.
	PutMemory(ctx context.Context, rec *types.MemoryRecord) error

	// GetMemory returns the record with the given id or ErrNotFound.
	GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error)

	// GetMemories returns the records for the given ids, preserving the
	// input order and silently skipping ids that no longer exist.
	GetMemories(ctx context.Context, ids []string) ([]*types.MemoryRecord, error)

	// Touch increments access_count and sets last_accessed_at.
	// Returns ErrNotFound for an unknown id.
	Touch(ctx context.Context, id string, at time.Time) error

	// DeleteMemory removes a record by id. Returns ErrNotFound when absent.
	DeleteMemory(ctx context.Context, id string) error

	// DeleteStale removes up to limit records created before cutoff AND
	// with importance strictly below importanceBelow, returning the
	// deleted ids. limit <= 0 means no limit.
	DeleteStale(ctx context.Context, cutoff time.Time, importanceBelow float64, limit int) ([]string, error)

	// ByConversation returns records whose metadata ties them to the
	// given conversation, newest first, up to limit.
	ByConversation(ctx context.Context, conversationID string, limit int) ([]*types.MemoryRecord, error)

	// EachEmbedded streams every record that has an embedding to fn, for
	// index rebuilds. Iteration stops on the first error from fn.
	EachEmbedded(ctx context.Context, fn func(id string, vec []float32) error) error

	// CountMemories returns the total number of durable records.
	CountMemories(ctx context.Context) (int, error)
}

// WorkingStore is keyed storage for session-scoped working memory.
// Expiry semantics live above this interface; the store persists
// whatever record it is handed.
type WorkingStore interface {
	// GetWorking returns the record for a session or ErrNotFound.
	// Inactive and expired records are returned as stored; the caller
	// applies the lazy-expiry policy.
	GetWorking(ctx context.Context, sessionID string) (*types.WorkingMemoryRecord, error)

	// PutWorking inserts or replaces the record keyed by session id.
	PutWorking(ctx context.Context, rec *types.WorkingMemoryRecord) error

	// DeactivateWorking sets active=false, retaining the record.
	// Returns ErrNotFound for an unknown session.
	DeactivateWorking(ctx context.Context, sessionID string) error

	// ListActiveWorking returns all records whose active flag is set,
	// including ones whose TTL has lapsed but not yet been swept.
	ListActiveWorking(ctx context.Context) ([]*types.WorkingMemoryRecord, error)
}

// Store is the full record-store surface a backend must provide.
type Store interface {
	RecordStore
	WorkingStore

	Close() error
}
