package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/commercekit/recall/internal/storage"
	"github.com/commercekit/recall/pkg/types"
)

// GetWorking returns the working-memory record for a session. Expiry and
// activity policy is applied by the caller; the store returns the row as
// persisted.
func (s *Store) GetWorking(ctx context.Context, sessionID string) (*types.WorkingMemoryRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, context_data, short_term_memory, expires_at, active, created_at, updated_at
		FROM working_memory WHERE session_id = ?`, sessionID)

	rec, err := scanWorking(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get working memory %s: %w", sessionID, err)
	}
	return rec, nil
}

// PutWorking inserts or replaces the record keyed by session id.
func (s *Store) PutWorking(ctx context.Context, rec *types.WorkingMemoryRecord) error {
	if rec == nil || rec.SessionID == "" {
		return fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	contextJSON, err := marshalMap(rec.ContextData)
	if err != nil {
		return fmt.Errorf("failed to marshal context data: %w", err)
	}
	shortTermJSON, err := marshalMap(rec.ShortTermMemory)
	if err != nil {
		return fmt.Errorf("failed to marshal short-term memory: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO working_memory (session_id, context_data, short_term_memory, expires_at, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			context_data      = excluded.context_data,
			short_term_memory = excluded.short_term_memory,
			expires_at        = excluded.expires_at,
			active            = excluded.active,
			updated_at        = excluded.updated_at
	`, rec.SessionID, contextJSON, shortTermJSON, rec.ExpiresAt, rec.Active, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store working memory %s: %w", rec.SessionID, err)
	}
	return nil
}

// DeactivateWorking sets active=false, retaining the record for audit.
func (s *Store) DeactivateWorking(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE working_memory SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate working memory %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListActiveWorking returns every record whose active flag is set.
func (s *Store) ListActiveWorking(ctx context.Context) ([]*types.WorkingMemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, context_data, short_term_memory, expires_at, active, created_at, updated_at
		FROM working_memory WHERE active = 1 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active working memory: %w", err)
	}
	defer rows.Close()

	var out []*types.WorkingMemoryRecord
	for rows.Next() {
		rec, err := scanWorking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan working memory: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanWorking(row scanner) (*types.WorkingMemoryRecord, error) {
	var rec types.WorkingMemoryRecord
	var contextJSON, shortTermJSON sql.NullString
	var expiresAt sql.NullTime

	err := row.Scan(&rec.SessionID, &contextJSON, &shortTermJSON, &expiresAt,
		&rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &rec.ContextData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context data: %w", err)
		}
	}
	if shortTermJSON.Valid && shortTermJSON.String != "" {
		if err := json.Unmarshal([]byte(shortTermJSON.String), &rec.ShortTermMemory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal short-term memory: %w", err)
		}
	}
	return &rec, nil
}

func marshalMap(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
