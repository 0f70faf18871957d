// Package sqlite implements the record store on modernc.org/sqlite.
// It is the default authoritative backend: every memory and
// working-memory field lives here, and the vector index is rebuilt from
// this store whenever the two disagree.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/commercekit/recall/internal/storage"
	"github.com/commercekit/recall/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given DSN. ":memory:"
// yields an ephemeral store for tests.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open
	// connection serialises writes and avoids SQLITE_BUSY under load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const memoryColumns = `
	id, owner, content, embedding, embedding_dim, memory_type,
	importance, access_count, last_accessed_at, created_at,
	conversation_id, tags, metadata
`

// PutMemory inserts or replaces a record (upsert semantics).
func (s *Store) PutMemory(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	var tagsJSON, metadataJSON []byte
	var err error
	if len(rec.Tags) > 0 {
		if tagsJSON, err = json.Marshal(rec.Tags); err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}
	if !rec.Metadata.IsZero() {
		if metadataJSON, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner            = excluded.owner,
			content          = excluded.content,
			embedding        = excluded.embedding,
			embedding_dim    = excluded.embedding_dim,
			memory_type      = excluded.memory_type,
			importance       = excluded.importance,
			access_count     = excluded.access_count,
			last_accessed_at = excluded.last_accessed_at,
			conversation_id  = excluded.conversation_id,
			tags             = excluded.tags,
			metadata         = excluded.metadata
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Owner, rec.Content,
		serializeEmbedding(rec.Embedding), len(rec.Embedding),
		string(rec.Type), rec.Importance, rec.AccessCount,
		rec.LastAccessedAt, rec.CreatedAt,
		rec.Metadata.ConversationID, nullableJSON(tagsJSON), nullableJSON(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store memory %s: %w", rec.ID, err)
	}
	return nil
}

// GetMemory returns a record by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory %s: %w", id, err)
	}
	return rec, nil
}

// GetMemories returns the records for ids, preserving input order and
// skipping ids that no longer exist.
func (s *Store) GetMemories(ctx context.Context, ids []string) ([]*types.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get memories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.MemoryRecord, len(ids))
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}

	out := make([]*types.MemoryRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Touch increments access_count and stamps last_accessed_at.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		at, id)
	if err != nil {
		return fmt.Errorf("failed to touch memory %s: %w", id, err)
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

// DeleteMemory removes a record by id.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory %s: %w", id, err)
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

// DeleteStale removes up to limit records created before cutoff whose
// importance is strictly below importanceBelow, returning the deleted
// ids. Selection and deletion run in one transaction so a concurrent
// writer cannot slip a record between the two.
func (s *Store) DeleteStale(ctx context.Context, cutoff time.Time, importanceBelow float64, limit int) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT id FROM memories WHERE created_at < ? AND importance < ?`
	args := []interface{}{cutoff, importanceBelow}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale memories: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stale id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate stale ids: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	delArgs := make([]interface{}, len(ids))
	for i, id := range ids {
		delArgs[i] = id
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id IN (`+placeholders+`)`, delArgs...); err != nil {
		return nil, fmt.Errorf("failed to delete stale memories: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stale delete: %w", err)
	}
	return ids, nil
}

// ByConversation returns records tied to a conversation, newest first.
func (s *Store) ByConversation(ctx context.Context, conversationID string, limit int) ([]*types.MemoryRecord, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EachEmbedded streams (id, vector) for every record with an embedding.
func (s *Store) EachEmbedded(ctx context.Context, fn func(id string, vec []float32) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding, embedding_dim FROM memories WHERE embedding IS NOT NULL AND embedding_dim > 0`)
	if err != nil {
		return fmt.Errorf("failed to query embedded memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		var dim int
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			return fmt.Errorf("failed to scan embedding row: %w", err)
		}
		vec, err := deserializeEmbedding(blob, dim)
		if err != nil {
			return fmt.Errorf("failed to deserialize embedding for %s: %w", id, err)
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountMemories returns the total number of durable records.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return n, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanMemory.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (*types.MemoryRecord, error) {
	var rec types.MemoryRecord
	var memoryType, conversationID string
	var blob []byte
	var dim int
	var tagsJSON, metadataJSON sql.NullString
	var lastAccessed sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.Owner, &rec.Content, &blob, &dim, &memoryType,
		&rec.Importance, &rec.AccessCount, &lastAccessed, &rec.CreatedAt,
		&conversationID, &tagsJSON, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = types.MemoryType(memoryType)
	if lastAccessed.Valid {
		t := lastAccessed.Time
		rec.LastAccessedAt = &t
	}
	if dim > 0 && len(blob) > 0 {
		vec, err := deserializeEmbedding(blob, dim)
		if err != nil {
			return nil, err
		}
		rec.Embedding = vec
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	// conversation_id column is derived from metadata on write; restore
	// it in case the metadata JSON predates the column.
	if rec.Metadata.ConversationID == "" {
		rec.Metadata.ConversationID = conversationID
	}

	return &rec, nil
}

// nullableJSON maps an empty JSON payload to NULL.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ storage.Store = (*Store)(nil)
