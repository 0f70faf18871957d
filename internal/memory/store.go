// Package memory ties the record store, the vector index, and the
// embedding provider into the durable memory lifecycle: create, search,
// touch, delete, and index rebuild.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/commercekit/recall/internal/embedding"
	"github.com/commercekit/recall/internal/storage"
	"github.com/commercekit/recall/internal/vector"
	"github.com/commercekit/recall/pkg/types"
)

// ErrNotStarted is returned when async indexing is requested before
// Start or after Shutdown.
var ErrNotStarted = errors.New("memory store not started")

// Config controls store behavior.
type Config struct {
	// AsyncIndexing makes Create persist the record immediately and
	// defer embedding + indexing to the worker pool. Synchronous mode
	// embeds inline and the record is searchable on return.
	AsyncIndexing bool

	// AsyncWorkers is the number of indexing workers (default 2).
	AsyncWorkers int

	// QueueSize bounds the indexing job queue (default 100).
	QueueSize int

	// ShutdownTimeout caps the drain wait on Shutdown (default 30s).
	ShutdownTimeout time.Duration

	// OverFetchFactor is the index fetch multiplier covering records
	// deleted between the index scan and the store read (default 2).
	OverFetchFactor int

	// RetryFetchFactor is the widened multiplier for the single retry
	// when over-fetch still under-fills the result (default 4).
	RetryFetchFactor int

	Logger *log.Logger
}

func (c *Config) defaults() {
	if c.AsyncWorkers <= 0 {
		c.AsyncWorkers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.OverFetchFactor <= 0 {
		c.OverFetchFactor = 2
	}
	if c.RetryFetchFactor <= c.OverFetchFactor {
		c.RetryFetchFactor = c.OverFetchFactor * 2
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// CreateInput is the caller-facing shape of a new memory.
type CreateInput struct {
	// ID is optional; a UUID is generated when empty.
	ID         string
	Owner      string
	Content    string
	Type       types.MemoryType
	Importance float64
	Tags       []string
	Metadata   types.Metadata
}

// SearchResult pairs a full record with its query similarity.
type SearchResult struct {
	Record     *types.MemoryRecord
	Similarity float64
}

// SearchOptions bounds and filters a similarity search. Zero-value
// filters match everything.
type SearchOptions struct {
	// Limit caps the result count. Non-positive yields no results.
	Limit int

	// MinSimilarity is the similarity floor in [0, 1].
	MinSimilarity float64

	// Type restricts results to one memory type. Empty matches all.
	Type types.MemoryType

	// Owner restricts results to one owner. Empty matches all.
	Owner string
}

// matches reports whether a record passes the type and owner filters.
func (o SearchOptions) matches(rec *types.MemoryRecord) bool {
	if o.Type != "" && rec.Type != o.Type {
		return false
	}
	if o.Owner != "" && rec.Owner != o.Owner {
		return false
	}
	return true
}

// Store is the durable memory store. All methods are safe for
// concurrent use.
type Store struct {
	records  storage.RecordStore
	index    *vector.Index
	embedder embedding.Provider
	cfg      Config
	log      *log.Logger

	mu      sync.Mutex
	jobs    chan indexJob
	wg      sync.WaitGroup
	started bool
}

// New assembles a store. Call Start before relying on async indexing.
func New(records storage.RecordStore, index *vector.Index, embedder embedding.Provider, cfg Config) *Store {
	cfg.defaults()
	return &Store{
		records:  records,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		log:      cfg.Logger.With("component", "memory"),
	}
}

// Create validates, persists, and indexes a new memory. In synchronous
// mode the embedding is computed inline: a provider failure means no
// record is persisted and no index mutation happens. In async mode the
// record is persisted without an embedding and picked up by a worker;
// it is durable immediately but not searchable until indexed.
func (s *Store) Create(ctx context.Context, in CreateInput) (*types.MemoryRecord, error) {
	rec := &types.MemoryRecord{
		ID:         in.ID,
		Owner:      in.Owner,
		Content:    in.Content,
		Type:       in.Type,
		Importance: types.ClampScore(in.Importance),
		CreatedAt:  time.Now().UTC(),
		Tags:       in.Tags,
		Metadata:   in.Metadata,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	if s.cfg.AsyncIndexing {
		if err := s.records.PutMemory(ctx, rec); err != nil {
			return nil, err
		}
		if err := s.enqueue(indexJob{memoryID: rec.ID, content: rec.Content}); err != nil {
			// Queue unavailable or full: index inline rather than leave
			// the record invisible to search indefinitely.
			s.log.Warn("index queue unavailable, embedding inline", "memory_id", rec.ID, "err", err)
			if err := s.embedAndIndex(ctx, rec); err != nil {
				return nil, err
			}
		}
		return rec, nil
	}

	vec, err := s.embed(ctx, rec.Content)
	if err != nil {
		return nil, err
	}
	rec.Embedding = vec

	if err := s.records.PutMemory(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := s.index.Add(vec, rec.ID); err != nil {
		// The record is durable; the index will pick it up on the next
		// rebuild. Surface the error so the caller knows search lags.
		return rec, fmt.Errorf("memory %s persisted but not indexed: %w", rec.ID, err)
	}
	return rec, nil
}

// Search embeds the query and returns up to opts.Limit records passing
// the similarity floor and the type/owner filters, ordered by
// similarity descending. The index is over-fetched to absorb records
// deleted or filtered out since the last rebuild; if the store read
// still under-fills the result, one wider retry runs before returning
// what was found.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}

	qvec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, exhausted, err := s.fetchMatches(ctx, qvec, opts, opts.Limit*s.cfg.OverFetchFactor)
	if err != nil {
		return nil, err
	}
	if len(results) < opts.Limit && !exhausted {
		results, _, err = s.fetchMatches(ctx, qvec, opts, opts.Limit*s.cfg.RetryFetchFactor)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// fetchMatches scans the index for up to k candidates, filters by the
// similarity floor, and resolves survivors against the record store,
// where the type/owner filters apply. exhausted is true when the index
// had no more candidates to offer.
func (s *Store) fetchMatches(ctx context.Context, qvec []float32, opts SearchOptions, k int) ([]SearchResult, bool, error) {
	matches, err := s.index.Search(qvec, k)
	if err != nil {
		return nil, false, err
	}
	exhausted := len(matches) < k

	ids := make([]string, 0, len(matches))
	simByID := make(map[string]float64, len(matches))
	for _, m := range matches {
		if m.Similarity < opts.MinSimilarity {
			continue // matches are ordered, but keep the filter simple
		}
		ids = append(ids, m.ID)
		simByID[m.ID] = m.Similarity
	}
	if len(ids) == 0 {
		return nil, exhausted, nil
	}

	recs, err := s.records.GetMemories(ctx, ids)
	if err != nil {
		return nil, false, err
	}

	// Ghosts: indexed ids with no record. Tombstone them so the index
	// converges on the store without waiting for a rebuild. Records
	// excluded by a filter are alive; only truly missing ids count.
	found := make(map[string]bool, len(recs))
	results := make([]SearchResult, 0, len(recs))
	for _, rec := range recs {
		found[rec.ID] = true
		if !opts.matches(rec) {
			continue
		}
		if len(results) == opts.Limit {
			continue
		}
		results = append(results, SearchResult{Record: rec, Similarity: simByID[rec.ID]})
	}
	for _, id := range ids {
		if !found[id] {
			s.index.Tombstone(id)
		}
	}

	return results, exhausted, nil
}

// Touch records an access: increments access_count and stamps
// last_accessed_at.
func (s *Store) Touch(ctx context.Context, id string) error {
	return s.records.Touch(ctx, id, time.Now().UTC())
}

// Get returns a single record by id.
func (s *Store) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	return s.records.GetMemory(ctx, id)
}

// Delete removes the record and tombstones its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.records.DeleteMemory(ctx, id); err != nil {
		return err
	}
	s.index.Tombstone(id)
	return nil
}

// DeleteStale removes up to limit records older than cutoff with
// importance below the floor, tombstoning each index entry, and
// returns the deleted ids.
func (s *Store) DeleteStale(ctx context.Context, cutoff time.Time, importanceBelow float64, limit int) ([]string, error) {
	ids, err := s.records.DeleteStale(ctx, cutoff, importanceBelow, limit)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.index.Tombstone(id)
	}
	return ids, nil
}

// ByConversation returns records tied to a conversation, newest first.
func (s *Store) ByConversation(ctx context.Context, conversationID string, limit int) ([]*types.MemoryRecord, error) {
	return s.records.ByConversation(ctx, conversationID, limit)
}

// RebuildIndex reconstructs the index from the record store. The store
// is authoritative; the resulting index is fully compacted.
func (s *Store) RebuildIndex(ctx context.Context) error {
	var entries []vector.Entry
	err := s.records.EachEmbedded(ctx, func(id string, vec []float32) error {
		entries = append(entries, vector.Entry{ID: id, Vector: vec})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to stream embedded records: %w", err)
	}
	if err := s.index.Rebuild(entries); err != nil {
		return err
	}
	s.log.Info("index rebuilt", "entries", len(entries))
	return nil
}

// Index exposes the underlying vector index for snapshot and
// compaction decisions.
func (s *Store) Index() *vector.Index {
	return s.index
}

// Stats summarizes store and index state.
type Stats struct {
	Records        int     `json:"records"`
	Indexed        int     `json:"indexed"`
	TombstoneRatio float64 `json:"tombstone_ratio"`
	QueueDepth     int     `json:"queue_depth"`
}

// Stats reports current store and index counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.records.CountMemories(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Records:        n,
		Indexed:        s.index.Count(),
		TombstoneRatio: s.index.TombstoneRatio(),
	}
	s.mu.Lock()
	if s.jobs != nil {
		st.QueueDepth = len(s.jobs)
	}
	s.mu.Unlock()
	return st, nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	embedding.Normalize(vec)
	return vec, nil
}

func (s *Store) embedAndIndex(ctx context.Context, rec *types.MemoryRecord) error {
	vec, err := s.embed(ctx, rec.Content)
	if err != nil {
		return err
	}
	rec.Embedding = vec
	if err := s.records.PutMemory(ctx, rec); err != nil {
		return err
	}
	_, err = s.index.Add(vec, rec.ID)
	return err
}
