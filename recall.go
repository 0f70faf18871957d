// Package recall is an associative memory core for conversational
// agents: durable memories with embedding search, session-scoped working
// memory, consolidation of the one into the other, context retrieval,
// and age/importance-based eviction.
package recall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/commercekit/recall/internal/config"
	"github.com/commercekit/recall/internal/consolidation"
	"github.com/commercekit/recall/internal/embedding"
	"github.com/commercekit/recall/internal/eviction"
	"github.com/commercekit/recall/internal/memory"
	"github.com/commercekit/recall/internal/retrieval"
	"github.com/commercekit/recall/internal/storage"
	"github.com/commercekit/recall/internal/storage/postgres"
	"github.com/commercekit/recall/internal/storage/sqlite"
	"github.com/commercekit/recall/internal/vector"
	"github.com/commercekit/recall/internal/working"
	"github.com/commercekit/recall/pkg/types"
)

// Record and metadata aliases from pkg/types.
type (
	MemoryRecord        = types.MemoryRecord
	WorkingMemoryRecord = types.WorkingMemoryRecord
	MemoryType          = types.MemoryType
	Metadata            = types.Metadata
)

// Memory type values.
const (
	MemoryEpisodic = types.MemoryEpisodic
	MemorySemantic = types.MemorySemantic
)

// Re-exported aliases so callers outside internal/ can use the full
// surface without importing internal packages.
type (
	// Config is the full service configuration.
	Config = config.Config

	// CreateInput describes a new durable memory.
	CreateInput = memory.CreateInput

	// SearchResult pairs a record with its query similarity.
	SearchResult = memory.SearchResult

	// SearchOptions bounds and filters a search.
	SearchOptions = memory.SearchOptions

	// UpsertWorkingInput describes a working-memory update.
	UpsertWorkingInput = working.UpsertInput

	// ConsolidationSummary reports one consolidation run.
	ConsolidationSummary = consolidation.Summary

	// EvictionReport summarizes one eviction pass.
	EvictionReport = eviction.Report

	// RetrievalRequest identifies what context to assemble.
	RetrievalRequest = retrieval.Request

	// RetrievalContext is the assembled per-turn context.
	RetrievalContext = retrieval.Context

	// Stats summarizes store and index state.
	Stats = memory.Stats
)

// LoadConfig returns the configuration from environment and defaults.
func LoadConfig() *Config { return config.Load() }

// LoadConfigFile returns the configuration from a YAML file overlaid by
// the environment.
func LoadConfigFile(path string) (*Config, error) { return config.LoadFile(path) }

// Service is the assembled memory system. All methods are safe for
// concurrent use.
type Service struct {
	store        storage.Store
	memories     *memory.Store
	working      *working.Store
	consolidator *consolidation.Engine
	orchestrator *retrieval.Orchestrator
	evictor      *eviction.Scheduler
	cfg          *Config
	log          *log.Logger

	mu         sync.Mutex
	cancelBG   context.CancelFunc
	background sync.WaitGroup
}

// Open builds a Service from configuration: storage backend, embedding
// provider chain, vector index (restored from snapshot when possible,
// rebuilt from the record store otherwise), and the engines on top.
func Open(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.Default()

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	idx := openIndex(cfg, logger)

	memories := memory.New(store, idx, provider, memory.Config{
		AsyncIndexing:   cfg.Worker.AsyncIndexing,
		AsyncWorkers:    cfg.Worker.Workers,
		QueueSize:       cfg.Worker.QueueSize,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		Logger:          logger,
	})

	svc := newService(store, memories, cfg, logger)

	// The snapshot may be missing, corrupt, or stale relative to the
	// store; reconcile by rebuilding whenever the counts disagree.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	count, err := store.CountMemories(ctx)
	if err == nil && idx.Count() != countEmbedded(ctx, store, count) {
		if err := memories.RebuildIndex(ctx); err != nil {
			logger.Warn("startup index rebuild failed, search degraded until next rebuild", "err", err)
		}
	}

	return svc, nil
}

// NewService assembles a Service from pre-built components. Open is the
// configuration-driven path; this constructor exists for callers that
// need custom wiring (tests, embedded use).
func NewService(store storage.Store, memories *memory.Store, cfg *Config) *Service {
	if cfg == nil {
		cfg = config.Load()
	}
	return newService(store, memories, cfg, log.Default())
}

func newService(store storage.Store, memories *memory.Store, cfg *Config, logger *log.Logger) *Service {
	wm := working.New(store, logger)
	return &Service{
		store:    store,
		memories: memories,
		working:  wm,
		consolidator: consolidation.New(wm, memories, consolidation.Config{
			Logger: logger,
		}),
		orchestrator: retrieval.New(memories, wm, retrieval.Config{
			PreferenceKeywords: cfg.Retrieval.PreferenceKeywords,
			SemanticThreshold:  cfg.Retrieval.SemanticThreshold,
			DefaultThreshold:   cfg.Retrieval.DefaultThreshold,
			MaxMemories:        cfg.Retrieval.MaxMemories,
			Logger:             logger,
		}),
		evictor: eviction.New(memories, eviction.Policy{
			MaxAge:          cfg.Eviction.MaxAge,
			ImportanceFloor: cfg.Eviction.ImportanceFloor,
			BatchSize:       cfg.Eviction.BatchSize,
			SnapshotDir:     cfg.Index.SnapshotDir,
			Logger:          logger,
		}),
		cfg: cfg,
		log: logger.With("component", "recall"),
	}
}

// Start launches background machinery: async indexing workers and, when
// enabled, the periodic eviction scheduler.
func (s *Service) Start() {
	s.memories.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Eviction.Enabled && s.cancelBG == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelBG = cancel
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.evictor.Run(ctx, s.cfg.Eviction.Interval)
		}()
	}
}

// Shutdown drains background work, snapshots the index when a snapshot
// directory is configured, and closes the store.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelBG != nil {
		s.cancelBG()
		s.cancelBG = nil
	}
	s.mu.Unlock()
	s.background.Wait()

	err := s.memories.Shutdown(ctx)

	if s.cfg.Index.SnapshotDir != "" {
		if serr := s.SaveSnapshot(); serr != nil {
			s.log.Warn("failed to snapshot index on shutdown", "err", serr)
		}
	}

	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Create stores a new durable memory. See memory.Store.Create for the
// synchronous/async indexing contract.
func (s *Service) Create(ctx context.Context, in CreateInput) (*MemoryRecord, error) {
	return s.memories.Create(ctx, in)
}

// Get returns a memory by id.
func (s *Service) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	return s.memories.Get(ctx, id)
}

// Search returns memories similar to the query, best first, bounded
// and filtered by the options.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	return s.memories.Search(ctx, query, opts)
}

// Touch records an access on a memory.
func (s *Service) Touch(ctx context.Context, id string) error {
	return s.memories.Touch(ctx, id)
}

// Delete removes a memory.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.memories.Delete(ctx, id)
}

// GetWorkingMemory returns the session's active working memory, nil when
// none exists or it has expired.
func (s *Service) GetWorkingMemory(ctx context.Context, sessionID string) (*WorkingMemoryRecord, error) {
	return s.working.Get(ctx, sessionID)
}

// UpsertWorkingMemory merges the input into the session's working
// memory.
func (s *Service) UpsertWorkingMemory(ctx context.Context, in UpsertWorkingInput) (*WorkingMemoryRecord, error) {
	return s.working.Upsert(ctx, in)
}

// ClearWorkingMemory deactivates the session's working memory.
func (s *Service) ClearWorkingMemory(ctx context.Context, sessionID string) error {
	return s.working.Clear(ctx, sessionID)
}

// Consolidate promotes live working memory into durable memories.
// ownerFilter restricts the run to one owner; empty runs everything.
func (s *Service) Consolidate(ctx context.Context, ownerFilter string) (ConsolidationSummary, error) {
	return s.consolidator.Run(ctx, ownerFilter)
}

// GetRelevantContext assembles the memory context for one agent turn.
func (s *Service) GetRelevantContext(ctx context.Context, req RetrievalRequest) (*RetrievalContext, error) {
	return s.orchestrator.GetRelevantContext(ctx, req)
}

// Evict runs one eviction pass immediately.
func (s *Service) Evict(ctx context.Context) (EvictionReport, error) {
	return s.evictor.RunOnce(ctx)
}

// RebuildIndex reconstructs the vector index from the record store.
func (s *Service) RebuildIndex(ctx context.Context) error {
	return s.memories.RebuildIndex(ctx)
}

// SaveSnapshot persists the index to the configured snapshot directory.
func (s *Service) SaveSnapshot() error {
	if s.cfg.Index.SnapshotDir == "" {
		return fmt.Errorf("no snapshot directory configured")
	}
	return s.memories.Index().WriteSnapshot(s.cfg.Index.SnapshotDir)
}

// Stats reports store and index counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.memories.Stats(ctx)
}

func openStore(cfg *Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.New(cfg.Storage.DSN)
	default:
		return sqlite.New(cfg.Storage.DSN)
	}
}

// buildProvider assembles the embedding chain. The remote provider is
// wrapped cache-first, breaker-second: cache hits never consume rate
// budget or breaker state. The deterministic provider is local and
// infallible, so it runs bare.
func buildProvider(cfg *Config) (embedding.Provider, error) {
	if cfg.Embedding.Provider != "ollama" {
		return embedding.NewDeterministic(cfg.Embedding.Dimensions), nil
	}

	var provider embedding.Provider = embedding.NewOllama(
		cfg.Embedding.OllamaURL, cfg.Embedding.OllamaModel, cfg.Embedding.Dimensions)

	provider = embedding.NewBreaker(provider, embedding.BreakerConfig{
		MaxFailures:       uint32(cfg.Embedding.BreakerFailures),
		Timeout:           cfg.Embedding.BreakerCooldown,
		RequestsPerSecond: cfg.Embedding.RateLimit,
	})

	if cfg.Embedding.CacheMaxBytes > 0 {
		cached, err := embedding.NewCache(provider, cfg.Embedding.CacheMaxBytes)
		if err != nil {
			return nil, err
		}
		provider = cached
	}
	return provider, nil
}

// openIndex loads the snapshot when configured and intact; any failure
// falls back to an empty index that Open reconciles against the store.
func openIndex(cfg *Config, logger *log.Logger) *vector.Index {
	dim := cfg.Embedding.Dimensions
	if cfg.Index.SnapshotDir == "" {
		return vector.New(dim)
	}
	idx, err := vector.LoadSnapshot(cfg.Index.SnapshotDir, dim)
	if err != nil {
		logger.Warn("index snapshot unusable, rebuilding from store", "err", err)
		return vector.New(dim)
	}
	return idx
}

// countEmbedded returns how many records carry an embedding. When the
// scan itself fails the total record count stands in as a conservative
// estimate.
func countEmbedded(ctx context.Context, store storage.RecordStore, total int) int {
	n := 0
	if err := store.EachEmbedded(ctx, func(string, []float32) error {
		n++
		return nil
	}); err != nil {
		return total
	}
	return n
}
