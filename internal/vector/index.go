// Package vector implements an exact inner-product similarity index over
// unit vectors, paired with a persistent position<->id map. The index is
// a derived cache: the record store is authoritative and the index can
// always be rebuilt from it. Deletes are tombstones; compaction happens
// at rebuild once tombstones cross a threshold.
package vector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the
	// configured index dimension. The index is left unchanged.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrSnapshotCorrupt is returned when a snapshot and its id map
	// disagree; the caller must rebuild from the record store.
	ErrSnapshotCorrupt = errors.New("vector snapshot corrupt")
)

// CompactionThreshold is the tombstone ratio above which the next
// rebuild must compact rather than being skippable.
const CompactionThreshold = 0.20

// Match is a single search hit.
type Match struct {
	// ID is the external memory id.
	ID string

	// Similarity is the inner product of two unit vectors (cosine
	// similarity), in [-1, 1].
	Similarity float64
}

// Entry is one (id, vector) pair for Rebuild.
type Entry struct {
	ID     string
	Vector []float32
}

// Index is a flat arena of unit vectors with an IDMap. Add and Rebuild
// serialize under the write lock; Search takes the read lock and runs
// concurrently with other searches. A search issued during Rebuild
// blocks until the swap completes and then sees the fully rebuilt index,
// never a partial one.
type Index struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	ids     *IDMap
}

// New creates an empty index for vectors of the given dimension.
func New(dim int) *Index {
	return &Index{
		dim: dim,
		ids: NewIDMap(),
	}
}

// Dimensions returns the configured vector dimension.
func (i *Index) Dimensions() int {
	return i.dim
}

// Add appends the vector at the next dense position and maps it to
// externalID, returning the position. If the id is already indexed its
// old position is tombstoned first, preserving the bijection across
// re-embeds. Fails with ErrDimensionMismatch without touching the index.
func (i *Index) Add(vec []float32, externalID string) (int, error) {
	if len(vec) != i.dim {
		return 0, fmt.Errorf("%w: got %d, index configured for %d", ErrDimensionMismatch, len(vec), i.dim)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if old, ok := i.ids.Position(externalID); ok {
		i.ids.Tombstone(old)
	}

	pos := len(i.vectors)
	stored := make([]float32, len(vec))
	copy(stored, vec)
	i.vectors = append(i.vectors, stored)
	i.ids.Put(pos, externalID)

	return pos, nil
}

// Search returns up to k matches ordered by similarity descending,
// restricted to live positions. An empty index returns no matches.
func (i *Index) Search(query []float32, k int) ([]Match, error) {
	if len(query) != i.dim {
		return nil, fmt.Errorf("%w: query has %d, index configured for %d", ErrDimensionMismatch, len(query), i.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	matches := make([]Match, 0, i.ids.Live())
	for pos, vec := range i.vectors {
		id, ok := i.ids.ID(pos)
		if !ok {
			continue // tombstoned
		}
		matches = append(matches, Match{ID: id, Similarity: dot(query, vec)})
	}

	sort.Slice(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Tombstone logically deletes the entry for externalID. The arena slot
// is retained until the next compacting rebuild. Returns false if the
// id was not indexed.
func (i *Index) Tombstone(externalID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	pos, ok := i.ids.Position(externalID)
	if !ok {
		return false
	}
	return i.ids.Tombstone(pos)
}

// Contains reports whether externalID currently has a live position.
func (i *Index) Contains(externalID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.ids.Position(externalID)
	return ok
}

// Count returns the number of live entries.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.ids.Live()
}

// TombstoneRatio returns dead positions over total arena slots.
func (i *Index) TombstoneRatio() float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.vectors) == 0 {
		return 0
	}
	return float64(i.ids.Dead()) / float64(len(i.vectors))
}

// NeedsCompaction reports whether the tombstone ratio has crossed
// CompactionThreshold, meaning the next scheduled rebuild must compact.
func (i *Index) NeedsCompaction() bool {
	return i.TombstoneRatio() >= CompactionThreshold
}

// Rebuild atomically replaces the index contents with the given entries.
// The replacement arena and id map are constructed off-lock, validated,
// and swapped in under the write lock: concurrent readers see either the
// old index or the fully rebuilt one, never a partial state. On any
// error the index is left unchanged. A rebuild from the record store is
// inherently compacting since tombstoned entries are not in the source.
func (i *Index) Rebuild(entries []Entry) error {
	vectors := make([][]float32, 0, len(entries))
	ids := NewIDMap()

	for _, e := range entries {
		if len(e.Vector) != i.dim {
			return fmt.Errorf("%w: entry %s has %d, index configured for %d", ErrDimensionMismatch, e.ID, len(e.Vector), i.dim)
		}
		stored := make([]float32, len(e.Vector))
		copy(stored, e.Vector)
		ids.Put(len(vectors), e.ID)
		vectors = append(vectors, stored)
	}

	i.mu.Lock()
	i.vectors = vectors
	i.ids = ids
	i.mu.Unlock()

	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for n := range a {
		sum += float64(a[n]) * float64(b[n])
	}
	return sum
}
