package types

import (
	"fmt"
	"time"
)

// MemoryType classifies a durable memory record.
type MemoryType string

const (
	// MemoryEpisodic marks memories derived from concrete interactions
	// (conversation turns, promoted working-memory entries).
	MemoryEpisodic MemoryType = "episodic"

	// MemorySemantic marks distilled facts and preferences that are not
	// tied to a single interaction.
	MemorySemantic MemoryType = "semantic"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	return t == MemoryEpisodic || t == MemorySemantic
}

// MemoryRecord is a single durable memory. The record store is the
// authoritative home for every field; the vector index only ever holds a
// derived copy of Embedding keyed by ID.
type MemoryRecord struct {
	// ID is the stable, externally visible identifier.
	ID string `json:"id"`

	// Owner is the optional principal this memory belongs to.
	// Empty means the memory is not owner-scoped.
	Owner string `json:"owner,omitempty"`

	// Content is the raw memory text.
	Content string `json:"content"`

	// Embedding is a unit vector over the configured dimension.
	// Nil means the record has not been embedded yet (async indexing).
	Embedding []float32 `json:"embedding,omitempty"`

	// Type classifies the memory (episodic or semantic).
	Type MemoryType `json:"memory_type"`

	// Importance is the retention priority in [0, 1].
	Importance float64 `json:"importance"`

	// AccessCount is the number of times this memory has been touched.
	AccessCount int `json:"access_count"`

	// LastAccessedAt is the timestamp of the most recent touch.
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// CreatedAt is when the record entered the system.
	CreatedAt time.Time `json:"created_at"`

	// Tags are free-form labels (e.g. "source=working_memory").
	Tags []string `json:"tags,omitempty"`

	// Metadata carries typed metadata plus an opaque fallback bag.
	Metadata Metadata `json:"metadata,omitempty"`
}

// HasTag reports whether the record carries the given tag.
func (r *MemoryRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate checks the invariants a record must satisfy before it is
// persisted. Importance is expected to be pre-clamped by ClampScore.
func (r *MemoryRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("memory ID is required")
	}
	if r.Content == "" {
		return fmt.Errorf("memory content is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid memory type %q", r.Type)
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("importance %f outside [0, 1]", r.Importance)
	}
	if r.AccessCount < 0 {
		return fmt.Errorf("access count must be non-negative, got %d", r.AccessCount)
	}
	return nil
}

// ClampScore bounds an importance-like score to [0, 1].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
