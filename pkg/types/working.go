package types

import "time"

// WorkingMemoryRecord is session-scoped short-term context. At most one
// active record exists per session. Expiry is evaluated lazily on read:
// a record whose ExpiresAt has passed must never be served as active,
// even if the Active flag has not been swept to false yet.
type WorkingMemoryRecord struct {
	// SessionID is the unique key among active records.
	SessionID string `json:"session_id"`

	// ContextData holds conversation-level context (e.g. owner, channel).
	ContextData map[string]string `json:"context_data,omitempty"`

	// ShortTermMemory holds the short-lived key/value observations that
	// consolidation may promote into durable memories.
	ShortTermMemory map[string]string `json:"short_term_memory,omitempty"`

	// ExpiresAt is the optional TTL deadline. Nil means no expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Active is false once the record has been cleared, expired, or
	// consolidated. Inactive records are retained for audit.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the record's TTL has passed at the given instant.
func (w *WorkingMemoryRecord) Expired(now time.Time) bool {
	return w.ExpiresAt != nil && now.After(*w.ExpiresAt)
}

// Owner returns the principal recorded in ContextData, if any.
func (w *WorkingMemoryRecord) Owner() string {
	return w.ContextData["owner"]
}
