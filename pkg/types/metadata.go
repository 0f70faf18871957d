package types

// Metadata carries the known metadata kinds as typed fields and keeps an
// opaque string bag for forward compatibility. Callers should prefer the
// typed fields; Extra is only for keys this package does not know about.
type Metadata struct {
	// Source records what produced the memory (e.g. "api", "consolidation").
	Source string `json:"source,omitempty"`

	// ConversationID ties the memory to a conversation for recency-scoped
	// retrieval. Empty means not conversation-scoped.
	ConversationID string `json:"conversation_id,omitempty"`

	// EmbeddingModel is the model version that produced Embedding.
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// Extra holds unrecognized keys verbatim.
	Extra map[string]string `json:"extra,omitempty"`
}

// IsZero reports whether no metadata is set at all.
func (m Metadata) IsZero() bool {
	return m.Source == "" && m.ConversationID == "" && m.EmbeddingModel == "" && len(m.Extra) == 0
}
