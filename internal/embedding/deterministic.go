package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// Deterministic is a hash-based bag-of-words embedder. Each token maps to
// a signed bucket, so texts sharing tokens produce vectors with positive
// inner product. It is used in tests and local development where running
// a real model is not practical; scores are lower than a trained model
// would produce but the geometry (unit vectors, shared-token similarity,
// self-similarity 1.0) is the same.
type Deterministic struct {
	dim int
}

// NewDeterministic creates a deterministic embedder with the given
// dimension. Dimensions below 8 are raised to 8.
func NewDeterministic(dim int) *Deterministic {
	if dim < 8 {
		dim = 8
	}
	return &Deterministic{dim: dim}
}

// Embed hashes each lowercased whitespace token into a signed bucket and
// normalizes the result to a unit vector. Never fails.
func (d *Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dim)

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(d.dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	// Empty or all-cancelling input still needs a valid unit vector.
	allZero := true
	for _, x := range vec {
		if x != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		vec[0] = 1
	}

	return Normalize(vec), nil
}

// Dimensions returns the configured output dimension.
func (d *Deterministic) Dimensions() int {
	return d.dim
}
