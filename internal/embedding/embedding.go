// Package embedding converts text into unit vectors for similarity search.
// The embedding model itself is a black box behind the Provider interface;
// this package supplies an Ollama-backed implementation, a deterministic
// hash-based implementation for tests and local development, and wrappers
// that add caching, rate limiting, and circuit breaking.
package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrUnavailable is returned when the embedding model cannot be reached
// or is refusing requests. Callers observe it as a typed dependency
// failure and may retry with backoff; no index mutation happens on it.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider converts text to a fixed-dimension vector. Implementations
// must be deterministic for a fixed model version and safe for
// concurrent use.
type Provider interface {
	// Embed returns a vector of Dimensions() length for the given text.
	// Failures wrap ErrUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed output dimension.
	Dimensions() int
}

// Normalize scales v to unit length in place and returns it. A zero
// vector is returned unchanged; inner-product similarity treats it as
// orthogonal to everything.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
