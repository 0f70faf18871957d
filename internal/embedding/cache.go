package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cache memoizes embeddings by content hash so repeated queries and
// re-created records do not re-call the model. Providers are
// deterministic for a fixed model version, which makes this safe.
type Cache struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCache wraps inner with a ristretto cache holding up to maxBytes of
// vectors. maxBytes below 1 MiB is raised to 1 MiB.
func NewCache(inner Provider, maxBytes int64) (*Cache, error) {
	const minBytes = 1 << 20
	if maxBytes < minBytes {
		maxBytes = minBytes
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		// Rule of thumb from the ristretto docs: counters at ~10x the
		// expected number of entries.
		NumCounters: maxBytes / (4 * 64) * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &Cache{inner: inner, cache: c}, nil
}

// Embed returns the cached vector for text when present, otherwise
// delegates to the inner provider and caches the result. Cached vectors
// are copied on the way out so callers cannot corrupt the cache.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			return out, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Set(key, stored, int64(4*len(stored)))

	return vec, nil
}

// Dimensions returns the inner provider's dimension.
func (c *Cache) Dimensions() int {
	return c.inner.Dimensions()
}

// Wait blocks until pending cache writes are applied. Only used in tests.
func (c *Cache) Wait() {
	c.cache.Wait()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var _ Provider = (*Cache)(nil)
