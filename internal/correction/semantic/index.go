// Package semantic implements the [correction.SimilaritySearcher] interface
// as an in-memory brute-force cosine index over vectors from an
// [embeddings.Provider].
//
// The catalog is small (hundreds of error variants), so a linear scan beats
// any approximate index. Vectors are cached per variant across rebuilds so
// that learning one pattern embeds one new string.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ correction.SimilaritySearcher = (*Index)(nil)

// ErrDimensionMismatch is returned when the provider returns vectors of
// inconsistent length.
var ErrDimensionMismatch = errors.New("semantic: embedding dimension mismatch")

type entry struct {
	variant string
	vec     blas32.Vector
	norm    float32
}

// Index is an in-memory nearest-neighbour index. It is safe for concurrent
// use; Rebuild swaps in a fully built catalog under a write lock.
type Index struct {
	provider embeddings.Provider

	mu      sync.RWMutex
	entries []entry

	// rebuildMu serialises rebuilds and guards cache.
	rebuildMu sync.Mutex
	cache     map[string][]float32
}

// New returns an empty Index backed by provider. A nil provider yields an
// index that reports itself unavailable.
func New(provider embeddings.Provider) *Index {
	return &Index{
		provider: provider,
		cache:    map[string][]float32{},
	}
}

// Available reports whether an embedding provider is configured.
func (ix *Index) Available() bool { return ix.provider != nil }

// Len returns the number of indexed variants.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Rebuild embeds every variant not seen before and replaces the catalog.
// On error the previous catalog stays in place.
func (ix *Index) Rebuild(ctx context.Context, variants []string) error {
	if ix.provider == nil {
		return errors.New("semantic: no embedding provider")
	}

	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()

	var missing []string
	for _, v := range variants {
		if _, ok := ix.cache[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		vecs, err := ix.provider.EmbedBatch(ctx, missing)
		if err != nil {
			return fmt.Errorf("semantic: embed %d variants: %w", len(missing), err)
		}
		if len(vecs) != len(missing) {
			return fmt.Errorf("semantic: provider returned %d vectors for %d variants", len(vecs), len(missing))
		}
		for i, v := range missing {
			ix.cache[v] = vecs[i]
		}
	}

	entries := make([]entry, 0, len(variants))
	dims := -1
	for _, v := range variants {
		vec := ix.cache[v]
		if dims < 0 {
			dims = len(vec)
		}
		if len(vec) != dims {
			return fmt.Errorf("%w: %q has %d, want %d", ErrDimensionMismatch, v, len(vec), dims)
		}
		e := entry{variant: v, vec: blas32.Vector{N: len(vec), Data: vec, Inc: 1}}
		if e.norm = blas32.Nrm2(e.vec); e.norm == 0 {
			continue
		}
		entries = append(entries, e)
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
	return nil
}

// Nearest embeds token and returns the indexed variant with the smallest
// cosine distance (1 - cosine similarity, in [0, 2]). An empty index, or a
// token that embeds to the zero vector, returns variant "".
func (ix *Index) Nearest(ctx context.Context, token string) (string, float64, error) {
	if ix.provider == nil {
		return "", 0, errors.New("semantic: no embedding provider")
	}
	raw, err := ix.provider.Embed(ctx, token)
	if err != nil {
		return "", 0, fmt.Errorf("semantic: embed token: %w", err)
	}
	q := blas32.Vector{N: len(raw), Data: raw, Inc: 1}
	qn := blas32.Nrm2(q)
	if qn == 0 {
		return "", 0, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	best, bestDist := "", 0.0
	for _, e := range ix.entries {
		if e.vec.N != q.N {
			return "", 0, fmt.Errorf("%w: token has %d, index has %d", ErrDimensionMismatch, q.N, e.vec.N)
		}
		sim := float64(blas32.Dot(q, e.vec) / (qn * e.norm))
		dist := clampDistance(1 - sim)
		if best == "" || dist < bestDist {
			best, bestDist = e.variant, dist
		}
	}
	return best, bestDist, nil
}

func clampDistance(d float64) float64 {
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	}
	return d
}
