// Package ngram provides an in-process embeddings provider that maps text to
// hashed character n-gram count vectors.
//
// The vectors capture surface spelling rather than meaning, which is what the
// correction engine needs to find the catalogued error variant nearest to a
// misrecognised token ("cuesta" lies close to "cuestra"). The provider never
// performs I/O, so the semantic tier stays available when no embedding
// service is configured.
//
// Each text is lower-cased and padded with boundary markers ("^cuesta$"),
// every n-gram of runes is hashed with FNV-1a into one of Dimensions buckets,
// and the resulting count vector is L2-normalised.
package ngram

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
)

const (
	defaultDimensions = 256
	defaultN          = 3

	// maxCosineDistance bounds neighbours to words one or two edits away.
	// The count vectors are non-negative, so distances fall in [0, 1].
	maxCosineDistance = 0.45
)

// Ensure Provider implements the embeddings interfaces at compile time.
var (
	_ embeddings.Provider     = (*Provider)(nil)
	_ embeddings.DistanceHint = (*Provider)(nil)
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithDimensions sets the vector length. Values below 16 are ignored.
// Default: 256.
func WithDimensions(d int) Option {
	return func(p *Provider) {
		if d >= 16 {
			p.dims = d
		}
	}
}

// WithN sets the n-gram size in runes. Values below 1 are ignored. Default: 3.
func WithN(n int) Option {
	return func(p *Provider) {
		if n >= 1 {
			p.n = n
		}
	}
}

// Provider is a stateless hashed n-gram embedder. It is safe for concurrent
// use.
type Provider struct {
	dims int
	n    int
}

// New returns a Provider configured with opts.
func New(opts ...Option) *Provider {
	p := &Provider{dims: defaultDimensions, n: defaultN}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Embed returns the normalised n-gram vector of text. Empty text yields a
// zero vector. Embed only fails when ctx is already done.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

// EmbedBatch embeds every text in order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions returns the configured vector length.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID identifies the hashing scheme, e.g. "ngram-3x256".
func (p *Provider) ModelID() string {
	return fmt.Sprintf("ngram-%dx%d", p.n, p.dims)
}

// MaxCosineDistance returns the neighbour bound suited to hashed n-gram
// vectors.
func (p *Provider) MaxCosineDistance() float64 { return maxCosineDistance }

func (p *Provider) vector(text string) []float32 {
	vec := make([]float32, p.dims)
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return vec
	}

	runes := []rune("^" + text + "$")
	h := fnv.New32a()
	add := func(gram []rune) {
		h.Reset()
		h.Write([]byte(string(gram)))
		vec[h.Sum32()%uint32(p.dims)]++
	}
	if len(runes) <= p.n {
		add(runes)
	} else {
		for i := 0; i+p.n <= len(runes); i++ {
			add(runes[i : i+p.n])
		}
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
