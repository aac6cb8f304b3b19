// Package mock provides a scriptable embeddings.Provider for tests.
//
//	p := &mock.Provider{
//	    DimensionsValue: 2,
//	    EmbedFunc: func(text string) []float32 { return table[text] },
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records one EmbedBatch invocation. Texts is a copy.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a mock embeddings.Provider. The zero value embeds everything
// to nil and reports zero dimensions.
type Provider struct {
	// EmbedFunc computes the vector for a text. When set it serves both
	// Embed and EmbedBatch and the canned results below are ignored.
	EmbedFunc func(text string) []float32

	// EmbedResult is the vector returned by Embed.
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult is returned by EmbedBatch as is. When nil, EmbedBatch
	// returns one nil vector per input.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	DimensionsValue int
	ModelIDValue    string

	mu              sync.Mutex
	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	switch {
	case p.EmbedErr != nil:
		return nil, p.EmbedErr
	case p.EmbedFunc != nil:
		return p.EmbedFunc(text), nil
	}
	return p.EmbedResult, nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: slices.Clone(texts)})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedFunc == nil && p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	out := make([][]float32, len(texts))
	if p.EmbedFunc != nil {
		for i, t := range texts {
			out[i] = p.EmbedFunc(t)
		}
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// EmbeddedTexts lists every text submitted so far: batch texts first, then
// single texts, each in call order.
func (p *Provider) EmbeddedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.EmbedBatchCalls {
		out = append(out, c.Texts...)
	}
	for _, c := range p.EmbedCalls {
		out = append(out, c.Text)
	}
	return out
}
