// Package openai provides an embeddings provider backed by the OpenAI API
// or any server that speaks its /embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
)

// DefaultModel is the default OpenAI embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// MaxBatchInputs is the largest number of inputs sent in one request.
// Larger batches are split.
const MaxBatchInputs = 2048

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
	maxBatch   int
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	dimensions   int
	maxBatch     int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions asks the server to shorten vectors to n components. The
// text-embedding-3 models support this, which lets the variant index use a
// narrower pgvector column.
func WithDimensions(n int) Option {
	return func(c *config) { c.dimensions = n }
}

// WithMaxBatch caps the inputs per request. Values outside
// (0, MaxBatchInputs] are ignored.
func WithMaxBatch(n int) Option {
	return func(c *config) { c.maxBatch = n }
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions must not be negative, got %d", cfg.dimensions)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	maxBatch := MaxBatchInputs
	if cfg.maxBatch > 0 && cfg.maxBatch < MaxBatchInputs {
		maxBatch = cfg.maxBatch
	}
	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		dimensions: cfg.dimensions,
		maxBatch:   maxBatch,
	}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}, 1)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. Batches above the request limit
// are sent in consecutive chunks.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.maxBatch {
		chunk := texts[start:min(start+p.maxBatch, len(texts))]
		vecs, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: chunk}, len(chunk))
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: embed batch [%d:%d]: %w", start, start+len(chunk), err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// request issues one embeddings call and orders the result by input index.
func (p *Provider) request(ctx context.Context, input oai.EmbeddingNewParamsInputUnion, n int) ([][]float32, error) {
	params := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(p.dimensions))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d", n, len(resp.Data))
	}
	result := make([][]float32, n)
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= n || result[e.Index] != nil {
			return nil, fmt.Errorf("unexpected index %d", e.Index)
		}
		result[e.Index] = toFloat32(e.Embedding)
	}
	return result, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	return modelDimensions(p.model)
}

// ModelID implements embeddings.Provider. A shortened model reports its
// width so that persisted vectors of different sizes never mix.
func (p *Provider) ModelID() string {
	if p.dimensions > 0 {
		return fmt.Sprintf("%s@%d", p.model, p.dimensions)
	}
	return p.model
}

func modelDimensions(model string) int {
	if strings.Contains(strings.ToLower(model), "text-embedding-3-large") {
		return 3072
	}
	// text-embedding-3-small, ada-002 and most compatible servers.
	return 1536
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
