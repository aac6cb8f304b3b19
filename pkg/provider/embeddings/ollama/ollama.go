// Package ollama provides an embeddings provider backed by a local Ollama
// server through its /api/embed endpoint.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//	vec, err := p.Embed(ctx, "factura")
//
// Every returned vector is checked against the provider width, since the
// semantic index and the pgvector column both need a fixed size.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// probeTimeout bounds the request used to discover the width of an unknown
// model.
const probeTimeout = 10 * time.Second

// ErrDimensionMismatch is returned when the server produces a vector whose
// length differs from the provider width.
var ErrDimensionMismatch = errors.New("ollama embeddings: dimension mismatch")

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
//
// The width comes from WithDimensions, then from a table of known models,
// and finally from a single probe request on first use.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	httpClient *http.Client

	mu         sync.Mutex
	dimensions int
}

type config struct {
	timeout    time.Duration
	dimensions int
	keepAlive  string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions fixes the expected vector width and skips the probe.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// WithKeepAlive controls how long Ollama keeps the model loaded after a
// request, using Ollama's duration syntax ("5m", "-1").
func WithKeepAlive(s string) Option {
	return func(c *config) { c.keepAlive = s }
}

// New constructs a Provider for model. An empty baseURL selects
// [DefaultBaseURL].
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions < 0 {
		return nil, fmt.Errorf("ollama embeddings: dimensions must not be negative, got %d", cfg.dimensions)
	}

	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		keepAlive:  cfg.keepAlive,
		httpClient: &http.Client{Timeout: cfg.timeout},
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider with a single request. Empty
// input returns (nil, nil) without contacting the server.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. For unknown models the first
// call probes the server; a failed probe returns 0 and is retried on the
// next call.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimensions != 0 {
		return p.dimensions
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	vecs, err := p.call(ctx, []string{"probe"})
	if err == nil && len(vecs) > 0 {
		p.dimensions = len(vecs[0])
	}
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

// embed calls the server and checks count and width of the result.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.call(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs))
	}

	p.mu.Lock()
	if p.dimensions == 0 {
		p.dimensions = len(vecs[0])
	}
	want := p.dimensions
	p.mu.Unlock()

	for i, v := range vecs {
		if len(v) != want {
			return nil, fmt.Errorf("%w: input %d has %d components, want %d", ErrDimensionMismatch, i, len(v), want)
		}
	}
	return vecs, nil
}

func (p *Provider) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the width of well-known Ollama embedding models,
// or 0 when the model must be probed.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"), strings.Contains(lower, "bge-m3"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
