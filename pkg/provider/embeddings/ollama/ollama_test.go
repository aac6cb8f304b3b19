package ollama_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/callscribe/pkg/provider/embeddings/ollama"
)

// embedServer answers /api/embed with vectors of the given width whose first
// component is the input position.
type embedServer struct {
	width int

	mu        sync.Mutex
	calls     int
	keepAlive []string
}

func (s *embedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var req struct {
		Model     string   `json:"model"`
		Input     []string `json:"input"`
		KeepAlive string   `json:"keep_alive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.calls++
	s.keepAlive = append(s.keepAlive, req.KeepAlive)
	s.mu.Unlock()

	vecs := make([][]float32, len(req.Input))
	for i := range vecs {
		vecs[i] = make([]float32, s.width)
		vecs[i][0] = float32(i)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": vecs})
}

func (s *embedServer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func start(t *testing.T, width int) (*embedServer, string) {
	t.Helper()
	s := &embedServer{width: width}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv.URL
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := ollama.New("", ""); err == nil {
		t.Error("empty model: want error")
	}
	if _, err := ollama.New("", "m", ollama.WithDimensions(-3)); err == nil {
		t.Error("negative dimensions: want error")
	}
	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != "nomic-embed-text" || p.Dimensions() != 768 {
		t.Errorf("got (%s, %d)", p.ModelID(), p.Dimensions())
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	s, url := start(t, 4)
	p, err := ollama.New(url+"/", "custom", ollama.WithDimensions(4), ollama.WithKeepAlive("10m"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Errorf("vecs = %v", vecs)
	}
	if s.Calls() != 1 || s.keepAlive[0] != "10m" {
		t.Errorf("calls = %d, keep_alive = %v", s.Calls(), s.keepAlive)
	}

	if vecs, err := p.EmbedBatch(context.Background(), nil); err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = (%v, %v)", vecs, err)
	}
	if s.Calls() != 1 {
		t.Error("empty batch contacted the server")
	}
}

func TestDimensions_Probe(t *testing.T) {
	t.Parallel()

	s, url := start(t, 5)
	p, _ := ollama.New(url, "unknown-model")
	if got := p.Dimensions(); got != 5 {
		t.Fatalf("Dimensions = %d, want 5", got)
	}
	p.Dimensions()
	if s.Calls() != 1 {
		t.Errorf("probe calls = %d, want 1", s.Calls())
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	t.Parallel()

	_, url := start(t, 3)
	p, _ := ollama.New(url, "nomic-embed-text") // expects 768
	_, err := p.Embed(context.Background(), "hola")
	if !errors.Is(err, ollama.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `model "x" not found`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	p, _ := ollama.New(srv.URL, "x", ollama.WithDimensions(2))
	_, err := p.Embed(context.Background(), "hola")
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestEmbed_CancelledContext(t *testing.T) {
	t.Parallel()

	_, url := start(t, 2)
	p, _ := ollama.New(url, "x", ollama.WithDimensions(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Embed(ctx, "hola"); err == nil {
		t.Error("want error for cancelled context")
	}
}
