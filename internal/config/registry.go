package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is a concurrency-safe name → factory table for one provider kind.
type factories[T any] struct {
	kind string

	mu sync.RWMutex
	m  map[string]Factory[T]
}

func (f *factories[T]) register(name string, factory Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]Factory[T])
	}
	f.m[name] = factory
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	factory, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

// Registry maps provider names to constructors. main registers the built-in
// backends; tests register doubles. A later registration under the same
// name replaces the earlier one.
type Registry struct {
	stt        factories[stt.Retranscriber]
	embeddings factories[embeddings.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        factories[stt.Retranscriber]{kind: "stt"},
		embeddings: factories[embeddings.Provider]{kind: "embeddings"},
	}
}

// RegisterSTT registers a re-transcription backend factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Retranscriber]) {
	r.stt.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory Factory[embeddings.Provider]) {
	r.embeddings.register(name, factory)
}

// CreateSTT builds the backend named by entry.Name, or returns
// [ErrProviderNotRegistered].
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Retranscriber, error) {
	return r.stt.create(entry)
}

// CreateEmbeddings builds the provider named by entry.Name, or returns
// [ErrProviderNotRegistered].
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// STTNames lists the registered re-transcription backends, sorted.
func (r *Registry) STTNames() []string { return r.stt.names() }

// EmbeddingsNames lists the registered embeddings providers, sorted.
func (r *Registry) EmbeddingsNames() []string { return r.embeddings.names() }
