package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Group] fails or has an open
// circuit breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the circuit breaker created for each entry of a
// [Group]. The breaker name is set per entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds a primary and zero or more fallbacks of the same backend type.
// Entries are tried in registration order; entries whose breaker is open are
// skipped. Register all entries before the first call.
type Group[T any] struct {
	cfg     FallbackConfig
	entries []entry[T]
}

// NewGroup creates a [Group] with primary as the first entry.
func NewGroup[T any](primaryName string, primary T, cfg FallbackConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback entry.
func (g *Group[T]) Add(name string, value T) {
	cbCfg := g.cfg.CircuitBreaker
	cbCfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in call order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the circuit breaker of the named entry, or nil.
func (g *Group[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range g.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Call runs fn against each entry until one succeeds and returns its result
// together with the entry name. It stops as soon as ctx is done. This is a
// package-level function because methods cannot have type parameters.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(ctx context.Context, name string, v T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for _, e := range g.entries {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var result R
		err := e.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, e.name, e.value)
			return err
		})
		if err == nil {
			return result, e.name, nil
		}
		if ctx.Err() != nil {
			return zero, "", err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend (circuit open)", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
