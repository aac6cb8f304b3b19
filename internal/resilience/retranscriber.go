package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/types"
)

const kindRetranscribe = "retranscribe"

var _ stt.Retranscriber = (*RetranscriberFallback)(nil)

// RetranscriberFallback implements [stt.Retranscriber] with failover across
// several backends, each behind its own circuit breaker. A backend that
// reports no speech (nil, nil) counts as a success and ends the search.
//
// ErrNoAudio is returned immediately without trying other backends.
type RetranscriberFallback struct {
	group   *Group[stt.Retranscriber]
	metrics *observe.Metrics
}

// NewRetranscriberFallback creates a fallback with primary as the preferred
// backend. metrics may be nil.
func NewRetranscriberFallback(primaryName string, primary stt.Retranscriber, cfg FallbackConfig, metrics *observe.Metrics) *RetranscriberFallback {
	return &RetranscriberFallback{
		group:   NewGroup(primaryName, primary, cfg),
		metrics: metrics,
	}
}

// AddFallback registers another backend.
func (f *RetranscriberFallback) AddFallback(name string, r stt.Retranscriber) {
	f.group.Add(name, r)
}

// Backends returns the backend names in call order.
func (f *RetranscriberFallback) Backends() []string { return f.group.Names() }

// Retranscribe tries each backend in order.
func (f *RetranscriberFallback) Retranscribe(ctx context.Context, audio []byte) (*types.Transcription, error) {
	if len(audio) == 0 {
		return nil, stt.ErrNoAudio
	}
	tr, _, err := Call(ctx, f.group, func(ctx context.Context, name string, r stt.Retranscriber) (*types.Transcription, error) {
		tr, err := r.Retranscribe(ctx, audio)
		f.record(ctx, name, err)
		return tr, err
	})
	return tr, err
}

func (f *RetranscriberFallback) record(ctx context.Context, name string, err error) {
	if f.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	default:
		status = "error"
		f.metrics.RecordProviderError(ctx, name, kindRetranscribe)
	}
	f.metrics.RecordProviderRequest(ctx, name, kindRetranscribe, status)
}
