package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/callscribe/pkg/provider/stt/mock"
	"github.com/MrWong99/callscribe/pkg/types"
)

func TestRetranscriberFallback(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Retranscriber{Err: errors.New("whisper down")}
	secondary := &sttmock.Retranscriber{Result: &types.Transcription{Text: "hola"}}

	fb := NewRetranscriberFallback("whisper", primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	}, nil)
	fb.AddFallback("deepgram", secondary)

	tr, err := fb.Retranscribe(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("Retranscribe: %v", err)
	}
	if tr == nil || tr.Text != "hola" {
		t.Errorf("Retranscribe = %+v", tr)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
	if got := fb.Backends(); len(got) != 2 || got[0] != "whisper" {
		t.Errorf("Backends = %v", got)
	}
}

func TestRetranscriberFallback_NoSpeechIsSuccess(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Retranscriber{}
	secondary := &sttmock.Retranscriber{Result: &types.Transcription{Text: "x"}}
	fb := NewRetranscriberFallback("whisper", primary, FallbackConfig{}, nil)
	fb.AddFallback("deepgram", secondary)

	tr, err := fb.Retranscribe(context.Background(), []byte("audio"))
	if tr != nil || err != nil {
		t.Errorf("Retranscribe = (%+v, %v), want (nil, nil)", tr, err)
	}
	if secondary.CallCount() != 0 {
		t.Error("secondary should not be called")
	}
}

func TestRetranscriberFallback_EmptyAudio(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Retranscriber{}
	fb := NewRetranscriberFallback("whisper", primary, FallbackConfig{}, nil)
	if _, err := fb.Retranscribe(context.Background(), nil); !errors.Is(err, stt.ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
	if primary.CallCount() != 0 {
		t.Error("backend called for empty audio")
	}
}

func TestRetranscriberFallback_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fb := NewRetranscriberFallback("whisper", &sttmock.Retranscriber{Err: errTest}, FallbackConfig{}, m)
	fb.AddFallback("deepgram", &sttmock.Retranscriber{Result: &types.Transcription{Text: "ok"}})
	if _, err := fb.Retranscribe(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("Retranscribe: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				counts[md.Name] += dp.Value
			}
		}
	}
	if counts["callscribe.provider.requests"] != 2 || counts["callscribe.provider.errors"] != 1 {
		t.Errorf("counts = %v, want 2 requests and 1 error", counts)
	}
}
