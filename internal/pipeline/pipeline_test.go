package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/callscribe/internal/clarify"
	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/pipeline"
	sttmock "github.com/MrWong99/callscribe/pkg/provider/stt/mock"
	"github.com/MrWong99/callscribe/pkg/types"
)

func words(text string, confs ...float64) []types.WordConfidence {
	toks := strings.Fields(text)
	out := make([]types.WordConfidence, len(confs))
	for i, c := range confs {
		out[i] = types.WordConfidence{Word: toks[i], Confidence: c}
	}
	return out
}

func newPipeline(t *testing.T, opts ...pipeline.Option) (*pipeline.Pipeline, *clarify.Engine) {
	t.Helper()
	cl := clarify.New()
	return pipeline.New(correction.New(context.Background()), cl, opts...), cl
}

// panicCorrector and panicClarifier blow up on every call.
type panicCorrector struct{}

func (panicCorrector) Correct(context.Context, string, []types.WordConfidence, correction.Tiers) (string, []correction.Record) {
	panic("corrector exploded")
}

type panicClarifier struct{}

func (panicClarifier) ShouldClarifyIf(context.Context, string, []types.WordConfidence, string, func(*clarify.Decision) bool) *clarify.Decision {
	panic("clarifier exploded")
}

// tierRecorder records the tiers it was asked to run.
type tierRecorder struct {
	mu    sync.Mutex
	tiers []correction.Tiers
}

func (r *tierRecorder) Correct(_ context.Context, text string, _ []types.WordConfidence, tiers correction.Tiers) (string, []correction.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers = append(r.tiers, tiers)
	return text, nil
}

func TestOnline_ExactCorrection(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t)
	text := "mi cuesta tiene un problema"
	res := p.Online(context.Background(), pipeline.Utterance{
		Text:           text,
		Words:          words(text, 0.9, 0.4, 0.9, 0.9, 0.9),
		ConversationID: "c1",
	})

	if res.CorrectedText != "mi cuenta tiene un problema" {
		t.Errorf("CorrectedText = %q", res.CorrectedText)
	}
	if res.Text != text {
		t.Errorf("Text = %q, want input", res.Text)
	}
	if len(res.Corrections) != 1 {
		t.Fatalf("Corrections = %+v, want 1", res.Corrections)
	}
	rec := res.Corrections[0]
	if rec.Method != correction.MethodExact || rec.Position != 1 || rec.Original != "cuesta" {
		t.Errorf("record = %+v", rec)
	}
	if res.Clarification != nil {
		t.Errorf("Clarification = %+v, want nil", res.Clarification)
	}
	if res.Mode != pipeline.ModeOnline || res.Quality != nil || res.Analysis != nil {
		t.Errorf("online result carries offline fields: %+v", res)
	}
	if res.ProcessingTimeMs < 0 {
		t.Errorf("ProcessingTimeMs = %f", res.ProcessingTimeMs)
	}
}

func TestOnline_OnlyWeakCriticalWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		confs    []float64
		wantType clarify.Type
	}{
		{"critical word in weak utterance", "cancelar mi cuenta", []float64{0.3, 0.4, 0.4}, clarify.TypeCriticalWordUnclear},
		{"critical word in strong utterance", "cancelar mi cuenta", []float64{0.45, 0.9, 0.9}, ""},
		{"low average without critical word", "quiero hablar con alguien", []float64{0.3, 0.4, 0.4, 0.4}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, cl := newPipeline(t)
			res := p.Online(context.Background(), pipeline.Utterance{
				Text: tc.text, Words: words(tc.text, tc.confs...), ConversationID: "c",
			})
			switch {
			case tc.wantType == "" && res.Clarification != nil:
				t.Errorf("Clarification = %+v, want nil", res.Clarification)
			case tc.wantType != "" && (res.Clarification == nil || res.Clarification.Type != tc.wantType):
				t.Errorf("Clarification = %+v, want %s", res.Clarification, tc.wantType)
			}
			want := 0
			if tc.wantType != "" {
				want = 1
			}
			if cl.Count("c") != want {
				t.Errorf("budget used = %d, want %d", cl.Count("c"), want)
			}
		})
	}
}

func TestOnline_ExactTierOnly(t *testing.T) {
	t.Parallel()

	rec := &tierRecorder{}
	p := pipeline.New(rec, clarify.New())
	p.Online(context.Background(), pipeline.Utterance{Text: "hola"})
	p.Offline(context.Background(), pipeline.OfflineRequest{Utterance: pipeline.Utterance{Text: "hola"}})

	if len(rec.tiers) != 2 || rec.tiers[0] != correction.TierExact || rec.tiers[1] != correction.AllTiers {
		t.Errorf("tiers = %v, want [exact, all]", rec.tiers)
	}
}

func TestOffline_QualityAndAnalysis(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t)
	text := "mi cuesta tiene un problema con la factura"
	res := p.Offline(context.Background(), pipeline.OfflineRequest{
		Utterance: pipeline.Utterance{
			Text:           text,
			Words:          words(text, 0.9, 0.4, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9),
			ConversationID: "c1",
		},
		Metadata: map[string]string{"agent": "ana"},
	})

	if !strings.Contains(res.CorrectedText, "cuenta") {
		t.Errorf("CorrectedText = %q", res.CorrectedText)
	}
	if res.Quality == nil || res.Quality.TokenCount != 8 || res.Quality.LowConfidenceCount != 1 {
		t.Fatalf("Quality = %+v", res.Quality)
	}
	if res.Analysis == nil {
		t.Fatal("Analysis = nil")
	}
	var billing bool
	for _, tp := range res.Analysis.Topics {
		billing = billing || tp == "billing"
	}
	if !billing {
		t.Errorf("topics = %v, want billing", res.Analysis.Topics)
	}
	if res.Retranscribed {
		t.Error("Retranscribed without audio")
	}
}

func TestOffline_UnrestrictedClarification(t *testing.T) {
	t.Parallel()

	p, cl := newPipeline(t)
	text := "cancelar mi cuenta"
	res := p.Offline(context.Background(), pipeline.OfflineRequest{
		Utterance: pipeline.Utterance{Text: text, Words: words(text, 0.45, 0.9, 0.9), ConversationID: "c"},
	})
	if res.Clarification == nil || res.Clarification.Category != clarify.CategoryDestructive {
		t.Errorf("Clarification = %+v, want destructive", res.Clarification)
	}
	if cl.Count("c") != 1 {
		t.Errorf("budget used = %d, want 1", cl.Count("c"))
	}
}

func TestOffline_Retranscribes(t *testing.T) {
	t.Parallel()

	second := "cancelar la cuesta"
	stt := &sttmock.Retranscriber{Result: &types.Transcription{
		Text:  second,
		Words: words(second, 0.95, 0.95, 0.6),
	}}
	p, _ := newPipeline(t, pipeline.WithRetranscriber(stt))

	text := "hola qué tal"
	res := p.Offline(context.Background(), pipeline.OfflineRequest{
		Utterance: pipeline.Utterance{Text: text, Words: words(text, 0.3, 0.3, 0.3)},
		Audio:     []byte("RIFF"),
	})

	if stt.CallCount() != 1 {
		t.Fatalf("Retranscribe calls = %d, want 1", stt.CallCount())
	}
	if !res.Retranscribed || res.Text != second {
		t.Errorf("Text = %q, Retranscribed = %v", res.Text, res.Retranscribed)
	}
	if res.CorrectedText != "cancelar la cuenta" {
		t.Errorf("CorrectedText = %q", res.CorrectedText)
	}
	if len(res.Corrections) != 1 || res.Corrections[0].Position != 2 {
		t.Errorf("Corrections = %+v", res.Corrections)
	}
	if res.Quality == nil || res.Quality.AverageConfidence < 0.8 {
		t.Errorf("quality not recomputed: %+v", res.Quality)
	}
}

func TestOffline_RetranscribeSkipped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		confs []float64
		audio []byte
		stt   *sttmock.Retranscriber
	}{
		{"good quality", []float64{0.95, 0.95, 0.95}, []byte("a"), &sttmock.Retranscriber{}},
		{"no audio", []float64{0.3, 0.3, 0.3}, nil, &sttmock.Retranscriber{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, _ := newPipeline(t, pipeline.WithRetranscriber(tc.stt))
			text := "hola qué tal"
			res := p.Offline(context.Background(), pipeline.OfflineRequest{
				Utterance: pipeline.Utterance{Text: text, Words: words(text, tc.confs...)},
				Audio:     tc.audio,
			})
			if tc.stt.CallCount() != 0 || res.Retranscribed {
				t.Errorf("calls = %d, retranscribed = %v", tc.stt.CallCount(), res.Retranscribed)
			}
		})
	}
}

func TestOffline_RetranscribeFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	for _, stt := range []*sttmock.Retranscriber{
		{Err: errors.New("whisper down")},
		{}, // nothing recognised
	} {
		p, _ := newPipeline(t, pipeline.WithRetranscriber(stt))
		text := "mi cuesta"
		res := p.Offline(context.Background(), pipeline.OfflineRequest{
			Utterance: pipeline.Utterance{Text: text, Words: words(text, 0.3, 0.3)},
			Audio:     []byte("a"),
		})
		if res.Retranscribed || res.Text != text || res.CorrectedText != "mi cuenta" {
			t.Errorf("result = %+v", res)
		}
	}
}

func TestPipeline_RecoversPanics(t *testing.T) {
	t.Parallel()

	p := pipeline.New(panicCorrector{}, panicClarifier{})
	text := "mi cuesta"
	for _, mode := range []pipeline.Mode{pipeline.ModeOnline, pipeline.ModeOffline} {
		res := p.Process(context.Background(), mode, pipeline.OfflineRequest{
			Utterance: pipeline.Utterance{Text: text, Words: words(text, 0.3, 0.3)},
		})
		if res.CorrectedText != text || len(res.Corrections) != 0 || res.Clarification != nil {
			t.Errorf("%s: result = %+v", mode, res)
		}
		if res.Mode != mode {
			t.Errorf("Mode = %s, want %s", res.Mode, mode)
		}
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, cl := newPipeline(t)
	text := "cancelar mi cuesta"
	res := p.Offline(ctx, pipeline.OfflineRequest{
		Utterance: pipeline.Utterance{Text: text, Words: words(text, 0.3, 0.3, 0.3), ConversationID: "c"},
	})
	if res.CorrectedText != text || res.Clarification != nil || res.Quality != nil {
		t.Errorf("result = %+v, want input unmodified", res)
	}
	if cl.Count("c") != 0 {
		t.Error("budget charged on cancelled context")
	}
}

func TestPipeline_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	stt := &sttmock.Retranscriber{Err: errors.New("down")}
	p := pipeline.New(correction.New(context.Background()), clarify.New(),
		pipeline.WithMetrics(m), pipeline.WithRetranscriber(stt))

	p.Online(context.Background(), pipeline.Utterance{Text: "hola"})
	p.Offline(context.Background(), pipeline.OfflineRequest{
		Utterance: pipeline.Utterance{Text: "hola", Words: words("hola", 0.1)},
		Audio:     []byte("a"),
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var runs uint64
	var retrans int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Histogram[float64]:
				if md.Name == "callscribe.pipeline.duration" {
					for _, dp := range data.DataPoints {
						runs += dp.Count
					}
				}
			case metricdata.Sum[int64]:
				if md.Name == "callscribe.retranscriptions" {
					for _, dp := range data.DataPoints {
						retrans += dp.Value
					}
				}
			}
		}
	}
	if runs != 2 || retrans != 1 {
		t.Errorf("pipeline runs = %d, retranscriptions = %d, want 2 and 1", runs, retrans)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"online", "offline"} {
		if m, err := pipeline.ParseMode(s); err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, err)
		}
	}
	if _, err := pipeline.ParseMode("batch"); err == nil {
		t.Error("ParseMode(batch) succeeded")
	}
}
