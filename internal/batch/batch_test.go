package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/callscribe/internal/batch"
	"github.com/MrWong99/callscribe/internal/clarify"
	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/pipeline"
	sttmock "github.com/MrWong99/callscribe/pkg/provider/stt/mock"
	"github.com/MrWong99/callscribe/pkg/recording"
	recmock "github.com/MrWong99/callscribe/pkg/recording/mock"
	"github.com/MrWong99/callscribe/pkg/types"
)

var (
	epoch = time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	clock = func() time.Time { return epoch.Add(48 * time.Hour) }
	audio = []byte("RIFF....WAVE")
)

func words(text string, confs ...float64) []types.WordConfidence {
	toks := strings.Fields(text)
	out := make([]types.WordConfidence, len(confs))
	for i, c := range confs {
		out[i] = types.WordConfidence{Word: toks[i], Confidence: c}
	}
	return out
}

func newPipeline() *pipeline.Pipeline {
	return pipeline.New(correction.New(context.Background()), clarify.New())
}

// seed stores n unprocessed recordings rec-0..rec-(n-1), one hour apart.
func seed(s *recmock.Store, n int) {
	text := "mi cuesta tiene un problema"
	for i := range n {
		s.Put(recording.Metadata{
			ID:             fmt.Sprintf("rec-%d", i),
			ConversationID: fmt.Sprintf("conv-%d", i),
			CreatedAt:      epoch.Add(time.Duration(i) * time.Hour),
			Transcription:  text,
			Words:          words(text, 0.9, 0.4, 0.9, 0.9, 0.9),
		}, audio)
	}
}

// slowProcessor tracks how many Offline calls run at once.
type slowProcessor struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (p *slowProcessor) Offline(_ context.Context, req pipeline.OfflineRequest) *pipeline.Result {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(p.delay)
	return &pipeline.Result{Text: req.Text, CorrectedText: req.Text, Corrections: []correction.Record{}}
}

// panicProcessor panics for one conversation.
type panicProcessor struct {
	conversation string
	next         batch.OfflineProcessor
}

func (p panicProcessor) Offline(ctx context.Context, req pipeline.OfflineRequest) *pipeline.Result {
	if req.ConversationID == p.conversation {
		panic("pipeline bug")
	}
	return p.next.Offline(ctx, req)
}

func TestProcessRecording(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 1)
	rp := batch.New(store, newPipeline(), batch.WithClock(clock))

	m, err := rp.ProcessRecording(context.Background(), "rec-0", false)
	if err != nil {
		t.Fatalf("ProcessRecording: %v", err)
	}
	if !m.Processed || !m.ProcessedAt.Equal(clock()) {
		t.Errorf("processed = %v at %v", m.Processed, m.ProcessedAt)
	}
	if m.CorrectedText != "mi cuenta tiene un problema" || m.CorrectionCount != 1 {
		t.Errorf("corrected = %q (%d corrections)", m.CorrectedText, m.CorrectionCount)
	}
	if m.ClarificationNeeded || m.Retranscribed {
		t.Errorf("flags = clarification %v, retranscribed %v", m.ClarificationNeeded, m.Retranscribed)
	}
	if m.AverageConfidence == 0 || m.ErrorRate == 0 {
		t.Errorf("quality not stored: %f, %f", m.AverageConfidence, m.ErrorRate)
	}

	stored, _ := store.Metadata("rec-0")
	if !stored.Processed || stored.TranscriptPath != m.TranscriptPath {
		t.Errorf("stored metadata = %+v", stored)
	}

	raw, ok := store.Transcript(m.TranscriptPath)
	if !ok {
		t.Fatalf("no transcript at %q", m.TranscriptPath)
	}
	var tr batch.Transcript
	if err := json.Unmarshal(raw, &tr); err != nil {
		t.Fatalf("unmarshal transcript: %v", err)
	}
	if tr.OriginalText != "mi cuesta tiene un problema" || tr.CorrectedText != m.CorrectedText {
		t.Errorf("transcript = %+v", tr)
	}
	if len(tr.Corrections) != 1 || tr.Corrections[0].Method != correction.MethodExact {
		t.Errorf("transcript corrections = %+v", tr.Corrections)
	}
	if tr.Quality == nil || tr.Analysis == nil {
		t.Error("transcript lacks quality or analysis")
	}
}

func TestProcessRecording_Idempotent(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 1)
	stt := &sttmock.Retranscriber{Result: &types.Transcription{Text: "otra cosa"}}
	rp := batch.New(store, newPipeline(), batch.WithRetranscriber(stt), batch.WithClock(clock))
	ctx := context.Background()

	first, err := rp.ProcessRecording(ctx, "rec-0", false)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := rp.ProcessRecording(ctx, "rec-0", false)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.TranscriptPath != first.TranscriptPath || second.CorrectedText != first.CorrectedText {
		t.Errorf("second = %+v, want %+v", second, first)
	}
	if stt.CallCount() != 0 {
		t.Errorf("Retranscribe calls = %d, want 0", stt.CallCount())
	}
	if n := len(store.GetAudioCalls()); n != 1 {
		t.Errorf("GetAudio calls = %d, want 1", n)
	}
	if n := len(store.Updates()); n != 1 {
		t.Errorf("updates = %d, want 1", n)
	}
}

func TestProcessRecording_MissingInput(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	store.Put(recording.Metadata{ID: "silent", Transcription: "hola"}, nil)
	rp := batch.New(store, newPipeline())
	ctx := context.Background()

	if _, err := rp.ProcessRecording(ctx, "nope", false); !errors.Is(err, batch.ErrRecordingNotFound) {
		t.Errorf("missing metadata: err = %v", err)
	}
	if _, err := rp.ProcessRecording(ctx, "silent", false); !errors.Is(err, batch.ErrAudioNotFound) {
		t.Errorf("missing audio: err = %v", err)
	}
	if len(store.Updates()) != 0 {
		t.Error("metadata updated despite missing input")
	}
}

func TestProcessRecording_Retranscription(t *testing.T) {
	t.Parallel()

	fresh := "quiero pagar la factura"
	tests := []struct {
		name       string
		stored     string
		reprocess  bool
		stt        *sttmock.Retranscriber
		wantText   string
		wantRetr   bool
		wantErr    error
		wantCalled int
	}{
		{
			name:       "no stored transcription",
			stt:        &sttmock.Retranscriber{Result: &types.Transcription{Text: fresh, Language: "es"}},
			wantText:   fresh,
			wantRetr:   true,
			wantCalled: 1,
		},
		{
			name:       "reprocess replaces stored text",
			stored:     "hola",
			reprocess:  true,
			stt:        &sttmock.Retranscriber{Result: &types.Transcription{Text: fresh}},
			wantText:   fresh,
			wantRetr:   true,
			wantCalled: 1,
		},
		{
			name:       "failure keeps stored text",
			stored:     "hola",
			reprocess:  true,
			stt:        &sttmock.Retranscriber{Err: errors.New("whisper down")},
			wantText:   "hola",
			wantCalled: 1,
		},
		{
			name:       "stored text is not re-transcribed",
			stored:     "hola",
			stt:        &sttmock.Retranscriber{Result: &types.Transcription{Text: fresh}},
			wantText:   "hola",
			wantCalled: 0,
		},
		{
			name:       "nothing to work with",
			stt:        &sttmock.Retranscriber{},
			wantErr:    batch.ErrNoTranscription,
			wantCalled: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := recmock.New()
			store.Put(recording.Metadata{ID: "r", ConversationID: "c", Transcription: tc.stored, Processed: tc.reprocess}, audio)
			rp := batch.New(store, newPipeline(), batch.WithRetranscriber(tc.stt))

			m, err := rp.ProcessRecording(context.Background(), "r", tc.reprocess)
			if tc.stt.CallCount() != tc.wantCalled {
				t.Errorf("Retranscribe calls = %d, want %d", tc.stt.CallCount(), tc.wantCalled)
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ProcessRecording: %v", err)
			}
			if m.Transcription != tc.wantText || m.Retranscribed != tc.wantRetr {
				t.Errorf("transcription = %q (retranscribed %v), want %q (%v)", m.Transcription, m.Retranscribed, tc.wantText, tc.wantRetr)
			}
		})
	}
}

func TestProcessBatch_PartialFailure(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 3)
	store.FailMetadata("rec-1", errors.New("row lock timeout"))
	rp := batch.New(store, newPipeline())

	stats, err := rp.ProcessBatch(context.Background(), []string{"rec-2", "rec-1", "missing", "rec-0"}, 2)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if stats.Total != 4 || stats.Successful != 2 || stats.Failed != 2 {
		t.Errorf("stats = %d/%d/%d, want 4/2/2", stats.Total, stats.Successful, stats.Failed)
	}
	if len(stats.Results) != 2 || stats.Results[0].ID != "rec-2" || stats.Results[1].ID != "rec-0" {
		t.Errorf("results out of input order: %+v", stats.Results)
	}
	if len(stats.Failures) != 2 || stats.Failures[0].RecordingID != "rec-1" || stats.Failures[1].RecordingID != "missing" {
		t.Errorf("failures = %+v", stats.Failures)
	}
	if !errors.Is(stats.Failures[1].Err, batch.ErrRecordingNotFound) || stats.Failures[1].Error == "" {
		t.Errorf("failure = %+v", stats.Failures[1])
	}
	if stats.RunID == "" {
		t.Error("empty RunID")
	}
}

func TestProcessBatch_AllFailed(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 3)
	store.GetMetadataErr = errors.New("connection refused")
	rp := batch.New(store, newPipeline())

	stats, err := rp.ProcessBatch(context.Background(), []string{"rec-0", "rec-1", "rec-2"}, 0)
	if !errors.Is(err, batch.ErrBatchFailed) {
		t.Errorf("err = %v, want ErrBatchFailed", err)
	}
	if stats == nil || stats.Failed != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestProcessBatch_AllMissingIsNotFatal(t *testing.T) {
	t.Parallel()

	rp := batch.New(recmock.New(), newPipeline())
	stats, err := rp.ProcessBatch(context.Background(), []string{"a", "b"}, 0)
	if err != nil {
		t.Errorf("err = %v, want nil for missing input", err)
	}
	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want 2", stats.Failed)
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	t.Parallel()

	stats, err := batch.New(recmock.New(), newPipeline()).ProcessBatch(context.Background(), nil, 0)
	if err != nil || stats.Total != 0 || stats.Results == nil {
		t.Errorf("ProcessBatch(nil) = (%+v, %v)", stats, err)
	}
}

func TestProcessBatch_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		limit int
		opts  []batch.Option
		want  int32
	}{
		{"explicit limit", 2, nil, 2},
		{"default limit", 0, nil, batch.DefaultMaxConcurrent},
		{"configured default", -1, []batch.Option{batch.WithMaxConcurrent(3)}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := recmock.New()
			seed(store, 12)
			proc := &slowProcessor{delay: 20 * time.Millisecond}
			rp := batch.New(store, proc, tc.opts...)

			ids := make([]string, 12)
			for i := range ids {
				ids[i] = fmt.Sprintf("rec-%d", i)
			}
			stats, err := rp.ProcessBatch(context.Background(), ids, tc.limit)
			if err != nil || stats.Successful != 12 {
				t.Fatalf("ProcessBatch = (%+v, %v)", stats, err)
			}
			if peak := proc.peak.Load(); peak > tc.want || peak < 1 {
				t.Errorf("peak in-flight = %d, want 1..%d", peak, tc.want)
			}
		})
	}
}

func TestProcessBatch_IsolatesPanics(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 3)
	rp := batch.New(store, panicProcessor{conversation: "conv-1", next: newPipeline()})

	stats, err := rp.ProcessBatch(context.Background(), []string{"rec-0", "rec-1", "rec-2"}, 3)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if stats.Successful != 2 || stats.Failed != 1 || stats.Failures[0].RecordingID != "rec-1" {
		t.Errorf("stats = %+v", stats)
	}
	if !strings.Contains(stats.Failures[0].Error, "panicked") {
		t.Errorf("failure = %q", stats.Failures[0].Error)
	}
}

func TestProcessBatch_Cancelled(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := batch.New(store, newPipeline()).ProcessBatch(ctx, []string{"rec-0", "rec-1", "rec-2"}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if stats == nil || stats.Failed != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if len(store.Updates()) != 0 {
		t.Error("recordings updated after cancellation")
	}
}

// blockingProcessor holds one conversation until its context ends.
type blockingProcessor struct {
	conversation string
	started      chan struct{}
	next         batch.OfflineProcessor
}

func (p *blockingProcessor) Offline(ctx context.Context, req pipeline.OfflineRequest) *pipeline.Result {
	if req.ConversationID == p.conversation {
		close(p.started)
		<-ctx.Done()
	}
	return p.next.Offline(ctx, req)
}

func TestProcessBatch_CancelOne(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 3)
	p := &blockingProcessor{conversation: "conv-0", started: make(chan struct{}), next: newPipeline()}
	rp := batch.New(store, p, batch.WithClock(clock))

	type outcome struct {
		stats *batch.Stats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		stats, err := rp.ProcessBatch(context.Background(), []string{"rec-0", "rec-1", "rec-2"}, 1)
		done <- outcome{stats, err}
	}()

	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("rec-0 never started")
	}
	// rec-2 is still queued behind the blocked rec-0.
	if !rp.Cancel("rec-2") {
		t.Fatal("Cancel(rec-2) found no queued item")
	}
	if !rp.Cancel("rec-0") {
		t.Fatal("Cancel(rec-0) found no running item")
	}
	if rp.Cancel("rec-9") {
		t.Error("Cancel(rec-9) reported an unknown recording")
	}

	var res outcome
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish after cancellation")
	}
	if res.err != nil {
		t.Fatalf("ProcessBatch: %v", res.err)
	}
	if res.stats.Successful != 1 || res.stats.Failed != 2 || res.stats.Cancelled != 2 {
		t.Errorf("stats = %+v", res.stats)
	}
	for _, f := range res.stats.Failures {
		if !errors.Is(f.Err, batch.ErrCancelled) {
			t.Errorf("failure %s = %v, want ErrCancelled", f.RecordingID, f.Err)
		}
	}
	for id, want := range map[string]bool{"rec-0": false, "rec-1": true, "rec-2": false} {
		if m, _ := store.Metadata(id); m.Processed != want {
			t.Errorf("%s processed = %v, want %v", id, m.Processed, want)
		}
	}
	if rp.Cancel("rec-1") {
		t.Error("Cancel after the batch finished reported an item")
	}
}

func TestProcessUnprocessed(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 4)
	done, _ := store.Metadata("rec-0")
	done.Processed = true
	store.Put(done, audio)
	rp := batch.New(store, newPipeline())

	stats, err := rp.ProcessUnprocessed(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("ProcessUnprocessed: %v", err)
	}
	if stats.Total != 2 || stats.Results[0].ID != "rec-1" || stats.Results[1].ID != "rec-2" {
		t.Errorf("stats = %+v", stats)
	}

	store.ListErr = errors.New("timeout")
	if _, err := rp.ProcessUnprocessed(context.Background(), 0, 0); err == nil {
		t.Error("list failure not reported")
	}
}

func TestProcessByDateRange(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 5)
	rp := batch.New(store, newPipeline())

	stats, err := rp.ProcessByDateRange(context.Background(), epoch.Add(time.Hour), epoch.Add(3*time.Hour), 0)
	if err != nil {
		t.Fatalf("ProcessByDateRange: %v", err)
	}
	var ids []string
	for _, m := range stats.Results {
		ids = append(ids, m.ID)
	}
	if strings.Join(ids, ",") != "rec-1,rec-2" {
		t.Errorf("processed = %v, want rec-1,rec-2", ids)
	}

	if _, err := rp.ProcessByDateRange(context.Background(), epoch, epoch, 0); err == nil {
		t.Error("empty range accepted")
	}
}

func TestReprocess(t *testing.T) {
	t.Parallel()

	store := recmock.New()
	seed(store, 2)
	stt := &sttmock.Retranscriber{Result: &types.Transcription{Text: "quiero dar de baja"}}
	rp := batch.New(store, newPipeline(), batch.WithRetranscriber(stt))
	ctx := context.Background()

	if _, err := rp.ProcessBatch(ctx, []string{"rec-0", "rec-1"}, 0); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	stats, err := rp.Reprocess(ctx, []string{"rec-0", "rec-1"}, 0)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if stt.CallCount() != 2 {
		t.Errorf("Retranscribe calls = %d, want 2", stt.CallCount())
	}
	for _, m := range stats.Results {
		if m.Transcription != "quiero dar de baja" || !m.Retranscribed {
			t.Errorf("%s = %+v", m.ID, m)
		}
	}
}

func TestProcessBatch_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	store := recmock.New()
	seed(store, 2)
	rp := batch.New(store, newPipeline(), batch.WithMetrics(m))
	ctx := context.Background()

	if _, err := rp.ProcessBatch(ctx, []string{"rec-0", "rec-1", "missing"}, 0); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if _, err := rp.ProcessRecording(ctx, "rec-0", false); err != nil {
		t.Fatalf("ProcessRecording: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	byStatus := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "callscribe.batch.items" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				status, _ := dp.Attributes.Value("status")
				byStatus[status.AsString()] += dp.Value
			}
		}
	}
	if byStatus["processed"] != 2 || byStatus["failed"] != 1 || byStatus["skipped"] != 1 {
		t.Errorf("batch items = %v, want processed 2, failed 1, skipped 1", byStatus)
	}
}

// Compile-time check that the real pipeline satisfies the processor contract.
var _ batch.OfflineProcessor = (*pipeline.Pipeline)(nil)

