// Package batch re-processes stored call recordings through the offline
// correction pipeline.
//
// A [Reprocessor] pulls recordings from a [recording.Store], optionally
// re-transcribes their audio, runs [pipeline.Pipeline.Offline] on the text,
// and writes a transcript artifact plus the corrected metadata back. Batches
// run under a counting-semaphore admission limit; each recording fails on
// its own without aborting its siblings, and [Reprocessor.Cancel] stops a
// single queued or in-flight recording.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callscribe/internal/clarify"
	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/pipeline"
	"github.com/MrWong99/callscribe/internal/pipeline/analysis"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/recording"
	"github.com/MrWong99/callscribe/pkg/types"
)

// Defaults for batch sizing.
const (
	DefaultMaxConcurrent = 5
	DefaultLimit         = 100
)

var (
	// ErrRecordingNotFound is returned when the store has no metadata for a
	// recording.
	ErrRecordingNotFound = errors.New("batch: recording not found")

	// ErrAudioNotFound is returned when the store has no audio for a
	// recording.
	ErrAudioNotFound = errors.New("batch: audio not found")

	// ErrNoTranscription is returned when a recording has no stored
	// transcription and none could be produced.
	ErrNoTranscription = errors.New("batch: no transcription available")

	// ErrBatchFailed is returned by the batch operations when every
	// recording failed for a reason other than missing input.
	ErrBatchFailed = errors.New("batch: every recording failed")

	// ErrCancelled is the failure cause of a recording stopped with
	// [Reprocessor.Cancel].
	ErrCancelled = errors.New("batch: recording cancelled")
)

// OfflineProcessor runs the offline correction path. *pipeline.Pipeline
// satisfies it.
type OfflineProcessor interface {
	Offline(ctx context.Context, req pipeline.OfflineRequest) *pipeline.Result
}

// Failure records why one recording of a batch failed.
type Failure struct {
	RecordingID string `json:"recording_id"`
	Err         error  `json:"-"`
	Error       string `json:"error"`
}

// Stats aggregates the outcome of one batch run.
type Stats struct {
	RunID      string `json:"run_id"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`

	// Cancelled counts the failures caused by [Reprocessor.Cancel].
	Cancelled int `json:"cancelled"`

	// Results holds the updated metadata of the successful recordings in
	// input order.
	Results  []recording.Metadata `json:"results"`
	Failures []Failure            `json:"failures"`

	Duration time.Duration `json:"duration"`
}

// Transcript is the JSON artifact saved for every processed recording.
type Transcript struct {
	RecordingID    string    `json:"recording_id"`
	ConversationID string    `json:"conversation_id"`
	ProcessedAt    time.Time `json:"processed_at"`

	// OriginalText is the transcription stored before this run.
	OriginalText  string                 `json:"original_text"`
	Text          string                 `json:"text"`
	CorrectedText string                 `json:"corrected_text"`
	Words         []types.WordConfidence `json:"words,omitempty"`
	Language      string                 `json:"language,omitempty"`

	Corrections   []correction.Record `json:"corrections"`
	Clarification *clarify.Decision   `json:"clarification,omitempty"`
	Quality       *analysis.Quality   `json:"quality,omitempty"`
	Analysis      *analysis.Advanced  `json:"analysis,omitempty"`
	Retranscribed bool                `json:"retranscribed"`

	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Option configures a [Reprocessor].
type Option func(*Reprocessor)

// WithRetranscriber sets the second-pass recogniser used for recordings
// without a transcription and for reprocessing.
func WithRetranscriber(r stt.Retranscriber) Option {
	return func(rp *Reprocessor) { rp.retranscriber = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(rp *Reprocessor) { rp.metrics = m }
}

// WithMaxConcurrent sets the default concurrency used when a call passes a
// non-positive limit.
func WithMaxConcurrent(n int) Option {
	return func(rp *Reprocessor) {
		if n > 0 {
			rp.maxConcurrent = n
		}
	}
}

// WithClock overrides the ProcessedAt time source.
func WithClock(now func() time.Time) Option {
	return func(rp *Reprocessor) { rp.now = now }
}

// Reprocessor runs stored recordings through the offline pipeline. It is
// safe for concurrent use.
type Reprocessor struct {
	store         recording.Store
	pipeline      OfflineProcessor
	retranscriber stt.Retranscriber
	metrics       *observe.Metrics
	maxConcurrent int
	now           func() time.Time

	mu      sync.Mutex
	running map[string]map[*item]struct{}
}

// item is one recording scheduled by a batch run.
type item struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// New returns a Reprocessor reading from and writing to store.
func New(store recording.Store, p OfflineProcessor, opts ...Option) *Reprocessor {
	rp := &Reprocessor{
		store:         store,
		pipeline:      p,
		maxConcurrent: DefaultMaxConcurrent,
		now:           time.Now,
		running:       map[string]map[*item]struct{}{},
	}
	for _, o := range opts {
		o(rp)
	}
	if rp.metrics == nil {
		rp.metrics = observe.DefaultMetrics()
	}
	return rp
}

// ProcessRecording runs one recording through the offline pipeline and
// returns its updated metadata.
//
// An already processed recording is returned unchanged unless reprocess is
// set. Missing metadata or audio are reported as [ErrRecordingNotFound] and
// [ErrAudioNotFound].
func (rp *Reprocessor) ProcessRecording(ctx context.Context, id string, reprocess bool) (_ *recording.Metadata, err error) {
	ctx, span := observe.StartSpan(ctx, "batch.process_recording")
	defer func() {
		observe.FailSpan(span, err)
		span.End()
	}()
	span.SetAttributes(attribute.String("recording_id", id), attribute.Bool("reprocess", reprocess))
	log := observe.Logger(ctx).With("recording_id", id)

	m, err := rp.store.GetMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("batch: get metadata %q: %w", id, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrRecordingNotFound, id)
	}
	if m.Processed && !reprocess {
		log.Debug("batch: recording already processed, skipping")
		rp.metrics.RecordBatchItem(ctx, "skipped")
		return m, nil
	}

	audio, err := rp.store.GetAudio(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("batch: get audio %q: %w", id, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrAudioNotFound, id)
	}

	original := m.Transcription
	text, words, language := m.Transcription, m.Words, m.Language
	retranscribed := false
	if (text == "" || reprocess) && rp.retranscriber != nil {
		if tr := rp.retranscribe(ctx, log, audio); tr != nil {
			text, words, retranscribed = tr.Text, tr.Words, true
			if tr.Language != "" {
				language = tr.Language
			}
		}
	}
	if text == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoTranscription, id)
	}

	req := pipeline.OfflineRequest{
		Utterance: pipeline.Utterance{Text: text, Words: words, ConversationID: m.ConversationID},
		Metadata:  requestMetadata(m),
	}
	// A recording re-transcribed here is not sent through a second pass.
	if !retranscribed {
		req.Audio = audio
	}
	res := rp.pipeline.Offline(ctx, req)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("batch: recording %q: %w", id, context.Cause(ctx))
	}
	processedAt := rp.now()

	artifact, err := json.Marshal(Transcript{
		RecordingID:      id,
		ConversationID:   m.ConversationID,
		ProcessedAt:      processedAt,
		OriginalText:     original,
		Text:             res.Text,
		CorrectedText:    res.CorrectedText,
		Words:            res.Words,
		Language:         language,
		Corrections:      res.Corrections,
		Clarification:    res.Clarification,
		Quality:          res.Quality,
		Analysis:         res.Analysis,
		Retranscribed:    retranscribed || res.Retranscribed,
		ProcessingTimeMs: res.ProcessingTimeMs,
	})
	if err != nil {
		return nil, fmt.Errorf("batch: marshal transcript %q: %w", id, err)
	}
	path, err := rp.store.SaveTranscript(ctx, m.ConversationID, id, artifact)
	if err != nil {
		return nil, fmt.Errorf("batch: save transcript %q: %w", id, err)
	}

	updated := *m
	updated.Transcription = res.Text
	updated.Words = res.Words
	updated.Language = language
	updated.Processed = true
	updated.ProcessedAt = processedAt
	updated.CorrectedText = res.CorrectedText
	updated.CorrectionCount = len(res.Corrections)
	updated.ClarificationNeeded = res.Clarification != nil
	updated.Retranscribed = retranscribed || res.Retranscribed
	updated.TranscriptPath = path
	if res.Quality != nil {
		updated.ErrorRate = res.Quality.EstimatedErrorRate
		updated.AverageConfidence = res.Quality.AverageConfidence
	}
	if err := rp.store.UpdateMetadata(ctx, &updated); err != nil {
		return nil, fmt.Errorf("batch: update metadata %q: %w", id, err)
	}

	rp.metrics.RecordBatchItem(ctx, "processed")
	log.Info("batch: recording processed",
		"conversation_id", m.ConversationID,
		"corrections", updated.CorrectionCount,
		"retranscribed", updated.Retranscribed,
		"clarification_needed", updated.ClarificationNeeded,
	)
	return &updated, nil
}

// retranscribe returns a fresh transcription of audio, or nil when the
// recogniser failed or heard nothing.
func (rp *Reprocessor) retranscribe(ctx context.Context, log *slog.Logger, audio []byte) *types.Transcription {
	start := time.Now()
	tr, err := rp.retranscriber.Retranscribe(ctx, audio)
	switch {
	case err != nil:
		rp.metrics.RecordRetranscription(ctx, "error", time.Since(start))
		log.Warn("batch: re-transcription failed, keeping stored transcription", "err", err)
		return nil
	case tr == nil || tr.Text == "":
		rp.metrics.RecordRetranscription(ctx, "empty", time.Since(start))
		log.Debug("batch: re-transcription recognised nothing")
		return nil
	}
	rp.metrics.RecordRetranscription(ctx, "ok", time.Since(start))
	return tr
}

// ProcessBatch processes ids with at most maxConcurrent recordings in flight.
// A non-positive maxConcurrent uses the configured default.
//
// Stats are always returned. The error is non-nil only when ctx ended before
// the batch finished, or when every recording failed and none of the
// failures was missing input ([ErrBatchFailed]).
func (rp *Reprocessor) ProcessBatch(ctx context.Context, ids []string, maxConcurrent int) (*Stats, error) {
	return rp.processBatch(ctx, ids, maxConcurrent, false)
}

func (rp *Reprocessor) processBatch(ctx context.Context, ids []string, maxConcurrent int, reprocess bool) (*Stats, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = rp.maxConcurrent
	}
	start := time.Now()
	runID := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "batch.process_batch")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.Int("total", len(ids)))
	log := observe.Logger(ctx).With("run_id", runID)
	log.Info("batch: starting", "total", len(ids), "max_concurrent", maxConcurrent)

	results := make([]*recording.Metadata, len(ids))
	errs := make([]error, len(ids))

	// Every item is tracked up front so Cancel reaches queued ones too.
	items := make([]*item, len(ids))
	for i, id := range ids {
		items[i] = rp.track(ctx, id)
	}
	defer func() {
		for _, it := range items {
			rp.untrack(it)
		}
	}()

	// Items never return errors to the group so one failure cannot cancel
	// its siblings; only ctx stops admission.
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, id := range ids {
		it := items[i]
		if it.ctx.Err() != nil {
			errs[i] = context.Cause(it.ctx)
			continue
		}
		g.Go(func() error {
			if it.ctx.Err() != nil {
				errs[i] = context.Cause(it.ctx)
				return nil
			}
			results[i], errs[i] = rp.safeProcess(it.ctx, id, reprocess)
			if cause := context.Cause(it.ctx); errs[i] != nil && errors.Is(cause, ErrCancelled) && !errors.Is(errs[i], ErrCancelled) {
				errs[i] = fmt.Errorf("%w: %w", cause, errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := &Stats{
		RunID:    runID,
		Total:    len(ids),
		Results:  []recording.Metadata{},
		Failures: []Failure{},
	}
	// Missing input and explicit cancellation do not make a run fail.
	excused := false
	for i, id := range ids {
		if err := errs[i]; err != nil {
			stats.Failed++
			stats.Failures = append(stats.Failures, Failure{RecordingID: id, Err: err, Error: err.Error()})
			switch {
			case errors.Is(err, ErrCancelled):
				stats.Cancelled++
				excused = true
				rp.metrics.RecordBatchItem(ctx, "cancelled")
				log.Info("batch: recording cancelled", "recording_id", id)
			case ctx.Err() != nil:
			default:
				if errors.Is(err, ErrRecordingNotFound) || errors.Is(err, ErrAudioNotFound) {
					excused = true
				}
				rp.metrics.RecordBatchItem(ctx, "failed")
				log.Warn("batch: recording failed", "recording_id", id, "err", err)
			}
			continue
		}
		stats.Successful++
		stats.Results = append(stats.Results, *results[i])
	}
	stats.Duration = time.Since(start)

	log.Info("batch: finished",
		"successful", stats.Successful,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled,
		"duration", stats.Duration,
	)

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("batch: run %s interrupted: %w", runID, err)
	}
	if stats.Total > 0 && stats.Successful == 0 && !excused {
		return stats, fmt.Errorf("%w: %d recordings", ErrBatchFailed, stats.Total)
	}
	return stats, nil
}

// Cancel stops every queued or running batch item for recording id. Its
// failure is reported with [ErrCancelled] and its result is not stored; the
// rest of the batch carries on. Cancel reports whether any item was found.
func (rp *Reprocessor) Cancel(id string) bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	for it := range rp.running[id] {
		it.cancel(fmt.Errorf("%w: %q", ErrCancelled, id))
	}
	return len(rp.running[id]) > 0
}

func (rp *Reprocessor) track(ctx context.Context, id string) *item {
	it := &item{id: id}
	it.ctx, it.cancel = context.WithCancelCause(ctx)
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.running[id] == nil {
		rp.running[id] = map[*item]struct{}{}
	}
	rp.running[id][it] = struct{}{}
	return it
}

func (rp *Reprocessor) untrack(it *item) {
	it.cancel(nil)
	rp.mu.Lock()
	defer rp.mu.Unlock()
	delete(rp.running[it.id], it)
	if len(rp.running[it.id]) == 0 {
		delete(rp.running, it.id)
	}
}

// safeProcess is ProcessRecording with panics converted to errors.
func (rp *Reprocessor) safeProcess(ctx context.Context, id string, reprocess bool) (m *recording.Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch: processing %q panicked: %v", id, r)
		}
	}()
	return rp.ProcessRecording(ctx, id, reprocess)
}

// Reprocess processes ids like [Reprocessor.ProcessBatch] but ignores the
// processed flag and re-transcribes every recording.
func (rp *Reprocessor) Reprocess(ctx context.Context, ids []string, maxConcurrent int) (*Stats, error) {
	return rp.processBatch(ctx, ids, maxConcurrent, true)
}

// ProcessUnprocessed processes up to limit recordings not yet processed,
// oldest first. A non-positive limit uses [DefaultLimit].
func (rp *Reprocessor) ProcessUnprocessed(ctx context.Context, limit, maxConcurrent int) (*Stats, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return rp.processFiltered(ctx, recording.Unprocessed(limit), maxConcurrent)
}

// ProcessByDateRange processes every recording created in [start, end).
func (rp *Reprocessor) ProcessByDateRange(ctx context.Context, start, end time.Time, maxConcurrent int) (*Stats, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("batch: empty date range %s..%s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return rp.processFiltered(ctx, recording.Filter{From: start, To: end}, maxConcurrent)
}

func (rp *Reprocessor) processFiltered(ctx context.Context, f recording.Filter, maxConcurrent int) (*Stats, error) {
	list, err := rp.store.ListRecordings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("batch: list recordings: %w", err)
	}
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	return rp.ProcessBatch(ctx, ids, maxConcurrent)
}

// requestMetadata is the span metadata for one recording.
func requestMetadata(m *recording.Metadata) map[string]string {
	md := maps.Clone(m.Attributes)
	if md == nil {
		md = map[string]string{}
	}
	md["recording_id"] = m.ID
	md["conversation_id"] = m.ConversationID
	return md
}
