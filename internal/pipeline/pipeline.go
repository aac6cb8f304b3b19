// Package pipeline orchestrates correction and clarification for one
// utterance in one of two modes.
//
// Online mode sits in the live-call path. It runs only the exact-match tier
// and surfaces a clarification only when a critical word is unclear and the
// whole utterance is weak. Offline mode runs every correction tier, estimates
// transcription quality, optionally re-transcribes the audio, extracts
// entities, topics and keywords, and lets any clarification through.
//
// Neither mode returns an error. A failing or panicking sub-step is logged
// and its optional result field is left empty.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/callscribe/internal/clarify"
	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/pipeline/analysis"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/types"
)

// Mode selects the processing path.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// ParseMode parses "online" or "offline".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeOnline, ModeOffline:
		return m, nil
	}
	return "", fmt.Errorf("pipeline: unknown mode %q", s)
}

// Corrector is the tiered correction cascade. *correction.Engine satisfies it.
type Corrector interface {
	Correct(ctx context.Context, text string, words []types.WordConfidence, tiers correction.Tiers) (string, []correction.Record)
}

// Clarifier is the clarification policy. *clarify.Engine satisfies it.
type Clarifier interface {
	ShouldClarifyIf(ctx context.Context, text string, words []types.WordConfidence, conversationID string, accept func(*clarify.Decision) bool) *clarify.Decision
}

// Utterance is one piece of caller speech as produced by the recogniser.
type Utterance struct {
	Text           string
	Words          []types.WordConfidence
	ConversationID string
}

// OfflineRequest is an utterance plus the offline-only inputs.
type OfflineRequest struct {
	Utterance

	// Audio is the stored recording, used only for re-transcription.
	Audio []byte

	// Metadata is echoed into the trace span attributes.
	Metadata map[string]string
}

// Result is the outcome of one pipeline run.
type Result struct {
	// Text is the transcription the corrections apply to. After a
	// re-transcription this is the new transcription.
	Text string `json:"text"`

	// CorrectedText has the same token count as Text.
	CorrectedText string              `json:"corrected_text"`
	Corrections   []correction.Record `json:"corrections"`

	// Clarification is nil when the caller should proceed.
	Clarification *clarify.Decision `json:"clarification,omitempty"`

	Mode             Mode    `json:"mode"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`

	// Quality and Analysis are set in offline mode only.
	Quality  *analysis.Quality  `json:"quality,omitempty"`
	Analysis *analysis.Advanced `json:"analysis,omitempty"`

	// Words holds the word confidences of Text.
	Words []types.WordConfidence `json:"words,omitempty"`

	Retranscribed bool `json:"retranscribed"`
}

// Config tunes the orchestration thresholds.
type Config struct {
	// OnlineCriticalThreshold is the average confidence below which an unclear
	// critical word is surfaced online. Default: 0.5.
	OnlineCriticalThreshold float64

	// RetranscribeAbove is the estimated error rate above which offline mode
	// re-transcribes the audio. Default: 0.2.
	RetranscribeAbove float64

	// LowConfidence marks a token as unsure in the quality estimate.
	// Default: 0.7.
	LowConfidence float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		OnlineCriticalThreshold: 0.5,
		RetranscribeAbove:       0.2,
		LowConfidence:           0.7,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OnlineCriticalThreshold <= 0 {
		c.OnlineCriticalThreshold = d.OnlineCriticalThreshold
	}
	if c.RetranscribeAbove <= 0 {
		c.RetranscribeAbove = d.RetranscribeAbove
	}
	if c.LowConfidence <= 0 {
		c.LowConfidence = d.LowConfidence
	}
	return c
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithConfig overrides the thresholds; zero fields keep their defaults.
func WithConfig(c Config) Option {
	return func(p *Pipeline) { p.cfg = c.withDefaults() }
}

// WithRetranscriber enables offline re-transcription.
func WithRetranscriber(r stt.Retranscriber) Option {
	return func(p *Pipeline) { p.retranscriber = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline composes a [Corrector] and a [Clarifier]. It holds no mutable
// state of its own and is safe for concurrent use.
type Pipeline struct {
	corrector     Corrector
	clarifier     Clarifier
	retranscriber stt.Retranscriber
	cfg           Config
	metrics       *observe.Metrics
}

// New creates a Pipeline.
func New(corrector Corrector, clarifier Clarifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		corrector: corrector,
		clarifier: clarifier,
		cfg:       DefaultConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Process dispatches req to the mode's path. Online mode ignores the
// offline-only fields.
func (p *Pipeline) Process(ctx context.Context, mode Mode, req OfflineRequest) *Result {
	if mode == ModeOnline {
		return p.Online(ctx, req.Utterance)
	}
	return p.Offline(ctx, req)
}

// Online runs the latency-bound path.
func (p *Pipeline) Online(ctx context.Context, u Utterance) *Result {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.online")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", u.ConversationID))

	res := newResult(ModeOnline, u)
	defer p.finish(ctx, res, start)
	if ctx.Err() != nil {
		return res
	}

	p.correct(ctx, res, correction.TierExact)

	avg := averageConfidence(res.CorrectedText, res.Words)
	onlyCritical := func(d *clarify.Decision) bool {
		return d.Type == clarify.TypeCriticalWordUnclear && avg < p.cfg.OnlineCriticalThreshold
	}
	p.clarify(ctx, res, u.ConversationID, onlyCritical)
	return res
}

// Offline runs the quality-bound path.
func (p *Pipeline) Offline(ctx context.Context, req OfflineRequest) *Result {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.offline")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", req.ConversationID))
	for k, v := range req.Metadata {
		span.SetAttributes(attribute.String("metadata."+k, v))
	}

	res := newResult(ModeOffline, req.Utterance)
	defer p.finish(ctx, res, start)
	if ctx.Err() != nil {
		return res
	}

	p.correct(ctx, res, correction.AllTiers)
	p.quality(ctx, res)

	if res.Quality != nil && res.Quality.EstimatedErrorRate > p.cfg.RetranscribeAbove &&
		p.retranscriber != nil && len(req.Audio) > 0 {
		if p.retranscribe(ctx, res, req.Audio) {
			p.correct(ctx, res, correction.AllTiers)
			p.quality(ctx, res)
		}
	}

	guard(ctx, "analysis", func() {
		a := analysis.Analyze(res.CorrectedText)
		res.Analysis = &a
	})
	p.clarify(ctx, res, req.ConversationID, nil)
	return res
}

func newResult(mode Mode, u Utterance) *Result {
	return &Result{
		Text:          u.Text,
		CorrectedText: u.Text,
		Corrections:   []correction.Record{},
		Mode:          mode,
		Words:         u.Words,
	}
}

// correct replaces the corrected text and records of res. On a panic the
// unmodified text is kept.
func (p *Pipeline) correct(ctx context.Context, res *Result, tiers correction.Tiers) {
	guard(ctx, "correction", func() {
		text, records := p.corrector.Correct(ctx, res.Text, res.Words, tiers)
		if records == nil {
			records = []correction.Record{}
		}
		res.CorrectedText, res.Corrections = text, records
	})
}

func (p *Pipeline) quality(ctx context.Context, res *Result) {
	guard(ctx, "quality", func() {
		q := analysis.ComputeQuality(res.Text, res.Words, p.cfg.LowConfidence)
		res.Quality = &q
	})
}

func (p *Pipeline) clarify(ctx context.Context, res *Result, conversationID string, accept func(*clarify.Decision) bool) {
	guard(ctx, "clarification", func() {
		res.Clarification = p.clarifier.ShouldClarifyIf(ctx, res.CorrectedText, res.Words, conversationID, accept)
	})
}

// retranscribe replaces the working transcription of res with a second
// pass over audio. It reports whether the text was replaced.
func (p *Pipeline) retranscribe(ctx context.Context, res *Result, audio []byte) (replaced bool) {
	ctx, span := observe.StartSpan(ctx, "pipeline.retranscribe")
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	status := "error"
	defer func() { p.metrics.RecordRetranscription(ctx, status, time.Since(start)) }()

	var (
		tr  *types.Transcription
		err error
	)
	guard(ctx, "retranscription", func() {
		tr, err = p.retranscriber.Retranscribe(ctx, audio)
		if err == nil {
			status = "empty"
		}
	})
	switch {
	case err != nil:
		observe.FailSpan(span, err)
		log.Warn("pipeline: re-transcription failed, keeping original", "err", err)
		return false
	case tr == nil || tr.Text == "":
		log.Debug("pipeline: re-transcription recognised nothing, keeping original")
		return false
	}

	status = "ok"
	res.Text, res.Words = tr.Text, tr.Words
	res.CorrectedText, res.Corrections = tr.Text, []correction.Record{}
	res.Retranscribed = true
	log.Info("pipeline: re-transcribed low-quality transcription",
		"error_rate", res.Quality.EstimatedErrorRate,
		"tokens", len(types.Tokens(tr.Text)),
	)
	return true
}

func (p *Pipeline) finish(ctx context.Context, res *Result, start time.Time) {
	d := time.Since(start)
	res.ProcessingTimeMs = float64(d.Microseconds()) / 1000
	p.metrics.RecordPipeline(ctx, string(res.Mode), d)
}

// guard runs fn and converts a panic into a logged, skipped step.
func guard(ctx context.Context, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("pipeline: step panicked", "step", step, "panic", r)
		}
	}()
	fn()
}

// averageConfidence is the mean aligned confidence of text's tokens; empty
// text averages 1.
func averageConfidence(text string, words []types.WordConfidence) float64 {
	confs := types.AlignConfidences(types.Tokens(text), words)
	if len(confs) == 0 {
		return types.NeutralConfidence
	}
	var sum float64
	for _, c := range confs {
		sum += c
	}
	return sum / float64(len(confs))
}
