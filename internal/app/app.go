// Package app wires the callscribe subsystems into a running application.
//
// New builds the recording store, the correction cascade with its optional
// tiers, the clarification policy, the pipeline and the batch reprocessor
// from the config. Serve runs the admin HTTP server until its context ends,
// and Shutdown releases everything New opened.
//
// Tests inject doubles through functional options (WithRecordingStore,
// WithPatternStore, ...). Anything not injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/callscribe/internal/batch"
	"github.com/MrWong99/callscribe/internal/clarify"
	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/MrWong99/callscribe/internal/correction/phonetic"
	"github.com/MrWong99/callscribe/internal/correction/semantic"
	"github.com/MrWong99/callscribe/internal/health"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/pipeline"
	"github.com/MrWong99/callscribe/internal/resilience"
	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/recording"
	"github.com/MrWong99/callscribe/pkg/store/postgres"
)

// ErrNoRecordingStore is returned by [App.Batch] when neither a database
// nor an injected recording store is configured.
var ErrNoRecordingStore = errors.New("app: no recording store configured")

// NamedRetranscriber is one configured re-transcription backend.
type NamedRetranscriber struct {
	Name          string
	Retranscriber stt.Retranscriber
}

// Providers holds the external backends built by main through the config
// registry. Nil Embeddings disables the semantic tier; an empty STT list
// disables re-transcription.
type Providers struct {
	Embeddings embeddings.Provider

	// STT lists the backends in fallback order.
	STT []NamedRetranscriber
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	db         *postgres.Store
	recordings recording.Store
	patterns   correction.PatternStore
	similarity correction.SimilaritySearcher

	retranscriber stt.Retranscriber
	corrector     *correction.Engine
	clarifier     *clarify.Engine
	pipeline      *pipeline.Pipeline
	batch         *batch.Reprocessor

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecordingStore injects a recording store instead of the database one.
func WithRecordingStore(s recording.Store) Option {
	return func(a *App) { a.recordings = s }
}

// WithPatternStore injects the learned pattern store.
func WithPatternStore(s correction.PatternStore) Option {
	return func(a *App) { a.patterns = s }
}

// WithSimilaritySearcher injects the semantic tier backend.
func WithSimilaritySearcher(s correction.SimilaritySearcher) Option {
	return func(a *App) { a.similarity = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. providers may be nil.
// A configured database is connected and migrated before New returns.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	if err := a.initCorrection(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init correction: %w", err)
	}
	a.initRetranscriber()

	a.clarifier = clarify.New(
		clarify.WithConfig(cfg.Clarification.Policy()),
		clarify.WithMetrics(a.metrics),
	)

	pipeOpts := []pipeline.Option{
		pipeline.WithConfig(cfg.Pipeline.Orchestration()),
		pipeline.WithMetrics(a.metrics),
	}
	if a.retranscriber != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRetranscriber(a.retranscriber))
	}
	a.pipeline = pipeline.New(a.corrector, a.clarifier, pipeOpts...)

	if a.recordings != nil {
		batchOpts := []batch.Option{
			batch.WithMetrics(a.metrics),
			batch.WithMaxConcurrent(cfg.Batch.Concurrency()),
		}
		if a.retranscriber != nil {
			batchOpts = append(batchOpts, batch.WithRetranscriber(a.retranscriber))
		}
		a.batch = batch.New(a.recordings, a.pipeline, batchOpts...)
	}

	slog.Info("app: ready",
		"tiers", a.corrector.Capabilities().String(),
		"patterns", a.corrector.Size(),
		"retranscription", a.retranscriber != nil,
		"batch", a.batch != nil,
	)
	return a, nil
}

// initStorage connects PostgreSQL when a DSN is configured and the stores it
// would back are not all injected.
func (a *App) initStorage(ctx context.Context) error {
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" || (a.recordings != nil && a.patterns != nil) {
		return nil
	}

	opts := postgres.Options{VectorIndex: a.cfg.Storage.UseVectorIndex}
	if a.cfg.Storage.UseVectorIndex {
		opts.EmbeddingDimensions = a.cfg.Storage.EmbeddingDimensions
	}
	db, err := postgres.NewStore(ctx, dsn, opts)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, func() error { db.Close(); return nil })

	if a.recordings == nil {
		a.recordings = db.Recordings()
	}
	if a.patterns == nil {
		a.patterns = db.Patterns()
	}
	return nil
}

func (a *App) initCorrection(ctx context.Context) error {
	cc := a.cfg.Correction
	if a.patterns == nil && cc.PatternsFile != "" {
		a.patterns = correction.NewFileStore(cc.PatternsFile)
	}

	if a.similarity == nil && !cc.DisableSemantic && a.providers.Embeddings != nil {
		emb := a.providers.Embeddings
		if a.cfg.Storage.UseVectorIndex && a.db != nil {
			if got, want := emb.Dimensions(), a.cfg.Storage.EmbeddingDimensions; got != want {
				return fmt.Errorf("embeddings provider %q produces %d dimensions, storage.embedding_dimensions is %d",
					emb.ModelID(), got, want)
			}
			a.similarity = a.db.Variants(emb)
		} else {
			a.similarity = semantic.New(emb)
		}
	}

	th := cc.Thresholds()
	if h, ok := a.providers.Embeddings.(embeddings.DistanceHint); ok && cc.MaxDistance == 0 {
		th.MaxDistance = h.MaxCosineDistance()
	}
	opts := []correction.Option{
		correction.WithThresholds(th),
		correction.WithMetrics(a.metrics),
	}
	if a.patterns != nil {
		opts = append(opts, correction.WithPatternStore(a.patterns))
	}
	if a.similarity != nil && !cc.DisableSemantic {
		opts = append(opts, correction.WithSimilaritySearcher(a.similarity))
	}
	if !cc.DisablePhonetic {
		opts = append(opts, correction.WithPhoneticMatcher(
			phonetic.New(phonetic.WithMinSimilarity(cc.PhoneticMinSimilarity)),
		))
	}
	a.corrector = correction.New(ctx, opts...)
	return nil
}

// initRetranscriber puts every configured backend behind its own circuit
// breaker, in configured order.
func (a *App) initRetranscriber() {
	backends := a.providers.STT
	if len(backends) == 0 {
		return
	}
	fb := resilience.NewRetranscriberFallback(
		backends[0].Name, backends[0].Retranscriber, a.cfg.Resilience.Fallback(), a.metrics,
	)
	for _, b := range backends[1:] {
		fb.AddFallback(b.Name, b.Retranscriber)
	}
	a.retranscriber = fb
	slog.Info("app: re-transcription enabled", "backends", fb.Backends())
}

// Corrector returns the correction engine.
func (a *App) Corrector() *correction.Engine { return a.corrector }

// Pipeline returns the correction pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Batch returns the batch reprocessor, or [ErrNoRecordingStore].
func (a *App) Batch() (*batch.Reprocessor, error) {
	if a.batch == nil {
		return nil, ErrNoRecordingStore
	}
	return a.batch, nil
}

// Learn teaches the correction engine a new exact pattern.
func (a *App) Learn(ctx context.Context, original, corrected string) error {
	return a.corrector.Learn(ctx, original, corrected)
}

// Handler returns the admin routes: /healthz, /readyz and, when metrics is
// non-nil, /metrics. Every route is traced and measured.
func (a *App) Handler(metrics http.Handler) http.Handler {
	var checkers []health.Checker
	if a.db != nil {
		checkers = append(checkers, health.Ping("database", a.db))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return observe.Middleware(a.metrics)(mux)
}

// shutdownGrace bounds the graceful stop of the admin server.
const shutdownGrace = 10 * time.Second

// Serve runs the admin HTTP server on server.listen_addr until ctx ends.
func (a *App) Serve(ctx context.Context, metrics http.Handler) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("app: admin server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: admin server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: admin server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: admin server: %w", err)
	}
	return nil
}

// Shutdown releases the resources opened by New. It respects the context
// deadline: closers not reached in time are skipped and ctx.Err is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}
