// Package observe provides application-wide observability primitives for
// callscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all callscribe metrics.
const meterName = "github.com/MrWong99/callscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// PipelineDuration tracks end-to-end correction pipeline latency. Use with
	// attribute:
	//   attribute.String("mode", "online"|"offline")
	PipelineDuration metric.Float64Histogram

	// RetranscriptionDuration tracks second-pass STT latency.
	RetranscriptionDuration metric.Float64Histogram

	// --- Counters ---

	// Corrections counts token substitutions. Use with attribute:
	//   attribute.String("method", "exact"|"semantic"|"phonetic")
	Corrections metric.Int64Counter

	// Clarifications counts clarification decisions returned to callers. Use
	// with attribute:
	//   attribute.String("type", ...)
	Clarifications metric.Int64Counter

	// Retranscriptions counts second-pass STT attempts. Use with attribute:
	//   attribute.String("status", "ok"|"empty"|"error")
	Retranscriptions metric.Int64Counter

	// BatchItems counts recordings handled by the batch reprocessor. Use with
	// attribute:
	//   attribute.String("status", "processed"|"skipped"|"failed"|"cancelled")
	BatchItems metric.Int64Counter

	// LearnedPatterns counts error→correction pairs added at runtime.
	LearnedPatterns metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks conversations holding clarification state.
	ActiveConversations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Online
// correction lands in the first buckets, offline retranscription in the last.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PipelineDuration, err = m.Float64Histogram("callscribe.pipeline.duration",
		metric.WithDescription("Latency of the correction pipeline by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetranscriptionDuration, err = m.Float64Histogram("callscribe.retranscription.duration",
		metric.WithDescription("Latency of second-pass speech-to-text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Corrections, err = m.Int64Counter("callscribe.corrections",
		metric.WithDescription("Total token corrections by method."),
	); err != nil {
		return nil, err
	}
	if met.Clarifications, err = m.Int64Counter("callscribe.clarifications",
		metric.WithDescription("Total clarification decisions by type."),
	); err != nil {
		return nil, err
	}
	if met.Retranscriptions, err = m.Int64Counter("callscribe.retranscriptions",
		metric.WithDescription("Total retranscription attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.BatchItems, err = m.Int64Counter("callscribe.batch.items",
		metric.WithDescription("Total recordings handled by the batch reprocessor by status."),
	); err != nil {
		return nil, err
	}
	if met.LearnedPatterns, err = m.Int64Counter("callscribe.learned_patterns",
		metric.WithDescription("Total correction patterns learned at runtime."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("callscribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("callscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("callscribe.active_conversations",
		metric.WithDescription("Number of conversations holding clarification state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("callscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPipeline records one pipeline run of the given mode.
func (m *Metrics) RecordPipeline(ctx context.Context, mode string, d time.Duration) {
	m.PipelineDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordCorrection records one token substitution by method.
func (m *Metrics) RecordCorrection(ctx context.Context, method string) {
	m.Corrections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("method", method)),
	)
}

// RecordClarification records one clarification decision by type.
func (m *Metrics) RecordClarification(ctx context.Context, typ string) {
	m.Clarifications.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", typ)),
	)
}

// RecordRetranscription records one second-pass STT attempt and its latency.
func (m *Metrics) RecordRetranscription(ctx context.Context, status string, d time.Duration) {
	m.Retranscriptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.RetranscriptionDuration.Record(ctx, d.Seconds())
}

// RecordBatchItem records one recording handled by the batch reprocessor.
func (m *Metrics) RecordBatchItem(ctx context.Context, status string) {
	m.BatchItems.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordLearnedPattern records one runtime-learned pattern.
func (m *Metrics) RecordLearnedPattern(ctx context.Context) {
	m.LearnedPatterns.Add(ctx, 1)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
