package observe

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseRecorder captures the status and size of a response.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// quietRoutes are polled by orchestrators and scrapers; their completions
// are logged at debug level.
var quietRoutes = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// routeLabel returns the ServeMux pattern that matched r so that metric
// cardinality stays bounded. Unmatched requests share one label.
func routeLabel(r *http.Request) string {
	switch {
	case r.Pattern != "":
		return r.Pattern
	case r.URL.Path == "":
		return "/"
	}
	return "unmatched"
}

// spanName is "admin GET /readyz" whether or not the pattern names the
// method.
func spanName(method, route string) string {
	if strings.HasPrefix(route, method+" ") {
		return "admin " + route
	}
	return "admin " + method + " " + route
}

// Middleware traces and measures every admin request. It continues an
// incoming W3C trace context, echoes the trace ID as X-Correlation-ID,
// records [Metrics.HTTPRequestDuration] by method, route and status, and
// turns handler panics into 500 responses.
//
// Wrap the mux itself, not individual handlers, so that the route pattern
// is known when the request completes.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "admin "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &responseRecorder{ResponseWriter: w}
			req := r.WithContext(ctx)
			func() {
				defer func() {
					if p := recover(); p != nil {
						FailSpan(span, fmt.Errorf("panic: %v", p))
						slog.ErrorContext(ctx, "admin handler panic", "path", r.URL.Path, "panic", p)
						if rec.status == 0 {
							http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
						}
					}
				}()
				next.ServeHTTP(rec, req)
			}()

			route := routeLabel(req)
			status := rec.statusCode()
			duration := time.Since(start)
			span.SetName(spanName(r.Method, route))
			span.SetAttributes(semconv.HTTPResponseStatusCode(status))
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
					attribute.String("status", strconv.Itoa(status)),
				),
			)

			level := slog.LevelInfo
			if _, quiet := quietRoutes[r.URL.Path]; quiet {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", duration),
			)
		})
	}
}
