package telemetry

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const httpScopeName = "github.com/UXPLIMA/uxrcoder-hub/rpc"

// instrumentedHandler wraps the hub's HTTP surface with OTel tracing and
// metrics. Every request gets a span and is counted in uxr.http.* metrics.
// Use WrapHandler to create one; it returns the original handler unchanged
// when telemetry is disabled.
type instrumentedHandler struct {
	inner  http.Handler
	tracer trace.Tracer
	reqs   metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapHandler returns h decorated with OTel instrumentation.
// When telemetry is disabled, h is returned as-is with zero overhead.
func WrapHandler(h http.Handler) http.Handler {
	if !Enabled() {
		return h
	}
	m := Meter(httpScopeName)
	reqs, _ := m.Int64Counter("uxr.http.requests",
		metric.WithDescription("Total HTTP requests served"),
	)
	dur, _ := m.Float64Histogram("uxr.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("uxr.http.errors",
		metric.WithDescription("Total HTTP responses with a 5xx status"),
	)
	return &instrumentedHandler{
		inner:  h,
		tracer: Tracer(httpScopeName),
		reqs:   reqs,
		dur:    dur,
		errs:   errs,
	}
}

func (t *instrumentedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := t.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	start := time.Now()

	sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	t.inner.ServeHTTP(sw, r.WithContext(ctx))

	// The mux fills in r.Pattern during routing; rename the span to the
	// route so traces group by endpoint instead of by concrete path.
	route := r.Pattern
	if route == "" {
		route = r.Method + " " + r.URL.Path
	}
	span.SetName(route)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", sw.status),
	}
	span.SetAttributes(attrs...)

	ms := float64(time.Since(start).Milliseconds())
	t.reqs.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if sw.status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(sw.status))
		t.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// websocket upgrade depends on.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
