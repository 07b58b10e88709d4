package otel

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	MetricRequestCount    = "http.server.request.count"
	MetricRequestDuration = "http.server.request.duration"
	MetricResponseSize    = "http.server.response.size"
	MetricActiveRequests  = "http.server.active_requests"

	spanNameHTTPRequest = "http.request"
)

type httpMetrics struct {
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
	responseSize    metric.Int64Histogram
	activeRequests  metric.Int64UpDownCounter
}

type httpMiddleware struct {
	metrics *httpMetrics
	tracer  trace.Tracer
}

// NewHTTPMiddleware records a span and request metrics for every request.
// A nil meter or tracer selects the global provider.
func NewHTTPMiddleware(meter metric.Meter, tracer trace.Tracer) (func(http.Handler) http.Handler, error) {
	if meter == nil {
		meter = otelapi.GetMeterProvider().Meter(tracerName)
	}
	if tracer == nil {
		tracer = otelapi.Tracer(tracerName)
	}
	metrics, err := newHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}
	middleware := &httpMiddleware{metrics: metrics, tracer: tracer}
	return middleware.wrap, nil
}

// WithRoute labels requests reaching next with a low-cardinality route,
// reported back to the enclosing middleware.
func WithRoute(next http.Handler, route string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture, ok := r.Context().Value(routeCaptureKey{}).(*routeCapture); ok {
			capture.route = route
		}
		next.ServeHTTP(w, r)
	})
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	requestCounter, err := meter.Int64Counter(MetricRequestCount,
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}
	requestDuration, err := meter.Float64Histogram(MetricRequestDuration,
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	responseSize, err := meter.Int64Histogram(MetricResponseSize,
		metric.WithDescription("HTTP response size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	activeRequests, err := meter.Int64UpDownCounter(MetricActiveRequests,
		metric.WithDescription("Active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}
	return &httpMetrics{
		requestCounter:  requestCounter,
		requestDuration: requestDuration,
		responseSize:    responseSize,
		activeRequests:  activeRequests,
	}, nil
}

func (middleware *httpMiddleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := otelapi.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := middleware.tracer.Start(ctx, spanNameHTTPRequest,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(requestAttributes(r, "")...),
		)
		defer span.End()
		r = r.WithContext(ctx)

		// The route is only known once the mux has run, so active requests
		// are counted by method alone.
		activeAttrs := metric.WithAttributes(attribute.String("http.method", r.Method))
		middleware.metrics.activeRequests.Add(ctx, 1, activeAttrs)

		recorder := &statusRecorder{ResponseWriter: w}
		routed := &routeCapture{}
		next.ServeHTTP(recorder, r.WithContext(context.WithValue(ctx, routeCaptureKey{}, routed)))

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		route := routed.route
		if route == "" {
			route = "unmatched"
		}
		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.status_code", strconv.Itoa(status)),
		}
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		middleware.metrics.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		middleware.metrics.requestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if recorder.bytes > 0 {
			middleware.metrics.responseSize.Record(ctx, recorder.bytes, metric.WithAttributes(attrs...))
		}
		middleware.metrics.activeRequests.Add(ctx, -1, activeAttrs)
	})
}

type routeCaptureKey struct{}

type routeCapture struct {
	route string
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (recorder *statusRecorder) WriteHeader(statusCode int) {
	if recorder.status == 0 {
		recorder.status = statusCode
	}
	recorder.ResponseWriter.WriteHeader(statusCode)
}

func (recorder *statusRecorder) Write(data []byte) (int, error) {
	if recorder.status == 0 {
		recorder.status = http.StatusOK
	}
	n, err := recorder.ResponseWriter.Write(data)
	recorder.bytes += int64(n)
	return n, err
}

// Flush keeps event streams working through the recorder.
func (recorder *statusRecorder) Flush() {
	if flusher, ok := recorder.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack keeps WebSocket upgrades working through the recorder.
func (recorder *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := recorder.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if recorder.status == 0 {
		recorder.status = http.StatusSwitchingProtocols
	}
	return hijacker.Hijack()
}

func (recorder *statusRecorder) Unwrap() http.ResponseWriter {
	return recorder.ResponseWriter
}
