package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"mho/internal/hub"
	"mho/internal/logging"
	"mho/internal/otel"
	"mho/internal/sse"

	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	routeBootstrap   = "/"
	routeEvents      = "/events"
	routeEventsWS    = "/ws/events"
	routeManifest    = "/manifest"
	routeClientJS    = "/mho-client.js"
	routeWorkerJS    = "/mho-worker.js"
	routeDeps        = "/deps/"
	routeScaffolding = "/scaffolding/"
	routeProject     = "/*"
)

var errMissingChanges = errors.New("api: change hub is required")

// Options wires the HTTP surface to the project directories and the change
// hub. Empty directories are optional mounts that answer 404.
type Options struct {
	ProjectRoot    string
	DepsDir        string
	WorkerDir      string
	ScaffoldingDir string

	Changes *hub.Hub[sse.Message]
	Logger  *logging.Logger

	// AllowedOrigins limits websocket upgrades. Empty allows same-host
	// origins only.
	AllowedOrigins []string
	// RetryInterval is sent to event-stream clients as the reconnect delay.
	RetryInterval time.Duration

	Meter  metric.Meter
	Tracer trace.Tracer
}

// NewHandler builds the server's routes wrapped in telemetry, response
// header and logging middleware.
func NewHandler(options Options) (http.Handler, error) {
	if options.Changes == nil {
		return nil, errMissingChanges
	}
	logger := options.Logger.With(map[string]string{
		"mho.category": "api",
	})

	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("manifest encoder: %w", err)
	}

	instrument, err := otel.NewHTTPMiddleware(options.Meter, options.Tracer)
	if err != nil {
		return nil, fmt.Errorf("http telemetry: %w", err)
	}

	retry := options.RetryInterval
	if retry == 0 {
		retry = defaultSSERetryInterval
	}

	mux := http.NewServeMux()
	wrap := func(pattern, route string, handler http.Handler) {
		mux.Handle(pattern, otel.WithRoute(handler, route))
	}

	wrap("GET /{$}", routeBootstrap, http.HandlerFunc(serveBootstrap))
	wrap("GET "+routeEvents, routeEvents, &eventsSSEHandler{
		changes: options.Changes,
		retry:   retry,
		logger:  logger,
		tracer:  options.Tracer,
	})
	wrap("GET "+routeEventsWS, routeEventsWS, &eventsWSHandler{
		changes:        options.Changes,
		allowedOrigins: options.AllowedOrigins,
		logger:         logger,
		tracer:         options.Tracer,
	})
	wrap("GET "+routeManifest, routeManifest, &manifestHandler{
		root:       options.ProjectRoot,
		compressor: compressor,
		logger:     logger,
	})
	wrap("GET "+routeClientJS, routeClientJS, &fileHandler{
		dir:    options.WorkerDir,
		policy: cacheETag,
		logger: logger,
	})
	wrap("GET "+routeWorkerJS, routeWorkerJS, &fileHandler{
		dir:    options.WorkerDir,
		policy: cacheETag,
		logger: logger,
	})
	wrap("GET "+routeDeps, routeDeps, &fileHandler{
		dir:    options.DepsDir,
		prefix: "/deps",
		policy: cacheImmutable,
		logger: logger,
	})
	wrap("GET "+routeScaffolding, routeScaffolding, &fileHandler{
		dir:    options.ScaffoldingDir,
		prefix: "/scaffolding",
		policy: cacheNone,
		logger: logger,
	})
	wrap("GET /", routeProject, &fileHandler{
		dir:    options.ProjectRoot,
		policy: cacheETag,
		logger: logger,
	})

	var handler http.Handler = mux
	handler = loggingMiddleware(logger, handler)
	handler = serverHeaderMiddleware(handler)
	handler = instrument(handler)
	return handler, nil
}
