package api

import (
	"net/http"
	"time"

	"dirmirror/internal/kvstore"
	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"
	"dirmirror/internal/mirror"
	"dirmirror/internal/otel"

	otelapi "go.opentelemetry.io/otel"
)

const (
	defaultEventsPerSecond = 50
	defaultBurst           = 100
)

type Options struct {
	Mirror *mirror.Mirror
	// KV is optional; its routes are only registered when set.
	KV     *kvstore.Store
	KVName string

	AuthToken      string
	AllowedOrigins []string
	// Compress enables zstd response bodies for clients that accept them.
	Compress bool

	EventsPerSecond   float64
	Burst             int
	HeartbeatInterval time.Duration

	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// NewHandler builds the HTTP surface: mirror reads, observe streams, the kv
// resource, status, logs and metrics. Every route runs inside a server span.
func NewHandler(options Options) http.Handler {
	options = options.withDefaults()
	mux := http.NewServeMux()
	RegisterRoutes(mux, options)
	instrument := otel.NewHTTPMiddleware(otelapi.Tracer("dirmirror/api"), options.Metrics)
	return instrument(mux)
}

func (options Options) withDefaults() Options {
	if options.EventsPerSecond == 0 && options.Burst == 0 {
		options.EventsPerSecond = defaultEventsPerSecond
		options.Burst = defaultBurst
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	if options.KVName == "" {
		options.KVName = "properties"
	}
	return options
}

// RegisterRoutes mounts the routes on mux. The mirror and kv names become
// top-level path segments, so neither may be "api", "ws" or "metrics".
func RegisterRoutes(mux *http.ServeMux, options Options) {
	options = options.withDefaults()
	logger := options.Logger.With(map[string]string{"dirmirror.category": "api"})
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(logger, authMiddleware(options.AuthToken, handler))
	}

	if options.Mirror != nil {
		read := &ReadHandler{Mirror: options.Mirror, Compress: options.Compress, Logger: logger}
		prefix := "/" + options.Mirror.Name()
		mux.Handle(prefix, wrap(securityHeadersMiddleware(cacheControlNoCache, read)))
		mux.Handle(prefix+"/{path...}", wrap(securityHeadersMiddleware(cacheControlNoCache, read)))

		observe := &ObserveHandler{
			Mirror:            options.Mirror,
			AllowedOrigins:    options.AllowedOrigins,
			EventsPerSecond:   options.EventsPerSecond,
			Burst:             options.Burst,
			HeartbeatInterval: options.HeartbeatInterval,
			Logger:            logger,
			Metrics:           options.Metrics,
		}
		mux.Handle("GET /api/observe/{path...}", wrap(securityHeadersMiddleware(cacheControlNoStore, http.HandlerFunc(observe.ServeSSE))))
		mux.Handle("GET /ws/observe/{path...}", wrap(securityHeadersMiddleware(cacheControlNoStore, http.HandlerFunc(observe.ServeWS))))
	}

	if options.KV != nil {
		name := options.KVName
		kv := &KVHandler{Store: options.KV, Prefix: "/" + name, Logger: logger}
		mux.Handle("/"+name, wrap(restHandler(kv.handle)))
		mux.Handle("/"+name+"/{key...}", wrap(restHandler(kv.handle)))
		mux.Handle("GET /api/kv/stream", wrap(securityHeadersMiddleware(cacheControlNoStore, &KVStreamHandler{
			Store:             options.KV,
			HeartbeatInterval: options.HeartbeatInterval,
			Logger:            logger,
			Metrics:           options.Metrics,
		})))
	}

	status := &StatusHandler{Mirror: options.Mirror, KV: options.KV}
	mux.Handle("/api/status", wrap(restHandler(status.handle)))
	logs := &LogsHandler{Logger: options.Logger}
	mux.Handle("/api/logs", wrap(restHandler(logs.handle)))
	mux.Handle("GET /metrics", options.Metrics.Handler())
}
