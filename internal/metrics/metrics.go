// Package metrics owns the Prometheus collectors shared by the mirror,
// the watcher, the event buses and the HTTP host.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dirmirror"

type Registry struct {
	registry *prometheus.Registry

	eventsPublished  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventSubscribers *prometheus.GaugeVec

	nodes            *prometheus.GaugeVec
	watches          *prometheus.GaugeVec
	watchEvents      *prometheus.CounterVec
	watchLoopRunning *prometheus.GaugeVec

	reads        *prometheus.CounterVec
	readDuration *prometheus.HistogramVec

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	observeStreams *prometheus.GaugeVec
	kvOperations   *prometheus.CounterVec
}

// Default is used by components that were not handed a registry.
var Default = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on an event bus.",
		}, []string{"bus", "type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was full or gone.",
		}, []string{"bus", "type"}),
		eventSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Current event bus subscribers.",
		}, []string{"bus", "filtered"}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_nodes",
			Help:      "Nodes currently present in the mirror tree.",
		}, []string{"mirror", "kind"}),
		watches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_watches",
			Help:      "Directories registered with the filesystem watch primitive.",
		}, []string{"mirror"}),
		watchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Filesystem watch events by logical kind.",
		}, []string{"mirror", "kind"}),
		watchLoopRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_loop_running",
			Help:      "1 while the watch consumption loop is alive, 0 after it exited.",
		}, []string{"mirror"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "Read requests by response status.",
		}, []string{"mirror", "status"}),
		readDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Read request latency including disk I/O.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mirror"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		observeStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observe_streams",
			Help:      "Open signal streams by transport.",
		}, []string{"transport"}),
		kvOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kv_operations_total",
			Help:      "Key/value store operations by method and outcome.",
		}, []string{"method", "status"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.eventsPublished,
		r.eventsDropped,
		r.eventSubscribers,
		r.nodes,
		r.watches,
		r.watchEvents,
		r.watchLoopRunning,
		r.reads,
		r.readDuration,
		r.httpRequests,
		r.httpDuration,
		r.observeStreams,
		r.kvOperations,
	)
	return r
}

// Gatherer exposes the underlying registry for tests and embedding hosts.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Handler serves the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	r.eventSubscribers.WithLabelValues(label(bus), "true").Set(float64(filtered))
	r.eventSubscribers.WithLabelValues(label(bus), "false").Set(float64(unfiltered))
}

func (r *Registry) SetNodes(mirror string, directories, leaves int) {
	if r == nil {
		return
	}
	r.nodes.WithLabelValues(label(mirror), "directory").Set(float64(directories))
	r.nodes.WithLabelValues(label(mirror), "leaf").Set(float64(leaves))
}

func (r *Registry) SetWatches(mirror string, count int) {
	if r == nil {
		return
	}
	r.watches.WithLabelValues(label(mirror)).Set(float64(count))
}

func (r *Registry) IncWatchEvent(mirror, kind string) {
	if r == nil {
		return
	}
	r.watchEvents.WithLabelValues(label(mirror), label(kind)).Inc()
}

func (r *Registry) SetWatchLoopRunning(mirror string, running bool) {
	if r == nil {
		return
	}
	value := 0.0
	if running {
		value = 1
	}
	r.watchLoopRunning.WithLabelValues(label(mirror)).Set(value)
}

func (r *Registry) RecordRead(mirror, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.reads.WithLabelValues(label(mirror), label(status)).Inc()
	r.readDuration.WithLabelValues(label(mirror)).Observe(duration.Seconds())
}

func (r *Registry) ObserveHTTPRequest(route, method string, code int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(label(route), label(method), strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(label(route)).Observe(duration.Seconds())
}

// AddObserveStreams moves the open stream gauge by delta.
func (r *Registry) AddObserveStreams(transport string, delta int) {
	if r == nil {
		return
	}
	r.observeStreams.WithLabelValues(label(transport)).Add(float64(delta))
}

func (r *Registry) IncKVOperation(method, status string) {
	if r == nil {
		return
	}
	r.kvOperations.WithLabelValues(label(method), label(status)).Inc()
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
