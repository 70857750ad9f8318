package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"
	"dirmirror/internal/mirror"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ObserveHandler streams change signals for one node, or for a node and its
// descendants with ?subtree=1. A stream ends after the observed node itself
// is removed.
type ObserveHandler struct {
	Mirror            *mirror.Mirror
	AllowedOrigins    []string
	EventsPerSecond   float64
	Burst             int
	HeartbeatInterval time.Duration
	Logger            *logging.Logger
	Metrics           *metrics.Registry
}

type observeReady struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Path    string `json:"path"`
	Subtree bool   `json:"subtree"`
}

type observeSignal struct {
	Type string `json:"type"`
	mirror.Signal
}

type observeRequest struct {
	session string
	path    string
	subtree bool
	signals <-chan mirror.Signal
	cancel  func()
}

// open subscribes before checking the node so no signal between the check
// and the subscription is lost.
func (h *ObserveHandler) open(r *http.Request) (*observeRequest, *apiError) {
	path := r.PathValue("path")
	subtree := parseFlag(r.URL.Query().Get("subtree"))
	signals, cancel := h.Mirror.Subscribe(mirror.SignalFilter(path, subtree))
	node, ok := h.Mirror.FindNode(path)
	if !ok {
		cancel()
		return nil, &apiError{Status: http.StatusNotFound, Message: "resource not found"}
	}
	return &observeRequest{
		session: uuid.NewString(),
		path:    node.Path,
		subtree: subtree,
		signals: signals,
		cancel:  cancel,
	}, nil
}

func (request *observeRequest) ready() observeReady {
	return observeReady{Type: "ready", Session: request.session, Path: request.path, Subtree: request.subtree}
}

func (request *observeRequest) last(signal mirror.Signal) bool {
	return signal.Event == mirror.SignalRemoved && signal.Path == request.path
}

func (h *ObserveHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	request, apiErr := h.open(r)
	if apiErr != nil {
		writeJSONError(w, apiErr)
		return
	}
	defer request.cancel()

	writer, err := startSSEWriter(w)
	if err != nil {
		logSSEError(h.Logger, r, sseError{Status: http.StatusInternalServerError, Message: "sse stream unavailable", Err: err})
		writeJSONError(w, &apiError{Status: http.StatusInternalServerError, Message: "sse stream unavailable"})
		return
	}

	ctx, span := startStreamSpan(r, "sse", request.session, request.path)
	defer span.End()
	r = r.WithContext(ctx)

	h.Metrics.AddObserveStreams("sse", 1)
	defer h.Metrics.AddObserveStreams("sse", -1)
	h.logStream("observe stream opened", "sse", request)
	defer h.logStream("observe stream closed", "sse", request)

	if err := writer.WriteEvent("ready", request.ready()); err != nil {
		return
	}
	runSSEStream(r, writer, sseStreamConfig[mirror.Signal]{
		Logger:            h.Logger,
		Output:            request.signals,
		EventName:         func(signal mirror.Signal) string { return string(signal.Event) },
		HeartbeatInterval: h.HeartbeatInterval,
		Limiter:           newLimiter(h.EventsPerSecond, h.Burst),
		Last:              request.last,
	})
}

func (h *ObserveHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	request, apiErr := h.open(r)
	if apiErr != nil {
		writeWSError(w, r, nil, h.Logger, wsError{Status: apiErr.Status, Message: apiErr.Message})
		return
	}
	defer request.cancel()

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{Status: http.StatusBadRequest, Message: "websocket upgrade failed", Err: err})
		return
	}

	ctx, span := startStreamSpan(r, "ws", request.session, request.path)
	defer span.End()
	r = r.WithContext(ctx)

	h.Metrics.AddObserveStreams("ws", 1)
	defer h.Metrics.AddObserveStreams("ws", -1)
	h.logStream("observe stream opened", "ws", request)
	defer h.logStream("observe stream closed", "ws", request)

	serveWSStream(r, wsStreamConfig[mirror.Signal]{
		Conn:   conn,
		Output: request.signals,
		BuildPayload: func(signal mirror.Signal) (any, bool) {
			return observeSignal{Type: "signal", Signal: signal}, true
		},
		Logger: h.Logger,
		PreWrite: func(conn *websocket.Conn) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			return conn.WriteJSON(request.ready())
		},
		Limiter: newLimiter(h.EventsPerSecond, h.Burst),
		Last:    request.last,
	})
}

func (h *ObserveHandler) logStream(message, transport string, request *observeRequest) {
	h.Logger.Info(message, map[string]string{
		"session":   request.session,
		"transport": transport,
		"path":      request.path,
		"subtree":   strconv.FormatBool(request.subtree),
	})
}

// newLimiter returns nil, meaning unlimited, for a non-positive rate.
func newLimiter(eventsPerSecond float64, burst int) *rate.Limiter {
	if eventsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
