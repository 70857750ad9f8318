package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dirmirror/internal/host"
	"dirmirror/internal/kvstore"
	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"

	"github.com/google/uuid"
)

const maxPropertyBytes = 1 << 20

// KVHandler serves the key/value store under Prefix. Each path segment below
// the prefix is one key segment.
type KVHandler struct {
	Store  *kvstore.Store
	Prefix string
	Logger *logging.Logger
}

func (h *KVHandler) handle(w http.ResponseWriter, r *http.Request) *apiError {
	method, ok := host.ParseMethod(r.Method)
	if !ok {
		return methodNotAllowed(w, "GET, HEAD, PUT, DELETE")
	}
	requested, apiErr := requestedFormat(r)
	if apiErr != nil {
		return apiErr
	}

	request := kvstore.Request{
		Method:      method,
		Segments:    strings.Split(r.PathValue("key"), "/"),
		IfNoneMatch: strings.TrimSpace(r.Header.Get("If-None-Match")) == "*",
		Format:      requested,
	}
	if method == host.MethodPut {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPropertyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return &apiError{Status: http.StatusRequestEntityTooLarge, Message: "property value too large"}
			}
			return &apiError{Status: http.StatusBadRequest, Message: "invalid request body"}
		}
		request.Body = body
	}

	response := h.Store.Serve(request)
	if response.Location != "" {
		w.Header().Set("Location", h.Prefix+"/"+response.Location)
	}
	if response.Status == host.StatusMethodNotAllowed {
		if strings.Trim(r.PathValue("key"), "/") == "" {
			w.Header().Set("Allow", "GET, HEAD")
		} else {
			w.Header().Set("Allow", "GET, HEAD, PUT, DELETE")
		}
	}
	if !response.Status.Success() {
		message := response.Status.String()
		if len(response.Body) > 0 {
			message = string(response.Body)
		}
		return &apiError{Status: httpStatus(response.Status), Message: message, Code: response.Status.Label()}
	}
	if len(response.Body) == 0 {
		w.WriteHeader(httpStatus(response.Status))
		return nil
	}
	w.Header().Set("Content-Type", mediaTypeFor(response.Format))
	w.Header().Set("X-Content-Format", strconv.Itoa(formatCode(response.Format)))
	w.WriteHeader(httpStatus(response.Status))
	_, _ = w.Write(response.Body)
	return nil
}

// KVStreamHandler streams store changes as server-sent events.
type KVStreamHandler struct {
	Store             *kvstore.Store
	HeartbeatInterval time.Duration
	Logger            *logging.Logger
	Metrics           *metrics.Registry
}

func (h *KVStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	changes, cancel := h.Store.Subscribe(nil)
	defer cancel()

	writer, err := startSSEWriter(w)
	if err != nil {
		logSSEError(h.Logger, r, sseError{Status: http.StatusInternalServerError, Message: "sse stream unavailable", Err: err})
		writeJSONError(w, &apiError{Status: http.StatusInternalServerError, Message: "sse stream unavailable"})
		return
	}
	session := uuid.NewString()
	ctx, span := startStreamSpan(r, "sse", session, "")
	defer span.End()
	r = r.WithContext(ctx)

	h.Metrics.AddObserveStreams("kv", 1)
	defer h.Metrics.AddObserveStreams("kv", -1)

	if err := writer.WriteEvent("ready", observeReady{Type: "ready", Session: session, Subtree: true}); err != nil {
		return
	}
	runSSEStream(r, writer, sseStreamConfig[kvstore.Change]{
		Logger:            h.Logger,
		Output:            changes,
		EventName:         func(change kvstore.Change) string { return string(change.Event) },
		HeartbeatInterval: h.HeartbeatInterval,
	})
}
