package api

import (
	"net/http"

	"dirmirror/internal/host"
	"dirmirror/internal/logging"
	"dirmirror/internal/mirror"
)

// ReadHandler serves GET /<mirror>/<path...> through Mirror.Handle.
type ReadHandler struct {
	Mirror   *mirror.Mirror
	Compress bool
	Logger   *logging.Logger
}

func (h *ReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method, ok := host.ParseMethod(r.Method)
	if !ok {
		writeJSONError(w, methodNotAllowed(w, "GET, HEAD"))
		return
	}
	requested, apiErr := requestedFormat(r)
	if apiErr != nil {
		writeJSONError(w, apiErr)
		return
	}

	exchange := newHTTPExchange(w, r, requested, h.Compress)
	h.Mirror.Handle(r.Context(), exchange, r.PathValue("path"), method)
	if !exchange.responded {
		exchange.Respond(host.StatusInternalError)
	}
	if exchange.status == host.StatusInternalError {
		h.Logger.Warn("read failed", map[string]string{
			"path":   r.URL.Path,
			"status": exchange.status.Label(),
		})
	}
}
