package api

import (
	"net/http"
	"time"

	"dirmirror/internal/kvstore"
	"dirmirror/internal/mirror"
	"dirmirror/internal/version"
)

type StatusHandler struct {
	Mirror *mirror.Mirror
	KV     *kvstore.Store
}

type statusResponse struct {
	// Status is "ok", or "degraded" once the watch loop has exited.
	Status     string              `json:"status"`
	ServerTime time.Time           `json:"server_time"`
	Version    version.VersionInfo `json:"version"`
	Mirror     *mirror.Stats       `json:"mirror,omitempty"`
	KVKeys     *int                `json:"kv_keys,omitempty"`
}

func (h *StatusHandler) handle(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return methodNotAllowed(w, "GET, HEAD")
	}
	response := statusResponse{
		Status:     "ok",
		ServerTime: time.Now().UTC(),
		Version:    version.GetVersionInfo(),
	}
	if h.Mirror != nil {
		stats := h.Mirror.Stats()
		response.Mirror = &stats
		if !stats.WatchLoopRunning {
			response.Status = "degraded"
		}
	}
	if h.KV != nil {
		keys := h.KV.Len()
		response.KVKeys = &keys
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}
