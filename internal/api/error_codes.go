package api

import (
	"net/http"

	"dirmirror/internal/host"
)

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusNotAcceptable:
		return "not_acceptable"
	case http.StatusPreconditionFailed:
		return "precondition_failed"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}

// httpStatus maps a host status onto the HTTP code it is served with.
func httpStatus(status host.Status) int {
	switch status {
	case host.StatusContent, host.StatusDeleted:
		return http.StatusOK
	case host.StatusCreated:
		return http.StatusCreated
	case host.StatusChanged:
		return http.StatusNoContent
	case host.StatusNotFound:
		return http.StatusNotFound
	case host.StatusNotAcceptable:
		return http.StatusNotAcceptable
	case host.StatusMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case host.StatusPreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
