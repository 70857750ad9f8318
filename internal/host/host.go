// Package host describes the request/response surface that mirrored
// resources are served through.
//
// Protocol engines implement Exchange; resources answer through it and never
// see the wire format.
package host

import "dirmirror/internal/contentformat"

// Method is the request verb.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
)

func (method Method) String() string {
	switch method {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParseMethod maps an HTTP-style verb onto a Method.
func ParseMethod(name string) (Method, bool) {
	switch name {
	case "GET", "HEAD":
		return MethodGet, true
	case "POST":
		return MethodPost, true
	case "PUT":
		return MethodPut, true
	case "DELETE":
		return MethodDelete, true
	default:
		return 0, false
	}
}

// Status is the response code family. Values follow the constrained
// application protocol response codes (class*100 + detail).
type Status int

const (
	StatusCreated            Status = 201
	StatusDeleted            Status = 202
	StatusChanged            Status = 204
	StatusContent            Status = 205
	StatusPreconditionFailed Status = 412
	StatusNotFound           Status = 404
	StatusMethodNotAllowed   Status = 405
	StatusNotAcceptable      Status = 406
	StatusInternalError      Status = 500
)

func (status Status) String() string {
	switch status {
	case StatusCreated:
		return "2.01 Created"
	case StatusDeleted:
		return "2.02 Deleted"
	case StatusChanged:
		return "2.04 Changed"
	case StatusContent:
		return "2.05 Content"
	case StatusPreconditionFailed:
		return "4.12 Precondition Failed"
	case StatusNotFound:
		return "4.04 Not Found"
	case StatusMethodNotAllowed:
		return "4.05 Method Not Allowed"
	case StatusNotAcceptable:
		return "4.06 Not Acceptable"
	case StatusInternalError:
		return "5.00 Internal Server Error"
	default:
		return "unknown"
	}
}

// Label is a short snake_case name for metrics and logs.
func (status Status) Label() string {
	switch status {
	case StatusCreated:
		return "created"
	case StatusDeleted:
		return "deleted"
	case StatusChanged:
		return "changed"
	case StatusContent:
		return "content"
	case StatusPreconditionFailed:
		return "precondition_failed"
	case StatusNotFound:
		return "not_found"
	case StatusMethodNotAllowed:
		return "method_not_allowed"
	case StatusNotAcceptable:
		return "not_acceptable"
	case StatusInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Success reports whether the status is in the 2.xx class.
func (status Status) Success() bool {
	return status >= 200 && status < 300
}

// Exchange is one inbound request and its response channel.
type Exchange interface {
	// RequestedFormat is contentformat.Undefined when the client did not ask
	// for a particular representation.
	RequestedFormat() contentformat.Format
	// Accept acknowledges receipt before a possibly slow response.
	Accept()
	Respond(status Status)
	RespondContent(status Status, body []byte, format contentformat.Format)
}
