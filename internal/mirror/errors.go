package mirror

import (
	"errors"

	"dirmirror/internal/host"
	"dirmirror/internal/watcher"
)

var (
	ErrNotFound       = errors.New("node not found")
	ErrNotAcceptable  = errors.New("requested format not acceptable")
	ErrIOFault        = errors.New("read failed")
	ErrInitialization = errors.New("mirror initialization failed")
	ErrUnsupported    = errors.New("operation not supported")
)

// ErrWatchLoopFault is re-exported so hosts only need this package.
var ErrWatchLoopFault = watcher.ErrWatchLoopFault

// StatusForError maps a read error onto the response status a host sends.
func StatusForError(err error) host.Status {
	switch {
	case err == nil:
		return host.StatusContent
	case errors.Is(err, ErrNotFound):
		return host.StatusNotFound
	case errors.Is(err, ErrNotAcceptable):
		return host.StatusNotAcceptable
	case errors.Is(err, ErrUnsupported):
		return host.StatusMethodNotAllowed
	default:
		return host.StatusInternalError
	}
}
