package watcher

import (
	"errors"
	"sync"
	"sync/atomic"

	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

// ErrWatchLoopFault marks an unrecoverable failure of the watch primitive.
var ErrWatchLoopFault = errors.New("watch loop fault")

var ErrClosed = errors.New("watcher is closed")

// Kind classifies a decoded watch event.
type Kind int

const (
	KindCreate Kind = iota
	KindDelete
	KindModify
	KindOverflow
)

func (kind Kind) String() string {
	switch kind {
	case KindCreate:
		return "create"
	case KindDelete:
		return "delete"
	case KindModify:
		return "modify"
	case KindOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Handler receives decoded events with paths relative to the watched root,
// slash separated. All calls happen on the consumption loop goroutine.
type Handler interface {
	OnCreate(relativePath string)
	OnDelete(relativePath string)
	OnModify(relativePath string)
}

// Registrar adds and removes directory registrations. Paths are relative to
// the watched root; "" names the root itself.
type Registrar interface {
	Add(relativePath string) error
	Remove(relativePath string) error
}

// Options controls watcher behavior.
type Options struct {
	Root        string
	Name        string
	EventBuffer int
	Logger      *logging.Logger
	Metrics     *metrics.Registry
}

// Stats reports loop counters.
type Stats struct {
	Running   bool
	Watches   int
	Delivered uint64
	Overflows uint64
	Fault     string
}

// Watcher is the fsnotify-backed PathWatcher.
type Watcher struct {
	root     string
	name     string
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	registry *metrics.Registry

	mutex   sync.Mutex
	watches map[string]struct{}
	closed  bool
	started bool
	fault   error

	events chan fsnotify.Event
	errors chan error
	done   chan struct{}
	exited chan struct{}

	running   atomic.Bool
	delivered atomic.Uint64
	overflows atomic.Uint64
}
