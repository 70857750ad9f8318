package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

const defaultEventBuffer = 256

// New creates a Watcher for the directory tree at options.Root. No directory
// is registered until Add is called.
func New(options Options) (*Watcher, error) {
	if options.Root == "" {
		return nil, errors.New("watch root is required")
	}
	root, err := filepath.Abs(options.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	bufferSize := options.EventBuffer
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	source, err := fsnotify.NewBufferedWatcher(uint(bufferSize))
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	instance := &Watcher{
		root:     filepath.Clean(root),
		name:     options.Name,
		watcher:  source,
		logger:   logger,
		registry: registry,
		watches:  make(map[string]struct{}),
		events:   make(chan fsnotify.Event, bufferSize),
		errors:   make(chan error, 4),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	instance.startForwarder(source)
	return instance, nil
}

// Root returns the absolute watched root.
func (watcher *Watcher) Root() string {
	if watcher == nil {
		return ""
	}
	return watcher.root
}

// Start spawns the consumption loop and returns immediately. Events observed
// before Start are queued and delivered once the loop runs.
func (watcher *Watcher) Start(ctx context.Context, handler Handler) error {
	if watcher == nil {
		return errors.New("watcher is nil")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrClosed
	}
	if watcher.started {
		watcher.mutex.Unlock()
		return errors.New("watcher already started")
	}
	watcher.started = true
	watcher.mutex.Unlock()

	watcher.setRunning(true)
	go watcher.run(ctx, handler)
	return nil
}

// Close shuts down fsnotify, which unblocks and ends the loop.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	started := watcher.started
	watcher.mutex.Unlock()

	close(watcher.done)
	err := watcher.watcher.Close()
	if started {
		<-watcher.exited
	}
	return err
}

// Done is closed once the consumption loop has exited.
func (watcher *Watcher) Done() <-chan struct{} {
	return watcher.exited
}

// Running reports whether the consumption loop is alive.
func (watcher *Watcher) Running() bool {
	if watcher == nil {
		return false
	}
	return watcher.running.Load()
}

// Err returns the fault that ended the loop, wrapped in ErrWatchLoopFault, or
// nil if the loop is running or stopped cleanly.
func (watcher *Watcher) Err() error {
	if watcher == nil {
		return nil
	}
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.fault
}

func (watcher *Watcher) Stats() Stats {
	if watcher == nil {
		return Stats{}
	}
	watcher.mutex.Lock()
	stats := Stats{Watches: len(watcher.watches)}
	if watcher.fault != nil {
		stats.Fault = watcher.fault.Error()
	}
	watcher.mutex.Unlock()
	stats.Running = watcher.running.Load()
	stats.Delivered = watcher.delivered.Load()
	stats.Overflows = watcher.overflows.Load()
	return stats
}

func (watcher *Watcher) run(ctx context.Context, handler Handler) {
	defer close(watcher.exited)
	defer watcher.setRunning(false)

	for {
		select {
		case event, ok := <-watcher.events:
			if !ok {
				watcher.logDebug("watch primitive closed", nil)
				return
			}
			watcher.dispatch(handler, event)
		case err, ok := <-watcher.errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				watcher.overflow()
				continue
			}
			watcher.fail(err)
			return
		case <-ctx.Done():
			watcher.logDebug("watch loop cancelled", nil)
			return
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) dispatch(handler Handler, event fsnotify.Event) {
	kind, ok := classify(event.Op)
	if !ok {
		return
	}
	relative, ok := watcher.relativePath(event.Name)
	if !ok {
		watcher.logWarn("event outside watch root dropped", map[string]string{
			"path": event.Name,
		})
		return
	}
	if relative == "" {
		// The root itself is never created, replaced or removed in the tree.
		return
	}

	watcher.delivered.Add(1)
	watcher.registry.IncWatchEvent(watcher.name, kind.String())
	watcher.logDebug("watch event", map[string]string{
		"kind": kind.String(),
		"path": relative,
	})

	switch kind {
	case KindCreate:
		handler.OnCreate(relative)
	case KindDelete:
		handler.OnDelete(relative)
	case KindModify:
		handler.OnModify(relative)
	}
}

func (watcher *Watcher) overflow() {
	count := watcher.overflows.Add(1)
	watcher.registry.IncWatchEvent(watcher.name, KindOverflow.String())
	watcher.logWarn("watch queue overflowed, events lost", map[string]string{
		"overflows": strconv.FormatUint(count, 10),
	})
}

func (watcher *Watcher) fail(err error) {
	fault := fmt.Errorf("%w: %w", ErrWatchLoopFault, err)
	watcher.mutex.Lock()
	watcher.fault = fault
	watcher.mutex.Unlock()
	watcher.logger.Error("watch loop exited, mirror is now stale", withWatcherFields(map[string]string{
		"root":  watcher.root,
		"error": err.Error(),
	}))
}

// classify maps fsnotify ops onto event kinds. A rename reports the old name,
// which no longer exists; the new name arrives as a separate create.
func classify(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindDelete, true
	case op.Has(fsnotify.Create):
		return KindCreate, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return KindModify, true
	default:
		return 0, false
	}
}

func (watcher *Watcher) relativePath(name string) (string, bool) {
	rel, err := filepath.Rel(watcher.root, filepath.Clean(name))
	if err != nil {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	go func() {
		defer close(watcher.events)
		defer close(watcher.errors)
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.events <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

func (watcher *Watcher) setRunning(running bool) {
	watcher.running.Store(running)
	watcher.registry.SetWatchLoopRunning(watcher.name, running)
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	watcher.logger.Warn(message, withWatcherFields(fields))
}

func (watcher *Watcher) logDebug(message string, fields map[string]string) {
	watcher.logger.Debug(message, withWatcherFields(fields))
}

func withWatcherFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["dirmirror.category"] = "watcher"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
