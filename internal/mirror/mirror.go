// Package mirror keeps an in-memory tree in step with a directory on disk and
// answers read requests against it.
//
// The tree is built once at construction and then changed only by the watch
// loop. Request handlers may read concurrently; they resolve nodes under a
// read lock and do file I/O without holding it.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dirmirror/internal/contentformat"
	"dirmirror/internal/event"
	"dirmirror/internal/host"
	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"
	"dirmirror/internal/otel"
	"dirmirror/internal/watcher"

	"go.opentelemetry.io/otel/attribute"
)

const defaultSignalBuffer = 256

type Options struct {
	Root        string
	Name        string
	EventBuffer int
	Formats     *contentformat.Registry
	// Notifier replaces the default bus notifier. Signals then no longer
	// reach Subscribe.
	Notifier Notifier
	Logger   *logging.Logger
	Metrics  *metrics.Registry
}

// Mirror is the directory mirror: the tree, its watcher and the read path.
type Mirror struct {
	root      string
	name      string
	sync      *TreeSync
	watcher   *watcher.Watcher
	bus       *event.Bus[Signal]
	logger    *logging.Logger
	metrics   *metrics.Registry
	startedAt time.Time
	closeOnce sync.Once
	closeErr  error
}

// Stats is a point-in-time view for status reporting.
type Stats struct {
	Name             string        `json:"name"`
	Root             string        `json:"root"`
	Directories      int           `json:"directories"`
	Leaves           int           `json:"leaves"`
	Watches          int           `json:"watches"`
	WatchLoopRunning bool          `json:"watch_loop_running"`
	WatchLoopFault   string        `json:"watch_loop_fault,omitempty"`
	EventsDelivered  uint64        `json:"events_delivered"`
	Overflows        uint64        `json:"overflows"`
	Subscribers      int           `json:"subscribers"`
	Uptime           time.Duration `json:"uptime_ns"`
}

// New validates the root, registers watches and builds the tree. The watch
// loop does not run until Start. A root that is not a directory fails with
// ErrInitialization before any watch or node exists.
func New(options Options) (*Mirror, error) {
	root, err := resolveRoot(options.Root)
	if err != nil {
		return nil, err
	}

	name := options.Name
	if name == "" {
		name = filepath.Base(root)
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	formats := options.Formats
	if formats == nil {
		formats = contentformat.Default
	}

	pathWatcher, err := watcher.New(watcher.Options{
		Root:        root,
		Name:        name,
		EventBuffer: options.EventBuffer,
		Logger:      logger,
		Metrics:     registry,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	bus := event.NewBus[Signal](context.Background(), event.BusOptions{
		Name:                 "mirror_signals",
		SubscriberBufferSize: defaultSignalBuffer,
		Registry:             registry,
		Logger:               logger,
	})
	notifier := options.Notifier
	if notifier == nil {
		notifier = NewBusNotifier(name, bus)
	}

	instance := &Mirror{
		root:      root,
		name:      name,
		watcher:   pathWatcher,
		bus:       bus,
		logger:    logger,
		metrics:   registry,
		startedAt: time.Now(),
	}
	instance.sync = newTreeSync(root, name, pathWatcher, formats, notifier, logger, registry)
	if err := instance.sync.BuildInitialTree(); err != nil {
		_ = pathWatcher.Close()
		bus.Close()
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	return instance, nil
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: root path is required", ErrInitialization)
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInitialization, root)
	}
	return resolved, nil
}

// Start runs the watch loop in the background.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.watcher.Start(ctx, m.sync); err != nil {
		return err
	}
	m.logger.Info("mirror started", withMirrorFields(map[string]string{
		"name": m.name,
		"root": m.root,
	}))
	return nil
}

func (m *Mirror) Name() string { return m.name }

func (m *Mirror) Root() string { return m.root }

// Handle serves one request for the node at relativePath. Only reads are
// supported; every other method is answered with MethodNotAllowed.
func (m *Mirror) Handle(ctx context.Context, exchange host.Exchange, relativePath string, method host.Method) {
	exchange.Accept()
	if method != host.MethodGet {
		exchange.Respond(StatusForError(fmt.Errorf("%w: %s", ErrUnsupported, method)))
		return
	}
	content, err := m.Read(ctx, relativePath, exchange.RequestedFormat())
	if err != nil {
		exchange.Respond(StatusForError(err))
		return
	}
	exchange.RespondContent(host.StatusContent, content.Body, content.Format)
}

// Read resolves relativePath and returns its current representation.
func (m *Mirror) Read(ctx context.Context, relativePath string, requested contentformat.Format) (Content, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.StartSpan(ctx, "mirror.read",
		attribute.String("mirror.name", m.name),
		attribute.String("mirror.path", relativePath),
		attribute.Int("mirror.requested_format", requested.Code),
	)
	started := time.Now()
	content, err := m.read(ctx, relativePath, requested)
	m.metrics.RecordRead(m.name, StatusForError(err).Label(), time.Since(started))
	otel.EndSpan(span, err)
	return content, err
}

// FindNode resolves relativePath without reading content.
func (m *Mirror) FindNode(relativePath string) (Node, bool) {
	return m.sync.FindNode(relativePath)
}

// Children lists a directory's children.
func (m *Mirror) Children(relativePath string) ([]Node, error) {
	node, ok := m.sync.FindNode(relativePath)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, relativePath)
	}
	children, ok := m.sync.tree.children(node.Path)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrNotFound, relativePath)
	}
	return children, nil
}

// Subscribe streams signals accepted by filter; a nil filter takes all.
func (m *Mirror) Subscribe(filter func(Signal) bool) (<-chan Signal, func()) {
	return m.bus.SubscribeFiltered(filter)
}

// Watches lists the directories currently registered with the watcher.
func (m *Mirror) Watches() []string {
	return m.watcher.Watches()
}

// Directories lists the directory nodes in the tree.
func (m *Mirror) Directories() []string {
	return m.sync.tree.directoryIDs()
}

// WatchLoopErr reports why the watch loop stopped, if it failed.
func (m *Mirror) WatchLoopErr() error {
	return m.watcher.Err()
}

// Done is closed when the watch loop exits for any reason.
func (m *Mirror) Done() <-chan struct{} {
	return m.watcher.Done()
}

func (m *Mirror) Stats() Stats {
	directories, leaves := m.sync.tree.counts()
	watcherStats := m.watcher.Stats()
	stats := Stats{
		Name:             m.name,
		Root:             m.root,
		Directories:      directories,
		Leaves:           leaves,
		Watches:          watcherStats.Watches,
		WatchLoopRunning: watcherStats.Running,
		WatchLoopFault:   watcherStats.Fault,
		EventsDelivered:  watcherStats.Delivered,
		Overflows:        watcherStats.Overflows,
		Subscribers:      m.bus.SubscriberCount(),
		Uptime:           time.Since(m.startedAt),
	}
	return stats
}

// Close stops the watch loop and closes every signal subscription.
func (m *Mirror) Close() error {
	m.closeOnce.Do(func() {
		err := m.watcher.Close()
		m.bus.Close()
		if err != nil && !errors.Is(err, watcher.ErrClosed) {
			m.closeErr = err
		}
		m.logger.Info("mirror closed", withMirrorFields(map[string]string{"name": m.name}))
	})
	return m.closeErr
}
