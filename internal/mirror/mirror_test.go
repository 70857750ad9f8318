package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dirmirror/internal/contentformat"
	"dirmirror/internal/host"
	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"
)

const eventuallyTimeout = 3 * time.Second

type fakeExchange struct {
	mu        sync.Mutex
	requested contentformat.Format
	accepted  bool
	status    host.Status
	body      []byte
	format    contentformat.Format
}

func (exchange *fakeExchange) RequestedFormat() contentformat.Format { return exchange.requested }

func (exchange *fakeExchange) Accept() {
	exchange.mu.Lock()
	exchange.accepted = true
	exchange.mu.Unlock()
}

func (exchange *fakeExchange) Respond(status host.Status) {
	exchange.mu.Lock()
	exchange.status = status
	exchange.mu.Unlock()
}

func (exchange *fakeExchange) RespondContent(status host.Status, body []byte, format contentformat.Format) {
	exchange.mu.Lock()
	exchange.status = status
	exchange.body = body
	exchange.format = format
	exchange.mu.Unlock()
}

func newTestMirror(t *testing.T, root string) *Mirror {
	t.Helper()
	instance, err := New(Options{
		Root:    root,
		Name:    "files",
		Logger:  logging.NewLoggerWithOutput(logging.NewLogBuffer(256), logging.LevelDebug, nil),
		Metrics: metrics.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	t.Cleanup(func() {
		_ = instance.Close()
	})
	return instance
}

func startMirror(t *testing.T, instance *Mirror) {
	t.Helper()
	if err := instance.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func get(instance *Mirror, path string, requested contentformat.Format) *fakeExchange {
	exchange := &fakeExchange{requested: requested}
	instance.Handle(context.Background(), exchange, path, host.MethodGet)
	return exchange
}

func eventually(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventuallyTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForSignal(t *testing.T, signals <-chan Signal, want SignalType, path string) {
	t.Helper()
	timeout := time.After(eventuallyTimeout)
	for {
		select {
		case signal, ok := <-signals:
			if !ok {
				t.Fatalf("signal stream closed waiting for %s %q", want, path)
			}
			if signal.Event == want && signal.Path == path {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s %q", want, path)
		}
	}
}

func TestReadReturnsDiskContentAndTracksAppends(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "b.txt"), "hi")
	instance := newTestMirror(t, root)
	signals, cancel := instance.Subscribe(SignalFilter("a/b.txt", false))
	defer cancel()
	startMirror(t, instance)

	exchange := get(instance, "a/b.txt", contentformat.Undefined)
	if !exchange.accepted || exchange.status != host.StatusContent || string(exchange.body) != "hi" {
		t.Fatalf("unexpected response %+v", exchange)
	}
	if exchange.format != contentformat.TextPlain {
		t.Fatalf("expected text/plain, got %s", exchange.format)
	}

	file, err := os.OpenFile(filepath.Join(root, "a", "b.txt"), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := file.WriteString(" there"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = file.Close()

	waitForSignal(t, signals, SignalChanged, "a/b.txt")
	if exchange := get(instance, "a/b.txt", contentformat.Undefined); string(exchange.body) != "hi there" {
		t.Fatalf("expected appended content, got %q", exchange.body)
	}
}

func TestCreatedSubtreeBecomesReadable(t *testing.T) {
	root := t.TempDir()
	instance := newTestMirror(t, root)
	signals, cancel := instance.Subscribe(SignalFilter("", false))
	defer cancel()
	startMirror(t, instance)

	writeFile(t, filepath.Join(root, "c", "d.txt"), "dee")

	waitForSignal(t, signals, SignalChanged, "")
	eventually(t, "c/d.txt to appear", func() bool {
		_, ok := instance.FindNode("c/d.txt")
		return ok
	})

	if exchange := get(instance, "", contentformat.Undefined); string(exchange.body) != "c" {
		t.Fatalf("unexpected root listing %q", exchange.body)
	}
	if exchange := get(instance, "c", contentformat.Undefined); string(exchange.body) != "d.txt" {
		t.Fatalf("unexpected listing %q", exchange.body)
	}
	if exchange := get(instance, "c/d.txt", contentformat.Undefined); string(exchange.body) != "dee" {
		t.Fatalf("unexpected content %q", exchange.body)
	}
	eventually(t, "watch on c", func() bool {
		return equalStrings(instance.Watches(), instance.Directories())
	})
}

func TestNewFileProducesOneChildAndOneParentSignal(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	instance := newTestMirror(t, root)
	signals, cancel := instance.Subscribe(SignalFilter("dir", false))
	defer cancel()
	startMirror(t, instance)

	writeFile(t, filepath.Join(root, "dir", "one.txt"), strings.Repeat("x", 64*1024))
	waitForSignal(t, signals, SignalChanged, "dir")

	children, err := instance.Children("dir")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 1 || children[0].Name != "one.txt" {
		t.Fatalf("unexpected children %+v", children)
	}

	// Writes to the new file signal the file itself, never the parent again.
	select {
	case signal := <-signals:
		t.Fatalf("unexpected extra parent signal %+v", signal)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDeletedSubtreeReadsNotFound(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "gone", "inner", "x.txt"), "x")
	writeFile(t, filepath.Join(root, "gone", "y.txt"), "y")
	instance := newTestMirror(t, root)
	startMirror(t, instance)

	if err := os.RemoveAll(filepath.Join(root, "gone")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	eventually(t, "subtree removal", func() bool {
		_, ok := instance.FindNode("gone")
		return !ok
	})

	for _, path := range []string{"gone", "gone/inner", "gone/inner/x.txt", "gone/y.txt"} {
		if exchange := get(instance, path, contentformat.Undefined); exchange.status != host.StatusNotFound {
			t.Fatalf("expected not found for %s, got %s", path, exchange.status)
		}
	}
	eventually(t, "watches released", func() bool {
		return equalStrings(instance.Watches(), []string{""})
	})
}

func TestNegotiation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data.json"), `{"a":1}`)
	writeFile(t, filepath.Join(root, "blob"), "raw")
	writeFile(t, filepath.Join(root, "dir", "x.txt"), "x")
	instance := newTestMirror(t, root)

	cases := []struct {
		path      string
		requested contentformat.Format
		status    host.Status
		format    contentformat.Format
	}{
		{"data.json", contentformat.ImagePNG, host.StatusNotAcceptable, contentformat.Format{}},
		{"data.json", contentformat.TextPlain, host.StatusNotAcceptable, contentformat.Format{}},
		{"data.json", contentformat.ApplicationJSON, host.StatusContent, contentformat.ApplicationJSON},
		{"data.json", contentformat.Undefined, host.StatusContent, contentformat.ApplicationJSON},
		{"blob", contentformat.TextPlain, host.StatusContent, contentformat.TextPlain},
		{"blob", contentformat.Undefined, host.StatusContent, contentformat.None},
		{"blob", contentformat.OctetStream, host.StatusNotAcceptable, contentformat.Format{}},
		{"dir", contentformat.TextPlain, host.StatusContent, contentformat.TextPlain},
		{"dir", contentformat.Undefined, host.StatusContent, contentformat.TextPlain},
		{"dir", contentformat.ApplicationJSON, host.StatusContent, contentformat.ApplicationJSON},
		{"dir", contentformat.ImagePNG, host.StatusNotAcceptable, contentformat.Format{}},
	}
	for _, tc := range cases {
		exchange := get(instance, tc.path, tc.requested)
		if exchange.status != tc.status {
			t.Fatalf("%s as %s: status %s, want %s", tc.path, tc.requested, exchange.status, tc.status)
		}
		if tc.status == host.StatusContent && exchange.format != tc.format {
			t.Fatalf("%s as %s: format %s, want %s", tc.path, tc.requested, exchange.format, tc.format)
		}
	}
}

func TestReadErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	instance := newTestMirror(t, root)

	if _, err := instance.Read(context.Background(), "missing", contentformat.Undefined); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := instance.Read(context.Background(), "../etc/passwd", contentformat.Undefined); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for escape, got %v", err)
	}

	// Deleted on disk but the loop has not run: the read sees the race.
	if err := os.Remove(filepath.Join(root, "a.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := instance.Read(context.Background(), "a.txt", contentformat.Undefined); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after race, got %v", err)
	}
}

func TestReadIOFaultRespondsInternalError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	instance := newTestMirror(t, root)

	// The leaf becomes a directory on disk before the loop sees it.
	if err := os.Remove(filepath.Join(root, "a.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "a.txt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := instance.Read(context.Background(), "a.txt", contentformat.Undefined)
	if !errors.Is(err, ErrIOFault) {
		t.Fatalf("expected ErrIOFault, got %v", err)
	}
	exchange := get(instance, "a.txt", contentformat.Undefined)
	if !exchange.accepted || exchange.status != host.StatusInternalError {
		t.Fatalf("expected internal error, got %+v", exchange)
	}
	if len(exchange.body) != 0 {
		t.Fatalf("failed read must not carry a body, got %q", exchange.body)
	}
}

func TestAtomicReplaceSignalsReplacedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "b.txt"), "old")
	instance := newTestMirror(t, root)
	signals, cancel := instance.Subscribe(SignalFilter("a/b.txt", false))
	defer cancel()
	startMirror(t, instance)

	writeFile(t, filepath.Join(root, "a", ".b.tmp"), "new")
	if err := os.Rename(filepath.Join(root, "a", ".b.tmp"), filepath.Join(root, "a", "b.txt")); err != nil {
		t.Fatalf("rename: %v", err)
	}

	waitForSignal(t, signals, SignalChanged, "a/b.txt")
	if exchange := get(instance, "a/b.txt", contentformat.Undefined); string(exchange.body) != "new" {
		t.Fatalf("expected replaced content, got %q", exchange.body)
	}
	eventually(t, "temporary file to go", func() bool {
		_, ok := instance.FindNode("a/.b.tmp")
		return !ok
	})
	if children, err := instance.Children("a"); err != nil || len(children) != 1 {
		t.Fatalf("expected a single child, got %+v %v", children, err)
	}
}

func TestDirectoryListingAsJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dir", "data.json"), "{}")
	writeFile(t, filepath.Join(root, "dir", "blob"), "raw")
	writeFile(t, filepath.Join(root, "dir", "sub", "x.txt"), "x")
	instance := newTestMirror(t, root)

	exchange := get(instance, "dir", contentformat.ApplicationJSON)
	if exchange.status != host.StatusContent || exchange.format != contentformat.ApplicationJSON {
		t.Fatalf("unexpected response %+v", exchange)
	}
	var listing []ListingEntry
	if err := json.Unmarshal(exchange.body, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing) != 3 {
		t.Fatalf("expected 3 entries, got %+v", listing)
	}
	byName := make(map[string]ListingEntry, len(listing))
	for _, item := range listing {
		if !item.Observable {
			t.Fatalf("expected %s to be observable", item.Name)
		}
		byName[item.Name] = item
	}
	if item := byName["data.json"]; item.Kind != "leaf" || item.Format == nil || *item.Format != 50 || item.Path != "dir/data.json" {
		t.Fatalf("unexpected json entry %+v", item)
	}
	if item := byName["blob"]; item.Format != nil || item.MediaType != "" {
		t.Fatalf("formatless leaf must omit its format, got %+v", item)
	}
	if item := byName["sub"]; item.Kind != "directory" || item.Format != nil {
		t.Fatalf("unexpected directory entry %+v", item)
	}
}

func TestNonReadMethodsAreRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	instance := newTestMirror(t, root)

	for _, method := range []host.Method{host.MethodPost, host.MethodPut, host.MethodDelete} {
		exchange := &fakeExchange{requested: contentformat.Undefined}
		instance.Handle(context.Background(), exchange, "a.txt", method)
		if exchange.status != host.StatusMethodNotAllowed {
			t.Fatalf("%s: expected method not allowed, got %s", method, exchange.status)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); err != nil {
		t.Fatalf("file must be untouched: %v", err)
	}
}

func TestNewFailsOnPlainFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "plain.txt")
	writeFile(t, file, "not a dir")

	instance, err := New(Options{Root: file, Metrics: metrics.NewRegistry()})
	if !errors.Is(err, ErrInitialization) {
		t.Fatalf("expected ErrInitialization, got %v", err)
	}
	if instance != nil {
		t.Fatal("expected no mirror")
	}

	if _, err := New(Options{Root: filepath.Join(root, "missing"), Metrics: metrics.NewRegistry()}); !errors.Is(err, ErrInitialization) {
		t.Fatalf("expected ErrInitialization for missing root, got %v", err)
	}
	if _, err := New(Options{Metrics: metrics.NewRegistry()}); !errors.Is(err, ErrInitialization) {
		t.Fatalf("expected ErrInitialization for empty root, got %v", err)
	}
}

func TestStatsAndClose(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "b.txt"), "b")
	instance := newTestMirror(t, root)
	startMirror(t, instance)

	stats := instance.Stats()
	if stats.Name != "files" || stats.Directories != 2 || stats.Leaves != 1 || stats.Watches != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.WatchLoopRunning {
		t.Fatal("expected running loop")
	}

	signals, _ := instance.Subscribe(nil)
	if err := instance.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-signals; ok {
		t.Fatal("expected subscriptions to close")
	}
	select {
	case <-instance.Done():
	case <-time.After(eventuallyTimeout):
		t.Fatal("watch loop did not exit")
	}
	if instance.Stats().WatchLoopRunning {
		t.Fatal("expected stopped loop")
	}
	if instance.WatchLoopErr() != nil {
		t.Fatalf("clean close must not be a fault: %v", instance.WatchLoopErr())
	}
}

func TestConcurrentReadsDuringMutation(t *testing.T) {
	root := t.TempDir()
	instance := newTestMirror(t, root)
	startMirror(t, instance)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				_, _ = instance.Read(ctx, "", contentformat.Undefined)
				_, _ = instance.Read(ctx, "churn/file.txt", contentformat.Undefined)
			}
		}()
	}

	for i := 0; i < 20; i++ {
		writeFile(t, filepath.Join(root, "churn", "file.txt"), "x")
		if err := os.RemoveAll(filepath.Join(root, "churn")); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	cancel()
	wg.Wait()

	eventually(t, "churn to settle", func() bool {
		_, ok := instance.FindNode("churn")
		return !ok
	})
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want host.Status
	}{
		{nil, host.StatusContent},
		{ErrNotFound, host.StatusNotFound},
		{ErrNotAcceptable, host.StatusNotAcceptable},
		{ErrUnsupported, host.StatusMethodNotAllowed},
		{ErrIOFault, host.StatusInternalError},
		{errors.Join(ErrIOFault, os.ErrPermission), host.StatusInternalError},
		{errors.New("unexpected"), host.StatusInternalError},
	}
	for _, tc := range cases {
		if got := StatusForError(tc.err); got != tc.want {
			t.Fatalf("StatusForError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestSignalFilter(t *testing.T) {
	exact := SignalFilter("a", false)
	subtree := SignalFilter("a", true)
	everything := SignalFilter("", true)

	if !exact(Signal{Path: "a"}) || exact(Signal{Path: "a/b"}) {
		t.Fatal("exact filter mismatch")
	}
	if !subtree(Signal{Path: "a/b/c"}) || subtree(Signal{Path: "ab"}) {
		t.Fatal("subtree filter mismatch")
	}
	if !everything(Signal{Path: "x/y"}) {
		t.Fatal("root subtree filter should match everything")
	}
	if SignalFilter("../x", true)(Signal{Path: "x"}) {
		t.Fatal("escaping filter must match nothing")
	}
}
