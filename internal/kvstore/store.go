// Package kvstore exposes an in-memory string map as a flat tree: every key
// is a child of the store root, and key segments are joined with a
// configurable separator ("a/b" addresses key "a.b" by default).
package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"dirmirror/internal/event"
	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"

	"github.com/puzpuzpuz/xsync/v3"
)

const DefaultSeparator = "."

var (
	ErrNotFound           = errors.New("property not found")
	ErrPreconditionFailed = errors.New("property already exists")
	ErrEmptyKey           = errors.New("property key is empty")
)

type ChangeType string

const (
	ChangeSet     ChangeType = "changed"
	ChangeDeleted ChangeType = "removed"
)

// Change is published on the store bus after every successful write.
type Change struct {
	Event      ChangeType `json:"event"`
	Key        string     `json:"key"`
	Path       string     `json:"path"`
	OccurredAt time.Time  `json:"timestamp"`
}

func (change Change) Type() string {
	return string(change.Event)
}

func (change Change) Timestamp() time.Time {
	return change.OccurredAt
}

type Options struct {
	Separator string
	Logger    *logging.Logger
	Metrics   *metrics.Registry
}

type Store struct {
	values    *xsync.MapOf[string, string]
	separator string
	bus       *event.Bus[Change]
	logger    *logging.Logger
	metrics   *metrics.Registry
}

func New(options Options) *Store {
	separator := options.Separator
	if separator == "" {
		separator = DefaultSeparator
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	return &Store{
		values:    xsync.NewMapOf[string, string](),
		separator: separator,
		bus: event.NewBus[Change](context.Background(), event.BusOptions{
			Name:     "kv_changes",
			Registry: options.Metrics,
			Logger:   logger,
		}),
		logger:  logger,
		metrics: options.Metrics,
	}
}

func (s *Store) Separator() string {
	return s.separator
}

// KeyFor joins path segments into a key.
func (s *Store) KeyFor(segments []string) string {
	return strings.Join(segments, s.separator)
}

// PathFor maps a key back onto its slash separated path.
func (s *Store) PathFor(key string) string {
	return strings.ReplaceAll(key, s.separator, "/")
}

func (s *Store) Get(key string) (string, error) {
	value, ok := s.values.Load(key)
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Put stores value under key and reports whether the key is new. With
// ifNoneMatch set an existing key is left alone and ErrPreconditionFailed
// is returned.
func (s *Store) Put(key, value string, ifNoneMatch bool) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	var loaded bool
	if ifNoneMatch {
		_, loaded = s.values.LoadOrStore(key, value)
		if loaded {
			return false, ErrPreconditionFailed
		}
	} else {
		_, loaded = s.values.LoadAndStore(key, value)
	}
	s.publish(ChangeSet, key)
	s.logger.Debug("property stored", withKVFields(map[string]string{"key": key}))
	return !loaded, nil
}

func (s *Store) Delete(key string) error {
	if _, loaded := s.values.LoadAndDelete(key); !loaded {
		return ErrNotFound
	}
	s.publish(ChangeDeleted, key)
	s.logger.Debug("property deleted", withKVFields(map[string]string{"key": key}))
	return nil
}

// Snapshot copies the current pairs.
func (s *Store) Snapshot() map[string]string {
	snapshot := make(map[string]string, s.values.Size())
	s.values.Range(func(key, value string) bool {
		snapshot[key] = value
		return true
	})
	return snapshot
}

// Keys returns all keys, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.values.Size())
	s.values.Range(func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}

func (s *Store) Len() int {
	return s.values.Size()
}

// Subscribe streams changes accepted by filter; a nil filter takes all.
func (s *Store) Subscribe(filter func(Change) bool) (<-chan Change, func()) {
	return s.bus.SubscribeFiltered(filter)
}

func (s *Store) Close() {
	s.bus.Close()
}

func (s *Store) publish(changeType ChangeType, key string) {
	s.bus.Publish(Change{
		Event:      changeType,
		Key:        key,
		Path:       s.PathFor(key),
		OccurredAt: time.Now().UTC(),
	})
}

func withKVFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["dirmirror.category"] = "kv"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
