package mirror

import (
	"strings"
	"time"

	"dirmirror/internal/event"
)

type SignalType string

const (
	SignalChanged SignalType = "changed"
	SignalRemoved SignalType = "removed"
)

// Signal is published once per changed or removed node.
type Signal struct {
	Mirror     string     `json:"mirror"`
	Event      SignalType `json:"event"`
	Path       string     `json:"path"`
	Name       string     `json:"name"`
	NodeKind   string     `json:"kind"`
	OccurredAt time.Time  `json:"timestamp"`
}

func (signal Signal) Type() string {
	return string(signal.Event)
}

func (signal Signal) Timestamp() time.Time {
	return signal.OccurredAt
}

// BusNotifier publishes node signals on an event bus.
type BusNotifier struct {
	mirror string
	bus    *event.Bus[Signal]
}

func NewBusNotifier(mirror string, bus *event.Bus[Signal]) *BusNotifier {
	return &BusNotifier{mirror: mirror, bus: bus}
}

func (notifier *BusNotifier) Changed(node Node) {
	notifier.publish(SignalChanged, node)
}

func (notifier *BusNotifier) Removed(node Node) {
	notifier.publish(SignalRemoved, node)
}

func (notifier *BusNotifier) publish(signalType SignalType, node Node) {
	if notifier == nil || notifier.bus == nil {
		return
	}
	notifier.bus.Publish(Signal{
		Mirror:     notifier.mirror,
		Event:      signalType,
		Path:       node.Path,
		Name:       node.Name,
		NodeKind:   node.Kind.String(),
		OccurredAt: time.Now().UTC(),
	})
}

// SignalFilter matches signals for the node at relativePath, and for its
// descendants too when subtree is set.
func SignalFilter(relativePath string, subtree bool) func(Signal) bool {
	target, ok := cleanID(relativePath)
	if !ok {
		return func(Signal) bool { return false }
	}
	return func(signal Signal) bool {
		if signal.Path == target {
			return true
		}
		if !subtree {
			return false
		}
		return target == "" || strings.HasPrefix(signal.Path, target+"/")
	}
}
