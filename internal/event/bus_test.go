package event

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"
)

type testEvent struct {
	name string
	at   time.Time
}

func (e testEvent) Type() string         { return e.name }
func (e testEvent) Timestamp() time.Time { return e.at }

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Registry: metrics.NewRegistry()})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(42)

	select {
	case got := <-ch:
		if got != 42 {
			t.Fatalf("expected 42, got %d", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Registry: metrics.NewRegistry()})
	ch, _ := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after bus close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}

	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("expected closed channel after bus close")
	}
}

func TestBusClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[int](ctx, BusOptions{Registry: metrics.NewRegistry()})
	ch, _ := bus.Subscribe()

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("bus did not close on context cancel")
	}
}

func TestBusDropOnFull(t *testing.T) {
	registry := metrics.NewRegistry()
	bus := NewBus[testEvent](context.Background(), BusOptions{
		Name:                 "drop",
		SubscriberBufferSize: 1,
		Registry:             registry,
	})
	t.Cleanup(bus.Close)

	ch, _ := bus.Subscribe()

	bus.Publish(testEvent{name: "changed"})

	done := make(chan struct{})
	go func() {
		bus.Publish(testEvent{name: "changed"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked on full subscriber")
	}

	<-ch
	select {
	case <-ch:
		t.Fatal("expected second event to be dropped")
	default:
	}

	if got := counterValue(t, registry, "dirmirror_events_dropped_total", "drop"); got != 1 {
		t.Fatalf("expected 1 dropped event, got %v", got)
	}
	if got := counterValue(t, registry, "dirmirror_events_published_total", "drop"); got != 2 {
		t.Fatalf("expected 2 published events, got %v", got)
	}
}

func TestBusDropWarningIsLogged(t *testing.T) {
	var out bytes.Buffer
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(16), logging.LevelDebug, &out)
	bus := NewBus[int](context.Background(), BusOptions{
		Name:                 "warn",
		SubscriberBufferSize: 1,
		Registry:             metrics.NewRegistry(),
		Logger:               logger,
	})
	t.Cleanup(bus.Close)

	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(1)
	bus.Publish(2)

	if !strings.Contains(out.String(), "event bus dropping events") {
		t.Fatalf("expected drop warning, got %q", out.String())
	}
}

func TestBusFilteredSubscription(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Registry: metrics.NewRegistry()})
	t.Cleanup(bus.Close)

	evens, cancel := bus.SubscribeFiltered(func(v int) bool { return v%2 == 0 })
	defer cancel()

	for i := 1; i <= 4; i++ {
		bus.Publish(i)
	}

	var got []int
	for len(got) < 2 {
		select {
		case v := <-evens:
			got = append(got, v)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != 2 || got[1] != 4 {
		t.Fatalf("expected [2 4], got %v", got)
	}
}

func TestBusPanickingFilterRemovesSubscriber(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Registry: metrics.NewRegistry()})
	t.Cleanup(bus.Close)

	ch, _ := bus.SubscribeFiltered(func(int) bool { panic("boom") })
	bus.Publish(1)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for close")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
	}
}

func TestBusMaxSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{
		MaxSubscribers: 1,
		Registry:       metrics.NewRegistry(),
	})
	t.Cleanup(bus.Close)

	_, cancel := bus.Subscribe()
	defer cancel()

	rejected, _ := bus.Subscribe()
	if _, ok := <-rejected; ok {
		t.Fatal("expected rejected subscription to be closed")
	}
}

func TestBusBlockOnFullWithTimeout(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{
		SubscriberBufferSize: 1,
		BlockOnFull:          true,
		WriteTimeout:         20 * time.Millisecond,
		Registry:             metrics.NewRegistry(),
	})
	t.Cleanup(bus.Close)

	ch, _ := bus.Subscribe()
	bus.Publish(1)
	bus.Publish(2)

	if bus.SubscriberCount() != 0 {
		t.Fatal("expected slow subscriber to be removed after timeout")
	}
	if v, ok := <-ch; !ok || v != 1 {
		t.Fatalf("expected buffered event 1, got %d %v", v, ok)
	}
}

func TestBusConcurrentPublishCancel(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Registry: metrics.NewRegistry()})
	t.Cleanup(bus.Close)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := bus.Subscribe()
			for j := 0; j < 50; j++ {
				bus.Publish(j)
			}
			cancel()
			for range ch {
			}
		}()
	}
	wg.Wait()
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus[int]
	bus.Publish(1)
	bus.Close()
	ch, cancel := bus.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel from nil bus")
	}
}

func counterValue(t *testing.T, registry *metrics.Registry, name, bus string) float64 {
	t.Helper()
	families, err := registry.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == "bus" && pair.GetValue() == bus {
					total += metric.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}
