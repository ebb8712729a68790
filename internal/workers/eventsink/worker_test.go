package eventsink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paykit/internal/events"
)

type memorySink struct {
	mu      sync.Mutex
	events  []events.Event
	batches int
	fail    bool
}

func (s *memorySink) Write(_ context.Context, evs ...events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker unavailable")
	}
	s.batches++
	s.events = append(s.events, evs...)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWorker_ForwardsInOrder(t *testing.T) {
	bus := events.NewBus(64, discard())
	sink := &memorySink{}
	w := NewWorker(bus, sink, 4, discard())
	require.NoError(t, w.Start())

	for i := 1; i <= 10; i++ {
		bus.Publish(events.Event{Type: events.TypePaymentAttempted, EntityID: "order-1", Seq: i})
	}

	assert.Eventually(t, func() bool { return sink.count() == 10 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()

	for i, e := range sink.events {
		assert.Equal(t, i+1, e.Seq)
	}
	assert.Equal(t, "event-sink", w.Name())
}

func TestWorker_StopFlushesBuffered(t *testing.T) {
	bus := events.NewBus(64, discard())
	sink := &memorySink{}
	w := NewWorker(bus, sink, 100, discard())
	require.NoError(t, w.Start())

	bus.Publish(events.Event{Type: events.TypePaymentSucceeded, EntityID: "order-2"})
	w.Stop()

	bus.Publish(events.Event{Type: events.TypePaymentSucceeded, EntityID: "order-3"})
	assert.Equal(t, 1, sink.count())
}

func TestWorker_SinkFailureDoesNotStopWorker(t *testing.T) {
	bus := events.NewBus(64, discard())
	sink := &memorySink{fail: true}
	w := NewWorker(bus, sink, 8, discard())
	require.NoError(t, w.Start())
	defer w.Stop()

	bus.Publish(events.Event{EntityID: "a"})
	time.Sleep(20 * time.Millisecond)

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	bus.Publish(events.Event{EntityID: "b"})
	assert.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
