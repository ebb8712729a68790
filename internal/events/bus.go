package events

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"paykit/internal/metrics"
)

const defaultCapacity = 256

// ErrClosed is returned by Next once the subscriber has been closed and drained.
var ErrClosed = errors.New("subscriber closed")

// Bus fans events out to subscribers. Publish never blocks: every subscriber
// owns a bounded buffer that drops its oldest event on overflow.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	capacity    int
	logger      *slog.Logger
	now         func() time.Time
}

// NewBus creates a bus with the given per-subscriber buffer capacity.
func NewBus(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
		capacity:    capacity,
		logger:      logger,
		now:         time.Now,
	}
}

// Publish delivers the event to every matching subscriber.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = b.now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subscribers {
		if !s.pred(e) {
			continue
		}
		if s.push(e) {
			metrics.EventsDroppedTotal.Inc()
			b.logger.Debug("Subscriber buffer full, dropped oldest event",
				"event_type", e.Type,
				"entity_id", e.EntityID,
				"dropped_total", s.Dropped())
		}
	}
}

// Subscribe registers a subscriber receiving events matching pred. A nil
// predicate matches everything.
func (b *Bus) Subscribe(pred Predicate) *Subscriber {
	if pred == nil {
		pred = Any
	}
	s := &Subscriber{
		bus:      b,
		pred:     pred,
		capacity: b.capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()

	return s
}

func (b *Bus) unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// Subscriber is an independent cursor over the bus.
type Subscriber struct {
	bus      *Bus
	pred     Predicate
	capacity int

	mu      sync.Mutex
	buf     []Event
	closed  bool
	dropped atomic.Uint64

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// push appends e and reports whether an older event had to be dropped.
func (s *Subscriber) push(e Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	dropped := false
	if len(s.buf) >= s.capacity {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		s.dropped.Add(1)
		dropped = true
	}
	s.buf = append(s.buf, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Next blocks until an event is available, ctx is done or the subscriber is closed.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			e := s.buf[0]
			s.buf[0] = Event{}
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.done:
		case <-s.notify:
		}
	}
}

// Drain returns up to max buffered events without blocking.
func (s *Subscriber) Drain(max int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(max, len(s.buf))
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	copy(out, s.buf[:n])
	clear(s.buf[:n])
	s.buf = s.buf[n:]
	return out
}

// All yields events until ctx is done or the subscriber is closed. Breaking out
// of the loop keeps the cursor, so All can be called again to resume.
func (s *Subscriber) All(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			e, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscriber. Buffered events can still be drained.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}
