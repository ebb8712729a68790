package eventsink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"paykit/internal/events"
)

const (
	defaultBatchSize = 64
	flushTimeout     = 5 * time.Second
)

// Worker forwards every bus event to an external sink in small batches.
// Delivery is best effort: a failed batch is logged and dropped.
type Worker struct {
	source    Source
	sink      Sink
	batchSize int
	logger    *slog.Logger

	sub    *events.Subscriber
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(source Source, sink Sink, batchSize int, logger *slog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Worker{
		source:    source,
		sink:      sink,
		batchSize: batchSize,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (w *Worker) Name() string {
	return "event-sink"
}

func (w *Worker) Start() error {
	var ctx context.Context
	ctx, w.cancel = context.WithCancel(context.Background())
	w.sub = w.source.Subscribe(events.Any)

	w.logger.Info("Starting event sink worker", "batch_size", w.batchSize)
	go func() {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in event sink worker goroutine", "panic", r)
			}
		}()
		w.run(ctx)
	}()
	return nil
}

// Stop flushes what is still buffered and waits for the worker to exit.
func (w *Worker) Stop() {
	w.logger.Info("Stopping event sink worker")
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer w.flushRemaining()

	for {
		first, err := w.sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, events.ErrClosed) {
				w.logger.Error("Failed to read event", "error", err)
			}
			return
		}

		batch := append([]events.Event{first}, w.sub.Drain(w.batchSize-1)...)
		w.write(ctx, batch)
	}
}

func (w *Worker) flushRemaining() {
	w.sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		batch := w.sub.Drain(w.batchSize)
		if len(batch) == 0 {
			break
		}
		w.write(ctx, batch)
	}
	if dropped := w.sub.Dropped(); dropped > 0 {
		w.logger.Warn("Event sink fell behind and dropped events", "dropped", dropped)
	}
}

func (w *Worker) write(ctx context.Context, batch []events.Event) {
	if err := w.sink.Write(ctx, batch...); err != nil {
		w.logger.Error("Failed to forward events", "count", len(batch), "error", err)
	}
}
