package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"paykit/internal/events"
	"paykit/internal/stories/subs"
)

// Worker pushes operator alerts for failed payments and subscriptions that
// end for reasons other than cancellation.
type Worker struct {
	source   Source
	notifier Notifier
	chatIDs  []int64
	logger   *slog.Logger

	sub    *events.Subscriber
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(source Source, notifier Notifier, chatIDs []int64, logger *slog.Logger) *Worker {
	return &Worker{
		source:   source,
		notifier: notifier,
		chatIDs:  chatIDs,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (w *Worker) Name() string {
	return "alerts"
}

func (w *Worker) Start() error {
	var ctx context.Context
	ctx, w.cancel = context.WithCancel(context.Background())
	w.sub = w.source.Subscribe(alertable)

	w.logger.Info("Starting alerts worker", "chat_count", len(w.chatIDs))
	go func() {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in alerts worker goroutine", "panic", r)
			}
		}()
		for e := range w.sub.All(ctx) {
			w.send(ctx, e)
		}
	}()
	return nil
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping alerts worker")
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.sub.Close()
	<-w.done
}

func alertable(e events.Event) bool {
	switch e.Type {
	case events.TypePaymentFailed:
		return true
	case events.TypeSubscriptionTerminated:
		return e.Reason != subs.ReasonCancelled
	default:
		return false
	}
}

func (w *Worker) send(ctx context.Context, e events.Event) {
	text := Format(e)
	for _, chatID := range w.chatIDs {
		if err := w.notifier.SendMessage(ctx, chatID, text); err != nil {
			w.logger.Error("Failed to send alert",
				"chat_id", chatID,
				"event_type", e.Type,
				"entity_id", e.EntityID,
				"error", err)
		}
	}
}

// Format renders an alert as Telegram Markdown.
func Format(e events.Event) string {
	var b strings.Builder
	switch e.Type {
	case events.TypePaymentFailed:
		b.WriteString("🚨 *Payment failed*\n\n")
		fmt.Fprintf(&b, "Request: `%s`\n", e.EntityID)
	case events.TypeSubscriptionTerminated:
		b.WriteString("⏹ *Subscription ended*\n\n")
		fmt.Fprintf(&b, "Subscription: `%s`\n", e.EntityID)
		fmt.Fprintf(&b, "Triggers: `%d`\n", e.Seq)
	default:
		fmt.Fprintf(&b, "*%s*\n\n", e.Type)
		fmt.Fprintf(&b, "Entity: `%s`\n", e.EntityID)
	}
	if e.Payee != "" {
		fmt.Fprintf(&b, "Payee: `%s`\n", e.Payee)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, "Reason: `%s`\n", e.Reason)
	}
	fmt.Fprintf(&b, "Time: `%s`", e.OccurredAt.UTC().Format(time.DateTime))
	return b.String()
}
