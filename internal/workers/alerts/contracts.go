package alerts

import (
	"context"

	"paykit/internal/events"
)

type (
	Source interface {
		Subscribe(pred events.Predicate) *events.Subscriber
	}

	Notifier interface {
		SendMessage(ctx context.Context, chatID int64, text string) error
	}
)
