package eventsink

import (
	"context"

	"paykit/internal/events"
)

type (
	Source interface {
		Subscribe(pred events.Predicate) *events.Subscriber
	}

	Sink interface {
		Write(ctx context.Context, evs ...events.Event) error
	}
)
