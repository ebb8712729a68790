package healthcheck

import "context"

type (
	// Probe checks one dependency. A nil error means healthy.
	Probe interface {
		Name() string
		Check(ctx context.Context) error
	}

	Notifier interface {
		SendMessage(ctx context.Context, chatID int64, text string) error
	}
)
