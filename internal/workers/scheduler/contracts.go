package scheduler

import "context"

type Ticker interface {
	Tick(ctx context.Context) error
}
