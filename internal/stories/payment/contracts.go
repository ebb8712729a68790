package payment

import (
	"context"

	"paykit/internal/events"
	"paykit/internal/stories/catalog"
	"paykit/internal/stories/ledger"
)

type (
	// Backend sends a payment through one method. A plain error fails the
	// attempt; an error wrapped with Transient may be retried.
	Backend interface {
		Send(ctx context.Context, params SendParams) (Receipt, error)
	}

	Resolver interface {
		Resolve(ctx context.Context, payee catalog.PayeeIdentity, scope catalog.Scope, opts ...catalog.ResolveOption) (*catalog.Catalog, error)
		FetchEndpointData(ctx context.Context, location string, scope catalog.Scope) (catalog.EndpointData, error)
	}

	// Messenger delivers notifications to a payee via the routing network.
	Messenger interface {
		Notify(ctx context.Context, payee catalog.PayeeIdentity, n Notification) error
	}

	Ledger interface {
		Record(ctx context.Context, r ledger.Record) error
		Query(ctx context.Context, f ledger.Filter) ([]*ledger.Record, error)
	}

	Publisher interface {
		Publish(e events.Event)
	}
)
