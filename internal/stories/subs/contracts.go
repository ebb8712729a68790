package subs

import (
	"context"

	"paykit/internal/events"
	"paykit/internal/stories/catalog"
	"paykit/internal/stories/ledger"
	"paykit/internal/stories/payment"
)

type (
	Storage interface {
		CreateSubscription(ctx context.Context, s Subscription) (*Subscription, error)
		GetSubscription(ctx context.Context, criteria GetCriteria) (*Subscription, error)
		ListSubscriptions(ctx context.Context, criteria ListCriteria) ([]*Subscription, error)
		UpdateSubscription(ctx context.Context, s Subscription) error
		LinkRequest(ctx context.Context, subscriptionID, correlationID string) error
	}

	// Pipeline is the payment request pipeline the scheduler re-enters.
	Pipeline interface {
		Pay(ctx context.Context, req *payment.Request) (*payment.Request, error)
	}

	Messenger interface {
		Notify(ctx context.Context, payee catalog.PayeeIdentity, n payment.Notification) error
	}

	Ledger interface {
		Record(ctx context.Context, r ledger.Record) error
	}

	Publisher interface {
		Publish(e events.Event)
	}
)
