package subs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"paykit/internal/events"
	"paykit/internal/metrics"
	"paykit/internal/stories/catalog"
	"paykit/internal/stories/ledger"
	"paykit/internal/stories/payment"
)

var (
	ErrNotFound            = errors.New("subscription not found")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrTerminated          = errors.New("subscription terminated")
	ErrInvalidTransition   = errors.New("invalid subscription state transition")
	ErrNoPendingTrigger    = errors.New("no pending pull trigger")
	ErrInvalidSecret       = errors.New("invalid pull trigger secret")
)

const NotificationPullTrigger = "pull_trigger"

type Config struct {
	Concurrency int
}

// Scheduler drives push and pull subscriptions. All state changes go through
// a per-subscription lock; ticks skip a subscription whose lock is held.
type Scheduler struct {
	storage   Storage
	pipeline  Pipeline
	messenger Messenger
	ledger    Ledger
	publisher Publisher
	logger    *slog.Logger
	cfg       Config
	locks     sync.Map
	now       func() time.Time
}

func NewScheduler(cfg Config, storage Storage, pipeline Pipeline, messenger Messenger, ledger Ledger, publisher Publisher, logger *slog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{
		storage:   storage,
		pipeline:  pipeline,
		messenger: messenger,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Scheduler) lock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*Subscription, error) {
	if req.Kind != KindPush && req.Kind != KindPull {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSubscription, req.Kind)
	}
	payee, err := catalog.ParsePayee(req.Payee)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	p := req.Params
	if p.Frequency <= 0 {
		return nil, fmt.Errorf("%w: frequency must be positive", ErrInvalidSubscription)
	}
	if p.Amount.Valid && !p.Amount.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidSubscription)
	}
	if p.MaxTriggers < 0 {
		return nil, fmt.Errorf("%w: max triggers must not be negative", ErrInvalidSubscription)
	}

	now := s.now().UTC()
	if p.StartsAt.IsZero() {
		p.StartsAt = now
	}
	if !p.EndsAt.IsZero() && !p.EndsAt.After(p.StartsAt) {
		return nil, fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidSubscription)
	}

	secret := req.SharedSecret
	if req.Kind == KindPull && len(secret) == 0 {
		if secret, err = newSharedSecret(); err != nil {
			return nil, fmt.Errorf("generate shared secret: %w", err)
		}
	}

	next := p.StartsAt
	if next.Before(now) {
		next = now
	}

	created, err := s.storage.CreateSubscription(ctx, Subscription{
		ID:            uuid.NewString(),
		Kind:          req.Kind,
		Payee:         payee.String(),
		Params:        p,
		State:         StateActive,
		NextTriggerAt: next,
		SharedSecret:  secret,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		s.logger.Error("Failed to create subscription", "payee", payee.PublicKey(), "error", err)
		return nil, fmt.Errorf("create subscription in storage: %w", err)
	}

	s.logger.Info("Subscription created",
		"subscription_id", created.ID,
		"kind", created.Kind,
		"payee", payee.PublicKey(),
		"frequency", p.Frequency,
		"next_trigger_at", created.NextTriggerAt)
	return created, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*Subscription, error) {
	sub, err := s.storage.GetSubscription(ctx, GetCriteria{ID: id})
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub, nil
}

func (s *Scheduler) List(ctx context.Context, criteria ListCriteria) ([]*Subscription, error) {
	return s.storage.ListSubscriptions(ctx, criteria)
}

func (s *Scheduler) Pause(ctx context.Context, id string) (*Subscription, error) {
	return s.transition(ctx, id, func(sub *Subscription, _ time.Time) error {
		if sub.State != StateActive {
			return fmt.Errorf("%w: cannot pause %s subscription", ErrInvalidTransition, sub.State)
		}
		sub.State = StatePaused
		return nil
	})
}

// Resume reactivates a paused subscription. Triggers missed while paused are
// not replayed.
func (s *Scheduler) Resume(ctx context.Context, id string) (*Subscription, error) {
	return s.transition(ctx, id, func(sub *Subscription, now time.Time) error {
		if sub.State != StatePaused {
			return fmt.Errorf("%w: cannot resume %s subscription", ErrInvalidTransition, sub.State)
		}
		sub.State = StateActive
		if sub.NextTriggerAt.Before(now) {
			sub.NextTriggerAt = now
		}
		return nil
	})
}

func (s *Scheduler) Cancel(ctx context.Context, id string) (*Subscription, error) {
	sub, err := s.transition(ctx, id, func(sub *Subscription, _ time.Time) error {
		sub.State = StateTerminated
		sub.TerminationReason = ReasonCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.terminated(sub)
	return sub, nil
}

func (s *Scheduler) transition(ctx context.Context, id string, apply func(*Subscription, time.Time) error) (*Subscription, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminated() {
		return nil, fmt.Errorf("%w: %s", ErrTerminated, id)
	}

	now := s.now().UTC()
	if err := apply(sub, now); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now
	if err := s.storage.UpdateSubscription(ctx, *sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	s.logger.Info("Subscription updated", "subscription_id", id, "state", sub.State)
	return sub, nil
}

// Tick evaluates every live subscription once. Subscriptions are processed
// in parallel; a subscription whose previous tick is still running is skipped.
func (s *Scheduler) Tick(ctx context.Context) error {
	list, err := s.storage.ListSubscriptions(ctx, ListCriteria{States: []State{StateActive, StatePaused}})
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, sub := range list {
		id := sub.ID
		g.Go(func() error {
			s.tickOne(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) tickOne(ctx context.Context, id string) {
	mu := s.lock(id)
	if !mu.TryLock() {
		s.logger.Debug("Subscription tick already running", "subscription_id", id)
		return
	}
	defer mu.Unlock()

	sub, err := s.Get(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load subscription for tick", "subscription_id", id, "error", err)
		return
	}
	if sub.IsTerminated() {
		return
	}

	now := s.now().UTC()
	if reason := terminationReason(sub, now); reason != "" {
		sub.State = StateTerminated
		sub.TerminationReason = reason
		sub.UpdatedAt = now
		if err := s.storage.UpdateSubscription(ctx, *sub); err != nil {
			s.logger.Error("Failed to terminate subscription", "subscription_id", id, "error", err)
			return
		}
		s.terminated(sub)
		return
	}

	if !due(sub, now) {
		return
	}
	s.fire(ctx, sub, now)
}

// terminationReason is checked before any trigger fires.
func terminationReason(sub *Subscription, now time.Time) string {
	switch {
	case !sub.Params.EndsAt.IsZero() && now.After(sub.Params.EndsAt):
		return ReasonEnded
	case sub.Params.MaxTriggers > 0 && sub.TriggerCount >= sub.Params.MaxTriggers:
		return ReasonMaxTriggers
	default:
		return ""
	}
}

func due(sub *Subscription, now time.Time) bool {
	if sub.State != StateActive || now.Before(sub.NextTriggerAt) {
		return false
	}
	return sub.Params.EndsAt.IsZero() || sub.NextTriggerAt.Before(sub.Params.EndsAt)
}

// fire records trigger n and hands it to the payment pipeline (push) or to
// the payee (pull). State is persisted before anything leaves the process, so
// a crash never fires the same trigger twice.
func (s *Scheduler) fire(ctx context.Context, sub *Subscription, now time.Time) {
	n := sub.TriggerCount + 1
	correlationID := CorrelationID(sub.ID, n)

	sub.TriggerCount = n
	sub.LastTriggeredAt = &now
	sub.NextTriggerAt = now.Add(sub.Params.Frequency)
	sub.UpdatedAt = now
	if sub.Kind == KindPull {
		sub.PendingTrigger = n
	}
	if err := s.storage.UpdateSubscription(ctx, *sub); err != nil {
		s.logger.Error("Failed to persist subscription trigger", "subscription_id", sub.ID, "error", err)
		metrics.SubscriptionTriggersTotal.WithLabelValues(string(sub.Kind), "persist_failed").Inc()
		return
	}

	s.recordTrigger(ctx, sub, correlationID, now)
	s.publish(events.Event{
		Type:     events.TypeSubscriptionTriggered,
		EntityID: sub.ID,
		Payee:    sub.PayeeKey(),
		Seq:      n,
		Attrs: map[string]string{
			"kind":           string(sub.Kind),
			"correlation_id": correlationID,
		},
	})
	s.logger.Info("Subscription triggered",
		"subscription_id", sub.ID,
		"kind", sub.Kind,
		"trigger", n,
		"next_trigger_at", sub.NextTriggerAt)

	payee, err := catalog.ParsePayee(sub.Payee)
	if err != nil {
		s.logger.Error("Subscription has invalid payee", "subscription_id", sub.ID, "error", err)
		return
	}

	switch sub.Kind {
	case KindPush:
		s.submit(ctx, sub, n, payee)
	case KindPull:
		s.deliverSecret(ctx, sub, n, payee)
	}
}

func (s *Scheduler) deliverSecret(ctx context.Context, sub *Subscription, n int, payee catalog.PayeeIdentity) {
	if s.messenger == nil {
		s.logger.Warn("No messenger configured for pull subscription", "subscription_id", sub.ID)
		return
	}
	err := s.messenger.Notify(ctx, payee, payment.Notification{
		Kind:          NotificationPullTrigger,
		CorrelationID: CorrelationID(sub.ID, n),
		Payload: map[string]string{
			"subscription_id": sub.ID,
			"trigger":         strconv.Itoa(n),
			"secret":          DeriveSecret(sub.SharedSecret, sub.ID, n),
		},
		SentAt: s.now().UTC(),
	})
	if err != nil {
		metrics.SubscriptionTriggersTotal.WithLabelValues(string(sub.Kind), "delivery_failed").Inc()
		s.logger.Warn("Failed to deliver pull trigger secret",
			"subscription_id", sub.ID,
			"trigger", n,
			"error", err)
		return
	}
	metrics.SubscriptionTriggersTotal.WithLabelValues(string(sub.Kind), "delivered").Inc()
}

// ReportPullTrigger accepts the payee's validated trigger for the pending
// pull and submits the payment. A pending trigger stays redeemable after the
// subscription ends on its own, but not after cancellation.
func (s *Scheduler) ReportPullTrigger(ctx context.Context, id, secret string) (*payment.Request, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Kind != KindPull {
		return nil, fmt.Errorf("%w: %s is not a pull subscription", ErrInvalidSubscription, id)
	}
	if sub.IsTerminated() && sub.TerminationReason == ReasonCancelled {
		return nil, fmt.Errorf("%w: %s", ErrTerminated, id)
	}
	if sub.PendingTrigger == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPendingTrigger, id)
	}
	n := sub.PendingTrigger
	if !VerifySecret(sub.SharedSecret, sub.ID, n, secret) {
		s.logger.Warn("Rejected pull trigger", "subscription_id", id, "trigger", n)
		return nil, ErrInvalidSecret
	}

	sub.PendingTrigger = 0
	sub.UpdatedAt = s.now().UTC()
	if err := s.storage.UpdateSubscription(ctx, *sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	payee, err := catalog.ParsePayee(sub.Payee)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	return s.submit(ctx, sub, n, payee)
}

func (s *Scheduler) submit(ctx context.Context, sub *Subscription, n int, payee catalog.PayeeIdentity) (*payment.Request, error) {
	correlationID := CorrelationID(sub.ID, n)
	if err := s.storage.LinkRequest(ctx, sub.ID, correlationID); err != nil {
		s.logger.Error("Failed to link request to subscription",
			"subscription_id", sub.ID,
			"correlation_id", correlationID,
			"error", err)
	}

	req, err := s.pipeline.Pay(ctx, &payment.Request{
		CorrelationID:  correlationID,
		Payee:          payee,
		Amount:         sub.Params.Amount,
		Currency:       sub.Params.Currency,
		Memo:           sub.Params.Memo,
		SubscriptionID: sub.ID,
	})
	if err != nil {
		metrics.SubscriptionTriggersTotal.WithLabelValues(string(sub.Kind), "payment_failed").Inc()
		s.logger.Warn("Subscription payment failed",
			"subscription_id", sub.ID,
			"correlation_id", correlationID,
			"error", err)
		return req, err
	}
	metrics.SubscriptionTriggersTotal.WithLabelValues(string(sub.Kind), "paid").Inc()
	return req, nil
}

func (s *Scheduler) recordTrigger(ctx context.Context, sub *Subscription, correlationID string, at time.Time) {
	if s.ledger == nil {
		return
	}
	err := s.ledger.Record(ctx, ledger.Record{
		Kind:           ledger.KindSubscriptionTrigger,
		CorrelationID:  correlationID,
		Payee:          sub.PayeeKey(),
		Status:         ledger.StatusTriggered,
		Amount:         sub.Params.Amount,
		Currency:       sub.Params.Currency,
		Memo:           sub.Params.Memo,
		SubscriptionID: sub.ID,
		RecordedAt:     at,
	})
	if err != nil {
		s.logger.Error("Failed to record subscription trigger",
			"subscription_id", sub.ID,
			"correlation_id", correlationID,
			"error", err)
	}
}

func (s *Scheduler) terminated(sub *Subscription) {
	metrics.SubscriptionsTerminatedTotal.WithLabelValues(sub.TerminationReason).Inc()
	s.publish(events.Event{
		Type:     events.TypeSubscriptionTerminated,
		EntityID: sub.ID,
		Payee:    sub.PayeeKey(),
		Seq:      sub.TriggerCount,
		Reason:   sub.TerminationReason,
	})
	s.logger.Info("Subscription terminated",
		"subscription_id", sub.ID,
		"reason", sub.TerminationReason,
		"triggers", sub.TriggerCount)
}

func (s *Scheduler) publish(e events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}
