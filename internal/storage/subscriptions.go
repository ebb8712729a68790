package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"paykit/internal/stories/subs"
)

const (
	subscriptionsTable        = "subscriptions"
	subscriptionRequestsTable = "subscription_requests"
)

var (
	subscriptionRowFields = fields(subscriptionRow{})

	ErrSubscriptionNotFound = errors.New("subscription row not found")
)

type subscriptionRow struct {
	ID                string              `db:"id"`
	Kind              string              `db:"kind"`
	Payee             string              `db:"payee"`
	FrequencyNs       int64               `db:"frequency_ns"`
	StartsAt          time.Time           `db:"starts_at"`
	EndsAt            *time.Time          `db:"ends_at"`
	Amount            decimal.NullDecimal `db:"amount"`
	Currency          string              `db:"currency"`
	Memo              string              `db:"memo"`
	MaxTriggers       int                 `db:"max_triggers"`
	State             string              `db:"state"`
	LastTriggeredAt   *time.Time          `db:"last_triggered_at"`
	NextTriggerAt     time.Time           `db:"next_trigger_at"`
	TriggerCount      int                 `db:"trigger_count"`
	SharedSecret      []byte              `db:"shared_secret"`
	PendingTrigger    int                 `db:"pending_trigger"`
	TerminationReason string              `db:"termination_reason"`
	CreatedAt         time.Time           `db:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at"`
}

func (s subscriptionRow) ToModel() *subs.Subscription {
	var endsAt time.Time
	if s.EndsAt != nil {
		endsAt = s.EndsAt.UTC()
	}
	return &subs.Subscription{
		ID:    s.ID,
		Kind:  subs.Kind(s.Kind),
		Payee: s.Payee,
		Params: subs.Params{
			Frequency:   time.Duration(s.FrequencyNs),
			StartsAt:    s.StartsAt.UTC(),
			EndsAt:      endsAt,
			Amount:      s.Amount,
			Currency:    s.Currency,
			Memo:        s.Memo,
			MaxTriggers: s.MaxTriggers,
		},
		State:             subs.State(s.State),
		LastTriggeredAt:   utcPtr(s.LastTriggeredAt),
		NextTriggerAt:     s.NextTriggerAt.UTC(),
		TriggerCount:      s.TriggerCount,
		SharedSecret:      s.SharedSecret,
		PendingTrigger:    s.PendingTrigger,
		TerminationReason: s.TerminationReason,
		CreatedAt:         s.CreatedAt.UTC(),
		UpdatedAt:         s.UpdatedAt.UTC(),
	}
}

func endsAtParam(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// mutableParams are the columns UpdateSubscription rewrites.
func mutableParams(sub subs.Subscription) map[string]interface{} {
	return map[string]interface{}{
		"state":              string(sub.State),
		"last_triggered_at":  utcPtr(sub.LastTriggeredAt),
		"next_trigger_at":    sub.NextTriggerAt.UTC(),
		"trigger_count":      sub.TriggerCount,
		"pending_trigger":    sub.PendingTrigger,
		"termination_reason": sub.TerminationReason,
	}
}

func (s *storageImpl) CreateSubscription(ctx context.Context, sub subs.Subscription) (*subs.Subscription, error) {
	now := s.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}

	params := mutableParams(sub)
	params["id"] = sub.ID
	params["kind"] = string(sub.Kind)
	params["payee"] = sub.Payee
	params["frequency_ns"] = int64(sub.Params.Frequency)
	params["starts_at"] = sub.Params.StartsAt.UTC()
	params["ends_at"] = endsAtParam(sub.Params.EndsAt)
	params["amount"] = sub.Params.Amount
	params["currency"] = sub.Params.Currency
	params["memo"] = sub.Params.Memo
	params["max_triggers"] = sub.Params.MaxTriggers
	params["shared_secret"] = sub.SharedSecret
	params["created_at"] = sub.CreatedAt.UTC()
	params["updated_at"] = sub.UpdatedAt.UTC()

	q, args, err := s.stmpBuilder().
		Insert(subscriptionsTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	return s.GetSubscription(ctx, subs.GetCriteria{ID: sub.ID})
}

// GetSubscription returns nil when no row matches. Linked request IDs are
// loaded in creation order.
func (s *storageImpl) GetSubscription(ctx context.Context, criteria subs.GetCriteria) (*subs.Subscription, error) {
	q, args, err := s.stmpBuilder().
		Select(subscriptionRowFields).
		From(subscriptionsTable).
		Where(sq.Eq{"id": criteria.ID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row subscriptionRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	sub := row.ToModel()
	sub.RequestIDs, err = s.requestIDs(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *storageImpl) requestIDs(ctx context.Context, subscriptionID string) ([]string, error) {
	q, args, err := s.stmpBuilder().
		Select("correlation_id").
		From(subscriptionRequestsTable).
		Where(sq.Eq{"subscription_id": subscriptionID}).
		OrderBy("created_at ASC", "rowid ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}
	return ids, nil
}

// ListSubscriptions does not load linked request IDs.
func (s *storageImpl) ListSubscriptions(ctx context.Context, criteria subs.ListCriteria) ([]*subs.Subscription, error) {
	query := s.stmpBuilder().
		Select(subscriptionRowFields).
		From(subscriptionsTable)

	if len(criteria.States) > 0 {
		states := make([]string, 0, len(criteria.States))
		for _, st := range criteria.States {
			states = append(states, string(st))
		}
		query = query.Where(sq.Eq{"state": states})
	}
	if len(criteria.Kinds) > 0 {
		kinds := make([]string, 0, len(criteria.Kinds))
		for _, k := range criteria.Kinds {
			kinds = append(kinds, string(k))
		}
		query = query.Where(sq.Eq{"kind": kinds})
	}

	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}
	if criteria.Offset > 0 {
		if criteria.Limit <= 0 {
			query = query.Limit(1<<63 - 1)
		}
		query = query.Offset(uint64(criteria.Offset))
	}

	query = query.OrderBy("created_at ASC", "id ASC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []subscriptionRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	subscriptions := make([]*subs.Subscription, 0, len(rows))
	for _, row := range rows {
		subscriptions = append(subscriptions, row.ToModel())
	}
	return subscriptions, nil
}

func (s *storageImpl) UpdateSubscription(ctx context.Context, sub subs.Subscription) error {
	params := mutableParams(sub)
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	params["updated_at"] = updatedAt.UTC()

	q, args, err := s.stmpBuilder().
		Update(subscriptionsTable).
		SetMap(params).
		Where(sq.Eq{"id": sub.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("result.RowsAffected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, sub.ID)
	}
	return nil
}

// LinkRequest attaches a payment correlation ID to a subscription. Linking
// the same ID twice is a no-op.
func (s *storageImpl) LinkRequest(ctx context.Context, subscriptionID, correlationID string) error {
	now := s.now()
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		q, args, err := s.stmpBuilder().
			Insert(subscriptionRequestsTable).
			Options("OR IGNORE").
			SetMap(map[string]interface{}{
				"subscription_id": subscriptionID,
				"correlation_id":  correlationID,
				"created_at":      now,
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}

		q, args, err = s.stmpBuilder().
			Update(subscriptionsTable).
			Set("updated_at", now).
			Where(sq.Eq{"id": subscriptionID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}
		return nil
	})
}
