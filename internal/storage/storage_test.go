package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paykit/internal/infra/sqlite3"
	"paykit/internal/stories/ledger"
	"paykit/internal/stories/subs"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *storageImpl {
	t.Helper()
	db, err := sqlite3.New(context.Background(), sqlite3.WithMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db.DB)
	s.now = func() time.Time { return testNow }
	return s
}

func amount(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func TestSaveRecord_SucceededIsFinal(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := ledger.Record{
		Kind:          ledger.KindPayment,
		CorrelationID: "order-1",
		Payee:         "alice",
		Status:        ledger.StatusExhausted,
		Amount:        amount(1000),
		Currency:      "SAT",
		Attempts:      3,
		RecordedAt:    testNow,
	}

	written, err := s.SaveRecord(ctx, base)
	require.NoError(t, err)
	assert.True(t, written)

	paid := base
	paid.Status = ledger.StatusSucceeded
	paid.Method = "lightning"
	paid.Attempts = 1
	paid.RecordedAt = testNow.Add(time.Minute)
	written, err = s.SaveRecord(ctx, paid)
	require.NoError(t, err)
	assert.True(t, written, "a failed record can be superseded")

	again := base
	again.RecordedAt = testNow.Add(2 * time.Minute)
	written, err = s.SaveRecord(ctx, again)
	require.NoError(t, err)
	assert.False(t, written)

	records, err := s.ListRecords(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, ledger.StatusSucceeded, got.Status)
	assert.Equal(t, "lightning", got.Method)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.Amount.Valid)
	assert.True(t, got.Amount.Decimal.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, testNow.Add(time.Minute), got.RecordedAt)
}

func TestSaveRecord_KindsAreIndependent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, kind := range []ledger.Kind{ledger.KindSubscriptionTrigger, ledger.KindPayment} {
		written, err := s.SaveRecord(ctx, ledger.Record{
			Kind:           kind,
			CorrelationID:  "sub-1:1",
			Status:         ledger.StatusTriggered,
			SubscriptionID: "sub-1",
		})
		require.NoError(t, err)
		assert.True(t, written)
	}

	records, err := s.ListRecords(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, testNow, records[0].RecordedAt)
}

func TestListRecords_Filters(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	seed := []ledger.Record{
		{Kind: ledger.KindPayment, CorrelationID: "a", Payee: "alice", Method: "lightning", Status: ledger.StatusSucceeded, RecordedAt: testNow},
		{Kind: ledger.KindPayment, CorrelationID: "b", Payee: "bob", Method: "onchain", Status: ledger.StatusExhausted, RecordedAt: testNow.Add(time.Hour)},
		{Kind: ledger.KindPayment, CorrelationID: "c", Payee: "alice", Method: "onchain", Status: ledger.StatusSucceeded, RecordedAt: testNow.Add(2 * time.Hour)},
		{Kind: ledger.KindSubscriptionTrigger, CorrelationID: "s:1", Payee: "alice", Status: ledger.StatusTriggered, RecordedAt: testNow.Add(3 * time.Hour)},
	}
	for _, r := range seed {
		_, err := s.SaveRecord(ctx, r)
		require.NoError(t, err)
	}

	ids := func(records []*ledger.Record) []string {
		out := make([]string, 0, len(records))
		for _, r := range records {
			out = append(out, r.CorrelationID)
		}
		return out
	}

	succeeded := ledger.StatusSucceeded
	payment := ledger.KindPayment
	alice := "alice"
	onchain := "onchain"
	corr := "b"
	from := testNow.Add(30 * time.Minute)
	to := testNow.Add(2 * time.Hour)

	tests := []struct {
		name   string
		filter ledger.Filter
		want   []string
	}{
		{name: "all", filter: ledger.Filter{}, want: []string{"a", "b", "c", "s:1"}},
		{name: "status", filter: ledger.Filter{Status: &succeeded}, want: []string{"a", "c"}},
		{name: "kind and payee", filter: ledger.Filter{Kind: &payment, Payee: &alice}, want: []string{"a", "c"}},
		{name: "method", filter: ledger.Filter{Method: &onchain}, want: []string{"b", "c"}},
		{name: "correlation id", filter: ledger.Filter{CorrelationID: &corr}, want: []string{"b"}},
		{name: "inclusive date range", filter: ledger.Filter{From: &from, To: &to}, want: []string{"b", "c"}},
		{name: "limit", filter: ledger.Filter{Limit: 2}, want: []string{"a", "b"}},
		{name: "offset without limit", filter: ledger.Filter{Offset: 3}, want: []string{"s:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := s.ListRecords(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(records))
		})
	}
}

func TestListRecords_DBError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := New(sqlx.NewDb(mockDB, "sqlite3"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id,kind,correlation_id")).
		WillReturnError(errors.New("disk I/O error"))

	_, err = s.ListRecords(context.Background(), ledger.Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecord_DBError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	s := New(sqlx.NewDb(mockDB, "sqlite3"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_records")).
		WillReturnError(errors.New("database is locked"))

	written, err := s.SaveRecord(context.Background(), ledger.Record{Kind: ledger.KindPayment, CorrelationID: "x"})
	require.Error(t, err)
	assert.False(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newSubscription(id string) subs.Subscription {
	return subs.Subscription{
		ID:    id,
		Kind:  subs.KindPull,
		Payee: "pubky://alice",
		Params: subs.Params{
			Frequency:   24 * time.Hour,
			StartsAt:    testNow,
			Amount:      amount(500),
			Currency:    "SAT",
			Memo:        "coffee",
			MaxTriggers: 10,
		},
		State:         subs.StateActive,
		NextTriggerAt: testNow,
		SharedSecret:  []byte{1, 2, 3, 4},
	}
}

func TestSubscriptions_CreateAndGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	created, err := s.CreateSubscription(ctx, newSubscription("sub-1"))
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, "sub-1", created.ID)
	assert.Equal(t, subs.KindPull, created.Kind)
	assert.Equal(t, 24*time.Hour, created.Params.Frequency)
	assert.Equal(t, testNow, created.Params.StartsAt)
	assert.True(t, created.Params.EndsAt.IsZero())
	assert.True(t, created.Params.Amount.Decimal.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, []byte{1, 2, 3, 4}, created.SharedSecret)
	assert.Nil(t, created.LastTriggeredAt)
	assert.Equal(t, testNow, created.CreatedAt)
	assert.Empty(t, created.RequestIDs)

	missing, err := s.GetSubscription(ctx, subs.GetCriteria{ID: "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSubscriptions_Update(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	sub := newSubscription("sub-1")
	sub.Params.EndsAt = testNow.Add(48 * time.Hour)
	_, err := s.CreateSubscription(ctx, sub)
	require.NoError(t, err)

	fired := testNow.Add(time.Hour)
	sub.TriggerCount = 1
	sub.PendingTrigger = 1
	sub.LastTriggeredAt = &fired
	sub.NextTriggerAt = fired.Add(24 * time.Hour)
	sub.State = subs.StateTerminated
	sub.TerminationReason = subs.ReasonCancelled
	sub.UpdatedAt = fired
	require.NoError(t, s.UpdateSubscription(ctx, sub))

	got, err := s.GetSubscription(ctx, subs.GetCriteria{ID: "sub-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggerCount)
	assert.Equal(t, 1, got.PendingTrigger)
	require.NotNil(t, got.LastTriggeredAt)
	assert.Equal(t, fired, *got.LastTriggeredAt)
	assert.Equal(t, fired.Add(24*time.Hour), got.NextTriggerAt)
	assert.Equal(t, testNow.Add(48*time.Hour), got.Params.EndsAt)
	assert.Equal(t, subs.StateTerminated, got.State)
	assert.Equal(t, subs.ReasonCancelled, got.TerminationReason)

	err = s.UpdateSubscription(ctx, newSubscription("ghost"))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestSubscriptions_ListByState(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i, state := range []subs.State{subs.StateActive, subs.StatePaused, subs.StateTerminated} {
		sub := newSubscription(string(state))
		sub.State = state
		sub.CreatedAt = testNow.Add(time.Duration(i) * time.Minute)
		_, err := s.CreateSubscription(ctx, sub)
		require.NoError(t, err)
	}

	live, err := s.ListSubscriptions(ctx, subs.ListCriteria{States: []subs.State{subs.StateActive, subs.StatePaused}})
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "active", live[0].ID)
	assert.Equal(t, "paused", live[1].ID)

	all, err := s.ListSubscriptions(ctx, subs.ListCriteria{Kinds: []subs.Kind{subs.KindPull}, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSubscriptions_LinkRequestIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.CreateSubscription(ctx, newSubscription("sub-1"))
	require.NoError(t, err)

	require.NoError(t, s.LinkRequest(ctx, "sub-1", "sub-1:1"))
	require.NoError(t, s.LinkRequest(ctx, "sub-1", "sub-1:1"))
	require.NoError(t, s.LinkRequest(ctx, "sub-1", "sub-1:2"))

	got, err := s.GetSubscription(ctx, subs.GetCriteria{ID: "sub-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1:1", "sub-1:2"}, got.RequestIDs)

	err = s.LinkRequest(ctx, "missing", "missing:1")
	assert.Error(t, err, "foreign key must reject unknown subscriptions")
}
