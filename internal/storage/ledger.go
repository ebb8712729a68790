package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"paykit/internal/stories/ledger"
)

const ledgerTable = "ledger_records"

var ledgerRowFields = fields(ledgerRow{})

// Upsert that never touches a succeeded row.
const ledgerUpsertSuffix = `ON CONFLICT (correlation_id, kind) DO UPDATE SET
	payee = excluded.payee,
	method = excluded.method,
	status = excluded.status,
	amount = excluded.amount,
	currency = excluded.currency,
	memo = excluded.memo,
	attempts = excluded.attempts,
	subscription_id = excluded.subscription_id,
	reason = excluded.reason,
	recorded_at = excluded.recorded_at
WHERE ledger_records.status != 'succeeded'`

type ledgerRow struct {
	ID             int64               `db:"id"`
	Kind           string              `db:"kind"`
	CorrelationID  string              `db:"correlation_id"`
	Payee          string              `db:"payee"`
	Method         string              `db:"method"`
	Status         string              `db:"status"`
	Amount         decimal.NullDecimal `db:"amount"`
	Currency       string              `db:"currency"`
	Memo           string              `db:"memo"`
	Attempts       int                 `db:"attempts"`
	SubscriptionID string              `db:"subscription_id"`
	Reason         string              `db:"reason"`
	RecordedAt     time.Time           `db:"recorded_at"`
}

func (r ledgerRow) ToModel() *ledger.Record {
	return &ledger.Record{
		ID:             r.ID,
		Kind:           ledger.Kind(r.Kind),
		CorrelationID:  r.CorrelationID,
		Payee:          r.Payee,
		Method:         r.Method,
		Status:         ledger.Status(r.Status),
		Amount:         r.Amount,
		Currency:       r.Currency,
		Memo:           r.Memo,
		Attempts:       r.Attempts,
		SubscriptionID: r.SubscriptionID,
		Reason:         r.Reason,
		RecordedAt:     r.RecordedAt.UTC(),
	}
}

func (s *storageImpl) SaveRecord(ctx context.Context, r ledger.Record) (bool, error) {
	recordedAt := r.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	params := map[string]interface{}{
		"kind":            string(r.Kind),
		"correlation_id":  r.CorrelationID,
		"payee":           r.Payee,
		"method":          r.Method,
		"status":          string(r.Status),
		"amount":          r.Amount,
		"currency":        r.Currency,
		"memo":            r.Memo,
		"attempts":        r.Attempts,
		"subscription_id": r.SubscriptionID,
		"reason":          r.Reason,
		"recorded_at":     recordedAt.UTC(),
	}

	q, args, err := s.stmpBuilder().
		Insert(ledgerTable).
		SetMap(params).
		Suffix(ledgerUpsertSuffix).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}
	return affected > 0, nil
}

func (s *storageImpl) ListRecords(ctx context.Context, f ledger.Filter) ([]*ledger.Record, error) {
	query := s.stmpBuilder().
		Select(ledgerRowFields).
		From(ledgerTable)

	if f.From != nil {
		query = query.Where(sq.GtOrEq{"recorded_at": f.From.UTC()})
	}
	if f.To != nil {
		query = query.Where(sq.LtOrEq{"recorded_at": f.To.UTC()})
	}
	if f.Kind != nil {
		query = query.Where(sq.Eq{"kind": string(*f.Kind)})
	}
	if f.Status != nil {
		query = query.Where(sq.Eq{"status": string(*f.Status)})
	}
	if f.Method != nil {
		query = query.Where(sq.Eq{"method": *f.Method})
	}
	if f.CorrelationID != nil {
		query = query.Where(sq.Eq{"correlation_id": *f.CorrelationID})
	}
	if f.Payee != nil {
		query = query.Where(sq.Eq{"payee": *f.Payee})
	}

	if f.Limit > 0 {
		query = query.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query = query.Limit(1<<63 - 1)
		}
		query = query.Offset(uint64(f.Offset))
	}

	query = query.OrderBy("recorded_at ASC", "id ASC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []ledgerRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	records := make([]*ledger.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.ToModel())
	}
	return records, nil
}
