package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrInvalidRecord = errors.New("invalid ledger record")

// Service is the accounting collaborator: records terminal outcomes and
// subscription triggers once per correlation ID.
type Service struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(storage Storage, logger *slog.Logger) *Service {
	return &Service{storage: storage, logger: logger, now: time.Now}
}

// Record writes r. A succeeded record is final: recording the same
// correlation ID and kind again leaves it untouched.
func (s *Service) Record(ctx context.Context, r Record) error {
	if r.CorrelationID == "" {
		return fmt.Errorf("%w: empty correlation id", ErrInvalidRecord)
	}
	if r.Kind == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidRecord)
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = s.now().UTC()
	}

	written, err := s.storage.SaveRecord(ctx, r)
	if err != nil {
		s.logger.Error("Failed to record ledger entry",
			"correlation_id", r.CorrelationID,
			"kind", r.Kind,
			"error", err)
		return fmt.Errorf("failed to save ledger record: %w", err)
	}
	if !written {
		s.logger.Debug("Ledger entry already final",
			"correlation_id", r.CorrelationID,
			"kind", r.Kind)
	}
	return nil
}

func (s *Service) Query(ctx context.Context, f Filter) ([]*Record, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("%w: date range ends before it starts", ErrInvalidRecord)
	}
	records, err := s.storage.ListRecords(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	return records, nil
}
