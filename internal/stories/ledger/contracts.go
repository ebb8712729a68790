package ledger

import "context"

type Storage interface {
	// SaveRecord stores r keyed by (CorrelationID, Kind). An existing record is
	// replaced only if it is not succeeded; written is false otherwise.
	SaveRecord(ctx context.Context, r Record) (written bool, err error)
	ListRecords(ctx context.Context, f Filter) ([]*Record, error)
}
