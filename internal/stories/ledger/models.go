package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindPayment             Kind = "payment"
	KindSubscriptionTrigger Kind = "subscription_trigger"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	StatusAborted   Status = "aborted"
	StatusTriggered Status = "triggered"
)

// Record is one ledger line. (CorrelationID, Kind) is unique.
type Record struct {
	ID             int64
	Kind           Kind
	CorrelationID  string
	Payee          string
	Method         string
	Status         Status
	Amount         decimal.NullDecimal
	Currency       string
	Memo           string
	Attempts       int
	SubscriptionID string
	Reason         string
	RecordedAt     time.Time
}

// Filter narrows Query results. Zero fields do not filter.
type Filter struct {
	From          *time.Time
	To            *time.Time
	Kind          *Kind
	Status        *Status
	Method        *string
	CorrelationID *string
	Payee         *string
	Limit         int
	Offset        int
}
