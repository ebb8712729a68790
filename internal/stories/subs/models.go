package subs

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"paykit/internal/stories/catalog"
)

type Kind string

const (
	KindPush Kind = "push"
	KindPull Kind = "pull"
)

type State string

const (
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateTerminated State = "terminated"
)

// Termination reasons.
const (
	ReasonEnded       = "ended"
	ReasonMaxTriggers = "max_triggers"
	ReasonCancelled   = "cancelled"
)

type Params struct {
	Frequency   time.Duration
	StartsAt    time.Time
	EndsAt      time.Time
	Amount      decimal.NullDecimal
	Currency    string
	Memo        string
	MaxTriggers int
}

// Subscription is a recurring payment toward Payee. Push subscriptions pay on
// every trigger; pull subscriptions hand the payee a one-time secret and pay
// once the payee reports it back.
type Subscription struct {
	ID                string
	Kind              Kind
	Payee             string
	Params            Params
	State             State
	LastTriggeredAt   *time.Time
	NextTriggerAt     time.Time
	TriggerCount      int
	SharedSecret      []byte
	PendingTrigger    int
	TerminationReason string
	RequestIDs        []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *Subscription) IsTerminated() bool { return s.State == StateTerminated }

// PayeeKey is the payee's public key. Payee may be a capability URL carrying
// decryption material; only the key is written to the ledger and events.
func (s *Subscription) PayeeKey() string {
	p, err := catalog.ParsePayee(s.Payee)
	if err != nil {
		return ""
	}
	return p.PublicKey()
}

// CorrelationID is the payment correlation ID of the n-th trigger.
func CorrelationID(subscriptionID string, n int) string {
	return fmt.Sprintf("%s:%d", subscriptionID, n)
}

type GetCriteria struct {
	ID string
}

type ListCriteria struct {
	States []State
	Kinds  []Kind
	Limit  int
	Offset int
}

type CreateRequest struct {
	Kind         Kind
	Payee        string
	Params       Params
	SharedSecret []byte
}
