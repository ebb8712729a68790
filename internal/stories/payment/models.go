package payment

import (
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paykit/internal/stories/catalog"
	"paykit/internal/stories/matching"
)

type AttemptState string

const (
	AttemptPending   AttemptState = "pending"
	AttemptSucceeded AttemptState = "succeeded"
	AttemptFailed    AttemptState = "failed"
)

// Attempt is one try of one candidate. Seq increases monotonically within a
// request; Try counts same-candidate retries starting at zero.
type Attempt struct {
	Seq        int
	Method     catalog.MethodID
	Try        int
	State      AttemptState
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	StatusAborted   Status = "aborted"
)

// Outcome is the terminal result of a request. Candidate and Receipt are set
// only for StatusSucceeded.
type Outcome struct {
	Status     Status
	Candidate  *matching.Candidate
	Receipt    *Receipt
	Reason     string
	FinishedAt time.Time
}

func (o Outcome) IsTerminal() bool {
	return o.Status != "" && o.Status != StatusPending
}

// Request is the unit of work. Attempts are append-only and the outcome is
// fixed once terminal.
type Request struct {
	CorrelationID  string
	Payee          catalog.PayeeIdentity
	Amount         decimal.NullDecimal
	Currency       string
	Memo           string
	SubscriptionID string
	CreatedAt      time.Time

	mu       sync.RWMutex
	attempts []Attempt
	outcome  Outcome
}

func (r *Request) Attempts() []Attempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.attempts)
}

func (r *Request) Outcome() Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.outcome.Status == "" {
		return Outcome{Status: StatusPending}
	}
	return r.outcome
}

func (r *Request) IsTerminal() bool {
	return r.Outcome().IsTerminal()
}

// beginAttempt appends a pending attempt and returns its sequence number.
func (r *Request) beginAttempt(method catalog.MethodID, try int, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outcome.IsTerminal() {
		return 0, ErrAlreadyTerminal
	}
	if n := len(r.attempts); n > 0 && r.attempts[n-1].State == AttemptPending {
		return 0, ErrAttemptInFlight
	}
	seq := len(r.attempts) + 1
	r.attempts = append(r.attempts, Attempt{
		Seq:       seq,
		Method:    method,
		Try:       try,
		State:     AttemptPending,
		StartedAt: at,
	})
	return seq, nil
}

func (r *Request) endAttempt(seq int, state AttemptState, reason string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := seq - 1
	if i < 0 || i >= len(r.attempts) || r.attempts[i].State != AttemptPending {
		return
	}
	r.attempts[i].State = state
	r.attempts[i].Reason = reason
	r.attempts[i].FinishedAt = at
}

// finish sets the terminal outcome. It reports false if the request was
// already terminal.
func (r *Request) finish(o Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outcome.IsTerminal() {
		return false
	}
	r.outcome = o
	return true
}

// SendParams is what a backend receives for one attempt.
type SendParams struct {
	CorrelationID string
	Method        catalog.MethodID
	Endpoint      catalog.EndpointData
	Amount        decimal.NullDecimal
	Currency      string
	Memo          string
}

// Receipt is the backend's proof of a successful send.
type Receipt struct {
	Reference string
	Details   map[string]string
}

// Notification is a best-effort message to a payee over the routing network.
type Notification struct {
	Kind          string
	CorrelationID string
	Reason        string
	Methods       []string
	Payload       map[string]string
	SentAt        time.Time
}

const NotificationPaymentFailed = "payment_failed"
