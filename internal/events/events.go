package events

import "time"

// Type names a lifecycle notification.
type Type string

const (
	TypeResolutionDone         Type = "resolution.done"
	TypePaymentAttempted       Type = "payment.attempted"
	TypeAttemptFailed          Type = "payment.attempt_failed"
	TypePaymentSucceeded       Type = "payment.succeeded"
	TypePaymentFailed          Type = "payment.failed"
	TypeSubscriptionTriggered  Type = "subscription.triggered"
	TypeSubscriptionTerminated Type = "subscription.terminated"
)

// Event is a single lifecycle notification. EntityID is the correlation ID for
// payment events and the subscription ID for subscription events.
type Event struct {
	ID         string
	Type       Type
	EntityID   string
	Payee      string
	Method     string
	Seq        int
	Reason     string
	OccurredAt time.Time
	Attrs      map[string]string
}

// Predicate selects the events a subscriber receives.
type Predicate func(Event) bool

// Any matches every event.
func Any(Event) bool { return true }

// OfType matches events of any of the given types.
func OfType(types ...Type) Predicate {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// ForEntity matches events of a single payment request or subscription.
func ForEntity(id string) Predicate {
	return func(e Event) bool { return e.EntityID == id }
}

// And combines predicates.
func And(preds ...Predicate) Predicate {
	return func(e Event) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}
