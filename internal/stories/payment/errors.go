package payment

import (
	"errors"
	"fmt"
)

var (
	ErrNoMatchingMethod = errors.New("no matching payment method")
	ErrAttemptFailed    = errors.New("payment attempt failed")
	ErrExhausted        = errors.New("exhausted all candidates")
	ErrAborted          = errors.New("payment request aborted")
	ErrConfiguration    = errors.New("configuration error")
	ErrTimeout          = errors.New("attempt timed out")
	ErrInvalidRequest   = errors.New("invalid payment request")
	ErrAlreadyTerminal  = errors.New("payment request already terminal")
	ErrAttemptInFlight  = errors.New("attempt already in flight")
	ErrAlreadyPaid      = errors.New("correlation id already paid")
	ErrNotFound         = errors.New("payment request not found")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks a backend failure as retryable on the same candidate.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf is Transient(fmt.Errorf(format, args...)).
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
