package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is matched by every SessionExpiredError.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoSession means the agent holds no tokens to refresh or present.
	ErrNoSession = errors.New("no session")

	// ErrInvalidTransition is returned when an operation is not allowed in the current status.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// SessionExpiredError is returned when no valid credential can be produced. Callers redirect to
// login instead of retrying.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause == nil {
		return ErrSessionExpired.Error()
	}
	return fmt.Sprintf("%s: %v", ErrSessionExpired.Error(), e.Cause)
}

func (e *SessionExpiredError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrSessionExpired}
	}
	return []error{ErrSessionExpired, e.Cause}
}

func expired(cause error) error {
	return &SessionExpiredError{Cause: cause}
}

func invalidTransition(op string, from Status) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
}
