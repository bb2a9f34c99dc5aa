// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates an operation attempted from the wrong lifecycle state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnavailable indicates the book has no free copies.
	ErrUnavailable = errors.New("unavailable")

	// ErrLimitExceeded indicates the user reached the active borrow limit.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrDuplicate indicates an active borrow already exists for (user, book).
	ErrDuplicate = errors.New("duplicate")

	// ErrOutstandingFine indicates the user has an unpaid fine balance.
	ErrOutstandingFine = errors.New("outstanding fine")

	// ErrRenewalBlocked indicates renewal is not allowed (limit, overdue or reserved).
	ErrRenewalBlocked = errors.New("renewal blocked")

	// ErrPickupExpired indicates the pickup deadline passed and the request was cancelled.
	ErrPickupExpired = errors.New("pickup expired")

	// ErrConflict indicates a reservation cannot be placed (book available or already queued).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates malformed input (unknown condition, negative amount, nil id).
	ErrValidation = errors.New("validation")

	// ErrUnauthorized indicates a missing or invalid principal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the principal lacks the capability for the operation.
	ErrForbidden = errors.New("forbidden")
)

// Error carries a sentinel kind together with a message that can be shown to
// the end user as is.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Unwrap exposes the sentinel for errors.Is.
func (e *Error) Unwrap() error { return e.Kind }

// New builds an *Error of the given kind with a formatted message.
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Message returns the user-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
