/*
errors.go - Failure taxonomy for booking operations

PURPOSE:
  Every outcome a caller can branch on is a sentinel error here. Structured
  errors carry context and unwrap to their sentinel, so callers always use
  errors.Is and never compare strings.

ERROR CATEGORIES:
  1. Client errors - AlreadyBooked, InsufficientCredit, CapacityFull, ...
  2. Lookup errors - NotFound (also used for cross-tenant access)
  3. Internal      - CreditExhausted never escapes the engine

SEE ALSO:
  - api/handlers.go: Maps codes to HTTP statuses
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyBooked      = errors.New("already booked")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrCapacityFull       = errors.New("capacity full")
	ErrAlreadyCancelled   = errors.New("already cancelled")
	ErrNotCancellable     = errors.New("reservation cannot be cancelled")
	ErrSessionNotFull     = errors.New("session not full")
	ErrAlreadyWaitlisted  = errors.New("already waitlisted")
	ErrSessionClosed      = errors.New("session already started")
	ErrInvalidInput       = errors.New("invalid input")

	// ErrCreditExhausted means a credit picked as usable was drained by a
	// concurrent booking before it could be consumed.
	ErrCreditExhausted = errors.New("credit exhausted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CapacityFullError is returned when a session has no free seat.
type CapacityFullError struct {
	SessionID SessionID
	Capacity  int
}

func (e *CapacityFullError) Error() string {
	return fmt.Sprintf("session %s is full (capacity %d)", e.SessionID, e.Capacity)
}

func (e *CapacityFullError) Unwrap() error { return ErrCapacityFull }

// InsufficientCreditError is returned when a member holds no credit that can
// pay for the session's class type.
type InsufficientCreditError struct {
	MemberID    MemberID
	ClassTypeID ClassTypeID
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("member %s has no usable credit for class type %s", e.MemberID, e.ClassTypeID)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// AlreadyWaitlistedError covers both an existing queue entry and an existing
// reservation for the same session.
type AlreadyWaitlistedError struct {
	SessionID      SessionID
	MemberID       MemberID
	HasReservation bool
}

func (e *AlreadyWaitlistedError) Error() string {
	if e.HasReservation {
		return fmt.Sprintf("member %s already holds a reservation for session %s", e.MemberID, e.SessionID)
	}
	return fmt.Sprintf("member %s is already on the waitlist for session %s", e.MemberID, e.SessionID)
}

func (e *AlreadyWaitlistedError) Unwrap() error { return ErrAlreadyWaitlisted }

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// =============================================================================
// ERROR CODES
// =============================================================================

// Code is the stable, machine-readable name of a failure.
type Code string

const (
	CodeNotFound           Code = "NotFound"
	CodeForbidden          Code = "Forbidden"
	CodeAlreadyBooked      Code = "AlreadyBooked"
	CodeInsufficientCredit Code = "InsufficientCredit"
	CodeCapacityFull       Code = "CapacityFull"
	CodeAlreadyCancelled   Code = "AlreadyCancelled"
	CodeNotCancellable     Code = "NotCancellable"
	CodeSessionNotFull     Code = "SessionNotFull"
	CodeAlreadyWaitlisted  Code = "AlreadyWaitlisted"
	CodeSessionClosed      Code = "SessionClosed"
	CodeInvalidInput       Code = "InvalidInput"
	CodeInternal           Code = "Internal"

	// CodeOK labels successful outcomes in metrics.
	CodeOK Code = "OK"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrNotFound, CodeNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrAlreadyBooked, CodeAlreadyBooked},
	{ErrInsufficientCredit, CodeInsufficientCredit},
	{ErrCapacityFull, CodeCapacityFull},
	{ErrAlreadyCancelled, CodeAlreadyCancelled},
	{ErrNotCancellable, CodeNotCancellable},
	{ErrSessionNotFull, CodeSessionNotFull},
	{ErrAlreadyWaitlisted, CodeAlreadyWaitlisted},
	{ErrSessionClosed, CodeSessionClosed},
	{ErrInvalidInput, CodeInvalidInput},
}

// CodeOf returns the code for err, or CodeInternal for unknown errors.
// A nil error is CodeOK.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request rather than
// the system.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeOK, CodeInternal, CodeNotFound:
		return false
	}
	return true
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// unpromotable reports whether a waitlist head failed for a reason tied to
// that member, so the entry should be discarded and the next one tried.
func unpromotable(err error) bool {
	return errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrAlreadyBooked) ||
		errors.Is(err, ErrSessionClosed)
}
