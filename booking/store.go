/*
store.go - Persistence contract for the booking engine

PURPOSE:
  Defines the interface between booking logic and the database. All access
  goes through TxStore: WithTx for read-modify-write units, View for reads.
  Implementations differ in how they isolate a unit (global lock, BEGIN
  IMMEDIATE, row locks) but expose the same conditional primitives.

CONDITIONAL PRIMITIVES:
  IncrementBooked and DecrementCredit are single conditional updates
  ("only if a seat is free", "only if remaining > 0"). They report whether
  they applied. The engine never reads a counter and writes it back.

APPEND-ONLY CONTRACT:
  Credit entries are append-only. Reservations move between statuses but
  are never deleted. Waitlist entries are deleted when served or left.

NOT-FOUND CONVENTION:
  Get* methods return ErrNotFound. Lookups that test for presence
  (ActiveReservation, WaitlistEntryFor) return (nil, nil).

IMPLEMENTATIONS:
  - booking/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - engine.go: Uses these primitives inside WithTx
*/
package booking

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Operations available inside a unit of work
// =============================================================================

// Store is the view of the database passed to WithTx and View callbacks.
// It must not be retained after the callback returns.
type Store interface {
	CatalogStore
	SessionStore
	CreditStore
	ReservationStore
	WaitlistStore
}

type CatalogStore interface {
	SaveClassType(ctx context.Context, ct ClassType) error
	GetClassType(ctx context.Context, id ClassTypeID) (*ClassType, error)
	SavePackage(ctx context.Context, p Package) error
	GetPackage(ctx context.Context, id PackageID) (*Package, error)
	ListPackages(ctx context.Context, tenant TenantID) ([]Package, error)
}

type SessionStore interface {
	SaveSession(ctx context.Context, s ClassSession) error
	GetSession(ctx context.Context, id SessionID) (*ClassSession, error)
	// ListSessions returns sessions starting in [from, to), ordered by start.
	ListSessions(ctx context.Context, tenant TenantID, from, to time.Time) ([]ClassSession, error)

	// IncrementBooked takes one seat if BookedCount < Capacity.
	IncrementBooked(ctx context.Context, id SessionID) (bool, error)
	// DecrementBooked frees one seat if BookedCount > 0.
	DecrementBooked(ctx context.Context, id SessionID) (bool, error)
}

type CreditStore interface {
	SaveCredit(ctx context.Context, c Credit) error
	GetCredit(ctx context.Context, id CreditID) (*Credit, error)
	CreditsByMember(ctx context.Context, tenant TenantID, member MemberID) ([]Credit, error)

	// DecrementCredit consumes one unit if the credit is active, unexpired at
	// now and has remaining > 0. Reaching zero moves it to depleted.
	DecrementCredit(ctx context.Context, id CreditID, now time.Time) (bool, error)
	// IncrementCredit returns one unit. A depleted credit becomes active again
	// unless it has expired by now. Returns false if the credit is unknown.
	IncrementCredit(ctx context.Context, id CreditID, now time.Time) (bool, error)
	// ExpireCredits marks every active credit whose expiry is before now.
	ExpireCredits(ctx context.Context, now time.Time) (int, error)

	AppendCreditEntry(ctx context.Context, e CreditEntry) error
	CreditEntries(ctx context.Context, id CreditID) ([]CreditEntry, error)
}

type ReservationStore interface {
	// InsertReservation returns ErrAlreadyBooked if the member already holds
	// an active reservation for the session.
	InsertReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)
	ActiveReservation(ctx context.Context, session SessionID, member MemberID) (*Reservation, error)
	ReservationsByMember(ctx context.Context, tenant TenantID, member MemberID) ([]Reservation, error)
	CountActiveReservations(ctx context.Context, session SessionID) (int, error)

	// TransitionReservation moves a reservation from one status to another
	// only if it is currently in from. Cancellation stamps at and refunded.
	TransitionReservation(ctx context.Context, id ReservationID, from, to ReservationStatus, at time.Time, refunded bool) (bool, error)
}

type WaitlistStore interface {
	// InsertWaitlistEntry returns ErrAlreadyWaitlisted on a duplicate
	// (session, member) pair.
	InsertWaitlistEntry(ctx context.Context, e WaitlistEntry) error
	WaitlistEntryFor(ctx context.Context, session SessionID, member MemberID) (*WaitlistEntry, error)
	// Waitlist returns a session's entries in FIFO order.
	Waitlist(ctx context.Context, session SessionID) ([]WaitlistEntry, error)
	DeleteWaitlistEntry(ctx context.Context, id WaitlistEntryID) (bool, error)
	// DeleteStaleWaitlistEntries removes entries for sessions that started
	// before now.
	DeleteStaleWaitlistEntries(ctx context.Context, now time.Time) (int, error)
}

// =============================================================================
// TX STORE - Unit-of-work boundary
// =============================================================================

// TxStore runs callbacks against a consistent view of the database.
type TxStore interface {
	// WithTx runs fn in one isolated unit of work. A non-nil error from fn
	// rolls back every write fn made.
	WithTx(ctx context.Context, fn func(Store) error) error

	// View runs fn for reads only.
	View(ctx context.Context, fn func(Store) error) error
}
