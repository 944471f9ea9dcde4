/*
types.go - Core domain types for the class booking engine

PURPOSE:
  Defines the entities every other file in this package operates on:
  class types, scheduled sessions, packages, member credits, reservations
  and waitlist entries. All entities are tenant-scoped.

KEY CONCEPTS:
  ClassSession: A scheduled occurrence with a fixed capacity. BookedCount
                always equals the number of booked or checked_in
                reservations for the session.

  Credit:       A prepaid allowance created when a package is sold to a
                member. Remaining is decremented on booking and incremented
                on refund. Credits are never deleted.

  Reservation:  A member's claim on one seat, paid for by exactly one credit.
                booked -> checked_in, booked -> cancelled. Nothing leaves
                cancelled.

  WaitlistEntry: FIFO queue position for a full session.

SEE ALSO:
  - errors.go: Failure taxonomy
  - store.go: Persistence contract
  - engine.go: Booking and cancellation
*/
package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	TenantID        string
	MemberID        string
	ClassTypeID     string
	SessionID       string
	PackageID       string
	CreditID        string
	ReservationID   string
	WaitlistEntryID string
	CreditEntryID   string
)

// NewID returns a fresh random identifier.
func NewID() string { return uuid.NewString() }

// Clock returns the current time. Engines take one so tests can pin "now".
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// =============================================================================
// CALLER
// =============================================================================

// Role is the authenticated principal's role within a tenant.
type Role string

const (
	RoleMember  Role = "member"
	RoleTrainer Role = "trainer"
	RoleAdmin   Role = "admin"
	RoleOwner   Role = "owner"
)

// IsStaff reports whether the role may act on other members' behalf.
func (r Role) IsStaff() bool {
	switch r {
	case RoleTrainer, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// Caller identifies who is invoking an operation.
type Caller struct {
	TenantID TenantID
	MemberID MemberID
	Role     Role
}

// =============================================================================
// CATALOG
// =============================================================================

// ClassType is a kind of class offered by a studio, e.g. "Yoga".
type ClassType struct {
	ID        ClassTypeID
	TenantID  TenantID
	Name      string
	CreatedAt time.Time
}

// Package is a sellable bundle of credits.
type Package struct {
	ID                  PackageID
	TenantID            TenantID
	Name                string
	Price               decimal.Decimal
	ValidityDays        int
	CreditCount         int
	AllowedClassTypeIDs []ClassTypeID
	CreatedAt           time.Time
}

// =============================================================================
// SESSIONS
// =============================================================================

// ClassSession is one scheduled occurrence of a class type.
type ClassSession struct {
	ID          SessionID
	TenantID    TenantID
	ClassTypeID ClassTypeID
	TrainerID   MemberID
	StartTime   time.Time
	EndTime     time.Time
	Capacity    int
	BookedCount int
	CreatedAt   time.Time
}

// Full reports whether every seat is taken.
func (s ClassSession) Full() bool { return s.BookedCount >= s.Capacity }

// Available returns the number of free seats.
func (s ClassSession) Available() int {
	if s.BookedCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.BookedCount
}

// Started reports whether the session is no longer bookable at now.
func (s ClassSession) Started(now time.Time) bool { return !now.Before(s.StartTime) }

// =============================================================================
// CREDITS
// =============================================================================

type CreditStatus string

const (
	CreditActive   CreditStatus = "active"
	CreditDepleted CreditStatus = "depleted"
	CreditExpired  CreditStatus = "expired"
)

// Credit is a member's balance from one purchased package.
// AllowedClassTypeIDs is copied from the package when loaded.
type Credit struct {
	ID                  CreditID
	TenantID            TenantID
	MemberID            MemberID
	PackageID           PackageID
	Remaining           int
	ExpiresAt           time.Time
	Status              CreditStatus
	AllowedClassTypeIDs []ClassTypeID
	CreatedAt           time.Time
}

// Allows reports whether the credit may pay for the class type.
func (c Credit) Allows(classType ClassTypeID) bool {
	for _, id := range c.AllowedClassTypeIDs {
		if id == classType {
			return true
		}
	}
	return false
}

// Usable reports whether the credit can pay for one seat of classType at now.
// A credit whose expiry has passed is unusable even if the sweep has not yet
// marked it expired.
func (c Credit) Usable(classType ClassTypeID, now time.Time) bool {
	return c.Status == CreditActive &&
		c.Remaining > 0 &&
		now.Before(c.ExpiresAt) &&
		c.Allows(classType)
}

// CreditEntryKind classifies a credit ledger movement.
type CreditEntryKind string

const (
	EntryPurchase CreditEntryKind = "purchase"
	EntryConsume  CreditEntryKind = "consume"
	EntryRefund   CreditEntryKind = "refund"
	EntryForfeit  CreditEntryKind = "forfeit"
)

// CreditEntry is an append-only record of a change to a credit's balance.
// Replaying entries for a credit reproduces its Remaining.
type CreditEntry struct {
	ID            CreditEntryID
	CreditID      CreditID
	ReservationID ReservationID
	Kind          CreditEntryKind
	Delta         int
	At            time.Time
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationStatus string

const (
	ReservationBooked    ReservationStatus = "booked"
	ReservationCheckedIn ReservationStatus = "checked_in"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Active reports whether the reservation holds a seat.
func (s ReservationStatus) Active() bool {
	return s == ReservationBooked || s == ReservationCheckedIn
}

// Reservation is a member's booking of one seat in one session.
type Reservation struct {
	ID          ReservationID
	TenantID    TenantID
	SessionID   SessionID
	MemberID    MemberID
	CreditID    CreditID
	Status      ReservationStatus
	Refunded    bool
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// =============================================================================
// WAITLIST
// =============================================================================

// WaitlistEntry queues a member for a full session. Entries are served in
// JoinedAt order.
type WaitlistEntry struct {
	ID        WaitlistEntryID
	TenantID  TenantID
	SessionID SessionID
	MemberID  MemberID
	JoinedAt  time.Time
}
