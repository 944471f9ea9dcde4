/*
credits.go - Credit ledger

PURPOSE:
  Selects which credit pays for a booking, consumes and refunds single
  units, and sweeps expired credits. Every movement is recorded as a
  CreditEntry so a credit's balance can be explained from its history.

SELECTION ORDER:
  Among usable credits the one expiring first is spent, then the one with
  fewest remaining units, then the lowest ID. Members lose as little as
  possible to expiry and the choice is deterministic.

CONSUME / REFUND:
  Consume is a conditional decrement. If the chosen credit was drained by a
  concurrent booking it reports ErrCreditExhausted and nothing changes.
  Refund never resurrects an expired credit.

SEE ALSO:
  - engine.go: Calls Consume/Refund inside the booking transaction
  - store.go: DecrementCredit, IncrementCredit
*/
package booking

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// CreditLedger moves credit units. Methods taking a Store run inside the
// caller's unit of work.
type CreditLedger struct {
	store TxStore
	clock Clock
}

func NewCreditLedger(store TxStore, clock Clock) *CreditLedger {
	if clock == nil {
		clock = SystemClock
	}
	return &CreditLedger{store: store, clock: clock}
}

// FindUsableCredit picks the credit that should pay for classType.
func (l *CreditLedger) FindUsableCredit(ctx context.Context, s Store, tenant TenantID, member MemberID, classType ClassTypeID) (*Credit, error) {
	credits, err := s.CreditsByMember(ctx, tenant, member)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	usable := make([]Credit, 0, len(credits))
	for _, c := range credits {
		if c.Usable(classType, now) {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil, &InsufficientCreditError{MemberID: member, ClassTypeID: classType}
	}

	sortBySpendOrder(usable)
	return &usable[0], nil
}

func sortBySpendOrder(credits []Credit) {
	sort.Slice(credits, func(i, j int) bool {
		a, b := credits[i], credits[j]
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		if a.Remaining != b.Remaining {
			return a.Remaining < b.Remaining
		}
		return a.ID < b.ID
	})
}

// Consume takes one unit from the credit for reservation.
func (l *CreditLedger) Consume(ctx context.Context, s Store, credit CreditID, reservation ReservationID) error {
	now := l.clock()
	ok, err := s.DecrementCredit(ctx, credit, now)
	if err != nil {
		return fmt.Errorf("consume credit %s: %w", credit, err)
	}
	if !ok {
		return ErrCreditExhausted
	}
	return l.record(ctx, s, credit, reservation, EntryConsume, -1, now)
}

// Refund returns one unit to the credit for reservation.
func (l *CreditLedger) Refund(ctx context.Context, s Store, credit CreditID, reservation ReservationID) error {
	now := l.clock()
	ok, err := s.IncrementCredit(ctx, credit, now)
	if err != nil {
		return fmt.Errorf("refund credit %s: %w", credit, err)
	}
	if !ok {
		return fmt.Errorf("refund credit %s: %w", credit, ErrNotFound)
	}
	return l.record(ctx, s, credit, reservation, EntryRefund, +1, now)
}

// Forfeit records a late cancellation that kept the unit.
func (l *CreditLedger) Forfeit(ctx context.Context, s Store, credit CreditID, reservation ReservationID) error {
	return l.record(ctx, s, credit, reservation, EntryForfeit, 0, l.clock())
}

// Grant records the initial balance of a freshly sold credit.
func (l *CreditLedger) Grant(ctx context.Context, s Store, c Credit) error {
	return l.record(ctx, s, c.ID, "", EntryPurchase, c.Remaining, c.CreatedAt)
}

func (l *CreditLedger) record(ctx context.Context, s Store, credit CreditID, reservation ReservationID, kind CreditEntryKind, delta int, at time.Time) error {
	return s.AppendCreditEntry(ctx, CreditEntry{
		ID:            CreditEntryID(NewID()),
		CreditID:      credit,
		ReservationID: reservation,
		Kind:          kind,
		Delta:         delta,
		At:            at,
	})
}

// History returns a credit's ledger entries in order.
func (l *CreditLedger) History(ctx context.Context, tenant TenantID, credit CreditID) ([]CreditEntry, error) {
	var entries []CreditEntry
	err := l.store.View(ctx, func(s Store) error {
		c, err := s.GetCredit(ctx, credit)
		if err != nil {
			return err
		}
		if c.TenantID != tenant {
			return ErrNotFound
		}
		entries, err = s.CreditEntries(ctx, credit)
		return err
	})
	return entries, err
}

// Credits lists a member's credits, expired and depleted included.
func (l *CreditLedger) Credits(ctx context.Context, tenant TenantID, member MemberID) ([]Credit, error) {
	var credits []Credit
	err := l.store.View(ctx, func(s Store) error {
		var err error
		credits, err = s.CreditsByMember(ctx, tenant, member)
		return err
	})
	return credits, err
}

// ExpireCredits marks every active credit past its expiry as expired.
func (l *CreditLedger) ExpireCredits(ctx context.Context) (int, error) {
	var n int
	err := l.store.WithTx(ctx, func(s Store) error {
		var err error
		n, err = s.ExpireCredits(ctx, l.clock())
		return err
	})
	return n, err
}
