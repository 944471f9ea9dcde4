/*
engine.go - Booking, cancellation and check-in

PURPOSE:
  The Engine is the only writer of reservations. It composes the credit
  ledger, the capacity tracker and the waitlist so that a booking either
  commits all of its effects or none of them.

BOOKING FLOW (one unit of work):
  1. Load the session (tenant-checked, not started)
  2. Reject if the member already holds an active reservation
  3. Pick a usable credit            -> InsufficientCredit
  4. Take a seat                     -> CapacityFull
  5. Consume the credit; if it was drained concurrently, pick again once.
     A second failure releases the seat -> InsufficientCredit
  6. Insert the reservation and drop the member's own waitlist entry

  Credit is checked before capacity so a member without credit is told to
  buy a package rather than offered a waitlist spot.

CANCELLATION FLOW:
  One unit of work flips booked -> cancelled, frees the seat and refunds the
  credit. Once that commits, the waitlist is promoted in separate units.
  A second cancel finds status cancelled and refunds nothing.

LATE CANCELLATION:
  With a non-zero late-cancel window, a cancellation closer to the start
  than the window keeps the credit (Refunded=false).

NOTIFICATIONS:
  Sent after commit through a non-blocking Notifier. Never rolled back and
  never able to fail a booking.

SEE ALSO:
  - credits.go, capacity.go, waitlist.go
  - store.go: Conditional primitives
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxPromotionAttempts bounds how many waitlist heads one freed seat
// may try before giving up.
const DefaultMaxPromotionAttempts = 50

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    TxStore
	credits  *CreditLedger
	capacity *CapacityTracker
	waitlist *WaitlistManager

	notifier Notifier
	observer Observer
	log      logrus.FieldLogger
	clock    Clock

	lateCancelWindow     time.Duration
	maxPromotionAttempts int
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l.WithField("component", "booking") }
}

// WithLateCancelWindow disables refunds for cancellations made less than d
// before the session starts. Zero means every cancellation is refunded.
func WithLateCancelWindow(d time.Duration) Option {
	return func(e *Engine) { e.lateCancelWindow = d }
}

func WithMaxPromotionAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPromotionAttempts = n
		}
	}
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:                store,
		notifier:             nopNotifier{},
		observer:             nopObserver{},
		log:                  logrus.StandardLogger().WithField("component", "booking"),
		clock:                SystemClock,
		maxPromotionAttempts: DefaultMaxPromotionAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.credits = NewCreditLedger(store, e.clock)
	e.capacity = NewCapacityTracker(store)
	e.waitlist = &WaitlistManager{engine: e}
	return e
}

func (e *Engine) Credits() *CreditLedger     { return e.credits }
func (e *Engine) Capacity() *CapacityTracker { return e.capacity }
func (e *Engine) Waitlist() *WaitlistManager { return e.waitlist }
func (e *Engine) Now() time.Time             { return e.clock() }
func (e *Engine) Logger() logrus.FieldLogger { return e.log }

// =============================================================================
// BOOK
// =============================================================================

// Book reserves one seat in session for the caller, paying with one credit.
func (e *Engine) Book(ctx context.Context, caller Caller, session SessionID) (*Reservation, error) {
	var (
		res  *Reservation
		note Notification
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		res, note, err = e.bookTx(ctx, s, caller.TenantID, caller.MemberID, session)
		return err
	})
	e.observer.BookingAttempt(CodeOf(err))

	log := e.log.WithFields(logrus.Fields{
		"tenant_id":  caller.TenantID,
		"member_id":  caller.MemberID,
		"session_id": session,
	})
	if err != nil {
		if IsClientError(err) || IsNotFound(err) {
			log.WithField("reason", CodeOf(err)).Info("booking rejected")
		} else {
			log.WithError(err).Error("booking failed")
		}
		return nil, err
	}

	log.WithField("reservation_id", res.ID).Info("booking confirmed")
	e.notifier.Notify(context.WithoutCancel(ctx), note)
	return res, nil
}

// bookTx runs the booking flow inside s. Both Book and waitlist promotion
// use it.
func (e *Engine) bookTx(ctx context.Context, s Store, tenant TenantID, member MemberID, id SessionID) (*Reservation, Notification, error) {
	session, err := e.loadSession(ctx, s, tenant, id)
	if err != nil {
		return nil, Notification{}, err
	}
	now := e.clock()
	if session.Started(now) {
		return nil, Notification{}, ErrSessionClosed
	}

	existing, err := s.ActiveReservation(ctx, id, member)
	if err != nil {
		return nil, Notification{}, err
	}
	if existing != nil {
		return nil, Notification{}, ErrAlreadyBooked
	}

	credit, err := e.credits.FindUsableCredit(ctx, s, tenant, member, session.ClassTypeID)
	if err != nil {
		return nil, Notification{}, err
	}

	if err := e.capacity.TryReserveSeat(ctx, s, session); err != nil {
		return nil, Notification{}, err
	}

	resID := ReservationID(NewID())
	creditID, err := e.consume(ctx, s, tenant, member, session.ClassTypeID, credit, resID)
	if err != nil {
		if rerr := e.capacity.ReleaseSeat(ctx, s, id); rerr != nil {
			return nil, Notification{}, errors.Join(err, rerr)
		}
		return nil, Notification{}, err
	}

	res := Reservation{
		ID:        resID,
		TenantID:  tenant,
		SessionID: id,
		MemberID:  member,
		CreditID:  creditID,
		Status:    ReservationBooked,
		CreatedAt: now,
	}
	if err := s.InsertReservation(ctx, res); err != nil {
		return nil, Notification{}, err
	}

	entry, err := s.WaitlistEntryFor(ctx, id, member)
	if err != nil {
		return nil, Notification{}, err
	}
	if entry != nil {
		if _, err := s.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
			return nil, Notification{}, err
		}
	}

	note := Notification{
		Kind:          NotifyBooked,
		TenantID:      tenant,
		MemberID:      member,
		SessionID:     id,
		ReservationID: resID,
		StartTime:     session.StartTime,
	}
	if ct, err := s.GetClassType(ctx, session.ClassTypeID); err == nil {
		note.ClassName = ct.Name
	} else if !errors.Is(err, ErrNotFound) {
		return nil, Notification{}, err
	}
	return &res, note, nil
}

// consume spends one unit of credit, retrying once with a freshly chosen
// credit when the first was drained by a concurrent booking.
func (e *Engine) consume(ctx context.Context, s Store, tenant TenantID, member MemberID, classType ClassTypeID, credit *Credit, res ReservationID) (CreditID, error) {
	err := e.credits.Consume(ctx, s, credit.ID, res)
	if !errors.Is(err, ErrCreditExhausted) {
		return credit.ID, err
	}

	retry, err := e.credits.FindUsableCredit(ctx, s, tenant, member, classType)
	if err != nil {
		return "", err
	}
	if err := e.credits.Consume(ctx, s, retry.ID, res); err != nil {
		if errors.Is(err, ErrCreditExhausted) {
			return "", &InsufficientCreditError{MemberID: member, ClassTypeID: classType}
		}
		return "", err
	}
	return retry.ID, nil
}

func (e *Engine) loadSession(ctx context.Context, s Store, tenant TenantID, id SessionID) (*ClassSession, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.TenantID != tenant {
		return nil, ErrNotFound
	}
	return session, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelResult describes a committed cancellation.
type CancelResult struct {
	Reservation Reservation
	Refunded    bool
	Message     string
	// Promoted is the waitlisted member's new reservation, if the freed seat
	// was taken.
	Promoted *Reservation
}

// Cancel cancels a reservation owned by the caller. Staff may cancel any
// reservation in their tenant.
func (e *Engine) Cancel(ctx context.Context, caller Caller, id ReservationID) (*CancelResult, error) {
	var result CancelResult
	err := e.store.WithTx(ctx, func(s Store) error {
		res, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.TenantID != caller.TenantID {
			return ErrNotFound
		}
		if res.MemberID != caller.MemberID && !caller.Role.IsStaff() {
			return ErrForbidden
		}
		switch res.Status {
		case ReservationCancelled:
			return ErrAlreadyCancelled
		case ReservationCheckedIn:
			return ErrNotCancellable
		}

		session, err := s.GetSession(ctx, res.SessionID)
		if err != nil {
			return err
		}
		now := e.clock()
		refund := !e.isLateCancel(session, now)

		ok, err := s.TransitionReservation(ctx, id, ReservationBooked, ReservationCancelled, now, refund)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyCancelled
		}
		if err := e.capacity.ReleaseSeat(ctx, s, res.SessionID); err != nil {
			return err
		}
		if refund {
			err = e.credits.Refund(ctx, s, res.CreditID, id)
		} else {
			err = e.credits.Forfeit(ctx, s, res.CreditID, id)
		}
		if err != nil {
			return err
		}

		res.Status = ReservationCancelled
		res.Refunded = refund
		res.CancelledAt = &now
		result = CancelResult{Reservation: *res, Refunded: refund, Message: cancelMessage(refund)}
		return nil
	})

	log := e.log.WithFields(logrus.Fields{
		"tenant_id":      caller.TenantID,
		"reservation_id": id,
	})
	if err != nil {
		if IsClientError(err) || IsNotFound(err) {
			log.WithField("reason", CodeOf(err)).Info("cancellation rejected")
		} else {
			log.WithError(err).Error("cancellation failed")
		}
		return nil, err
	}
	e.observer.Cancellation(result.Refunded)
	log.WithField("refunded", result.Refunded).Info("reservation cancelled")

	// The seat is already released; promotion must not depend on the caller
	// staying connected.
	promoted, err := e.waitlist.PromoteNext(context.WithoutCancel(ctx), result.Reservation.SessionID)
	if err != nil {
		log.WithError(err).Error("waitlist promotion failed after cancellation")
	}
	result.Promoted = promoted
	return &result, nil
}

func (e *Engine) isLateCancel(session *ClassSession, now time.Time) bool {
	return e.lateCancelWindow > 0 && session.StartTime.Sub(now) < e.lateCancelWindow
}

func cancelMessage(refunded bool) string {
	if refunded {
		return "Reservation cancelled, 1 credit refunded"
	}
	return "Reservation cancelled, late cancellation: credit not refunded"
}

// =============================================================================
// CHECK-IN
// =============================================================================

// CheckIn marks a booked reservation as attended. Staff only. Checking in
// twice is a no-op.
func (e *Engine) CheckIn(ctx context.Context, caller Caller, id ReservationID) (*Reservation, error) {
	if !caller.Role.IsStaff() {
		return nil, ErrForbidden
	}
	var out *Reservation
	err := e.store.WithTx(ctx, func(s Store) error {
		res, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.TenantID != caller.TenantID {
			return ErrNotFound
		}
		switch res.Status {
		case ReservationCheckedIn:
			out = res
			return nil
		case ReservationCancelled:
			return ErrAlreadyCancelled
		}
		ok, err := s.TransitionReservation(ctx, id, ReservationBooked, ReservationCheckedIn, e.clock(), false)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("check in %s: %w", id, ErrAlreadyCancelled)
		}
		res.Status = ReservationCheckedIn
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.WithField("reservation_id", id).Info("member checked in")
	return out, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Reservations lists a member's reservations. Members may only list their
// own.
func (e *Engine) Reservations(ctx context.Context, caller Caller, member MemberID) ([]Reservation, error) {
	if member != caller.MemberID && !caller.Role.IsStaff() {
		return nil, ErrForbidden
	}
	var out []Reservation
	err := e.store.View(ctx, func(s Store) error {
		var err error
		out, err = s.ReservationsByMember(ctx, caller.TenantID, member)
		return err
	})
	return out, err
}

// Reservation returns one reservation visible to the caller.
func (e *Engine) Reservation(ctx context.Context, caller Caller, id ReservationID) (*Reservation, error) {
	var out *Reservation
	err := e.store.View(ctx, func(s Store) error {
		res, err := s.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.TenantID != caller.TenantID {
			return ErrNotFound
		}
		if res.MemberID != caller.MemberID && !caller.Role.IsStaff() {
			return ErrForbidden
		}
		out = res
		return nil
	})
	return out, err
}
