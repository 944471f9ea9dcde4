package booking

import (
	"context"
	"fmt"
)

// CapacityTracker guards a session's seat count. Seats are only taken
// through the store's conditional increment, so BookedCount never exceeds
// Capacity regardless of how many bookings race.
type CapacityTracker struct {
	store TxStore
}

func NewCapacityTracker(store TxStore) *CapacityTracker {
	return &CapacityTracker{store: store}
}

// TryReserveSeat takes one seat or returns a CapacityFullError.
func (c *CapacityTracker) TryReserveSeat(ctx context.Context, s Store, session *ClassSession) error {
	ok, err := s.IncrementBooked(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("reserve seat in %s: %w", session.ID, err)
	}
	if !ok {
		return &CapacityFullError{SessionID: session.ID, Capacity: session.Capacity}
	}
	session.BookedCount++
	return nil
}

// ReleaseSeat frees one seat. Releasing an empty session is a no-op.
func (c *CapacityTracker) ReleaseSeat(ctx context.Context, s Store, session SessionID) error {
	if _, err := s.DecrementBooked(ctx, session); err != nil {
		return fmt.Errorf("release seat in %s: %w", session, err)
	}
	return nil
}

// Availability is a point-in-time view of a session's seats.
type Availability struct {
	Session        ClassSession
	Capacity       int
	Booked         int
	Available      int
	WaitlistLength int
}

// Availability reads seat counts and waitlist length for a session.
func (c *CapacityTracker) Availability(ctx context.Context, tenant TenantID, id SessionID) (*Availability, error) {
	var a *Availability
	err := c.store.View(ctx, func(s Store) error {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if session.TenantID != tenant {
			return ErrNotFound
		}
		queue, err := s.Waitlist(ctx, id)
		if err != nil {
			return err
		}
		a = &Availability{
			Session:        *session,
			Capacity:       session.Capacity,
			Booked:         session.BookedCount,
			Available:      session.Available(),
			WaitlistLength: len(queue),
		}
		return nil
	})
	return a, err
}
