/*
waitlist.go - FIFO waitlist and promotion

PURPOSE:
  Members join the waitlist of a full session. When a seat frees up the
  head of the queue is booked through the same flow as a direct booking:
  their own credit is consumed and the seat taken atomically.

PROMOTION RULES:
  Each attempt is its own unit of work:
    - head booked              -> entry removed, member notified, stop
    - head has no usable credit,
      already booked, or the
      session closed           -> entry discarded, try the next head
    - seat already re-taken    -> entry kept, stop
  Attempts are bounded so one freed seat cannot scan an unbounded queue.

SEE ALSO:
  - engine.go: bookTx, Cancel
*/
package booking

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// WaitlistManager owns the per-session queues.
type WaitlistManager struct {
	engine *Engine
}

// =============================================================================
// MEMBER OPERATIONS
// =============================================================================

// Join queues the caller for a full session and returns the entry with its
// 1-based position.
func (w *WaitlistManager) Join(ctx context.Context, caller Caller, id SessionID) (*WaitlistEntry, int, error) {
	e := w.engine
	var (
		entry    WaitlistEntry
		position int
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		session, err := e.loadSession(ctx, s, caller.TenantID, id)
		if err != nil {
			return err
		}
		now := e.clock()
		if session.Started(now) {
			return ErrSessionClosed
		}

		res, err := s.ActiveReservation(ctx, id, caller.MemberID)
		if err != nil {
			return err
		}
		if res != nil {
			return &AlreadyWaitlistedError{SessionID: id, MemberID: caller.MemberID, HasReservation: true}
		}
		existing, err := s.WaitlistEntryFor(ctx, id, caller.MemberID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &AlreadyWaitlistedError{SessionID: id, MemberID: caller.MemberID}
		}
		if !session.Full() {
			return ErrSessionNotFull
		}

		entry = WaitlistEntry{
			ID:        WaitlistEntryID(NewID()),
			TenantID:  caller.TenantID,
			SessionID: id,
			MemberID:  caller.MemberID,
			JoinedAt:  now,
		}
		if err := s.InsertWaitlistEntry(ctx, entry); err != nil {
			return err
		}
		queue, err := s.Waitlist(ctx, id)
		if err != nil {
			return err
		}
		position = positionOf(queue, caller.MemberID)
		return nil
	})
	e.observer.WaitlistJoin(CodeOf(err))
	if err != nil {
		return nil, 0, err
	}

	e.log.WithFields(logrus.Fields{
		"session_id": id,
		"member_id":  caller.MemberID,
		"position":   position,
	}).Info("joined waitlist")
	return &entry, position, nil
}

// Leave removes the caller from a session's waitlist.
func (w *WaitlistManager) Leave(ctx context.Context, caller Caller, id SessionID) error {
	e := w.engine
	return e.store.WithTx(ctx, func(s Store) error {
		if _, err := e.loadSession(ctx, s, caller.TenantID, id); err != nil {
			return err
		}
		entry, err := s.WaitlistEntryFor(ctx, id, caller.MemberID)
		if err != nil {
			return err
		}
		if entry == nil {
			return ErrNotFound
		}
		_, err = s.DeleteWaitlistEntry(ctx, entry.ID)
		return err
	})
}

// Position returns the caller's 1-based place in the queue.
func (w *WaitlistManager) Position(ctx context.Context, caller Caller, id SessionID) (int, error) {
	queue, err := w.List(ctx, caller.TenantID, id)
	if err != nil {
		return 0, err
	}
	if p := positionOf(queue, caller.MemberID); p > 0 {
		return p, nil
	}
	return 0, ErrNotFound
}

// List returns a session's queue in FIFO order.
func (w *WaitlistManager) List(ctx context.Context, tenant TenantID, id SessionID) ([]WaitlistEntry, error) {
	e := w.engine
	var queue []WaitlistEntry
	err := e.store.View(ctx, func(s Store) error {
		if _, err := e.loadSession(ctx, s, tenant, id); err != nil {
			return err
		}
		var err error
		queue, err = s.Waitlist(ctx, id)
		return err
	})
	return queue, err
}

func positionOf(queue []WaitlistEntry, member MemberID) int {
	for i, entry := range queue {
		if entry.MemberID == member {
			return i + 1
		}
	}
	return 0
}

// =============================================================================
// PROMOTION
// =============================================================================

// PromoteNext fills one freed seat from the head of the queue. It returns
// the new reservation, or nil if nobody could be promoted.
func (w *WaitlistManager) PromoteNext(ctx context.Context, id SessionID) (*Reservation, error) {
	e := w.engine
	log := e.log.WithField("session_id", id)

	for attempt := 0; attempt < e.maxPromotionAttempts; attempt++ {
		var (
			promoted *Reservation
			note     Notification
			head     *WaitlistEntry
			outcome  string
		)
		err := e.store.WithTx(ctx, func(s Store) error {
			promoted, head = nil, nil

			session, err := s.GetSession(ctx, id)
			if err != nil {
				return err
			}
			if session.Started(e.clock()) {
				outcome = PromotionClosed
				return nil
			}
			if session.Full() {
				outcome = PromotionBlocked
				return nil
			}
			queue, err := s.Waitlist(ctx, id)
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				outcome = PromotionEmpty
				return nil
			}
			head = &queue[0]

			res, n, err := e.bookTx(ctx, s, head.TenantID, head.MemberID, id)
			switch {
			case err == nil:
				promoted, note, outcome = res, n, PromotionPromoted
				note.Kind = NotifyPromoted
				return nil
			case errors.Is(err, ErrCapacityFull):
				outcome = PromotionBlocked
				return nil
			case unpromotable(err):
				if _, err := s.DeleteWaitlistEntry(ctx, head.ID); err != nil {
					return err
				}
				outcome = PromotionDiscarded
				return nil
			default:
				return err
			}
		})
		if err != nil {
			return nil, err
		}
		e.observer.Promotion(outcome)

		switch outcome {
		case PromotionPromoted:
			log.WithFields(logrus.Fields{
				"member_id":      promoted.MemberID,
				"reservation_id": promoted.ID,
			}).Info("promoted from waitlist")
			e.notifier.Notify(context.WithoutCancel(ctx), note)
			return promoted, nil
		case PromotionDiscarded:
			log.WithField("member_id", head.MemberID).Info("waitlist entry discarded, member cannot be booked")
		default:
			return nil, nil
		}
	}

	log.WithField("attempts", e.maxPromotionAttempts).Warn("waitlist promotion gave up")
	return nil, nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// PurgeStale removes entries for sessions that have already started.
func (w *WaitlistManager) PurgeStale(ctx context.Context) (int, error) {
	e := w.engine
	var n int
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		n, err = s.DeleteStaleWaitlistEntries(ctx, e.clock())
		return err
	})
	return n, err
}
