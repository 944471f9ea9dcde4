package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/class-booking/booking"
)

var base = time.Date(2026, 4, 6, 7, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed creates a class type, a package allowing it, a session and a credit.
func seed(t *testing.T, s *Store, capacity int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		require.NoError(t, st.SaveClassType(ctx, booking.ClassType{ID: "yoga", TenantID: "t1", Name: "Yoga", CreatedAt: base}))
		require.NoError(t, st.SavePackage(ctx, booking.Package{
			ID: "p1", TenantID: "t1", Name: "10-Pack", Price: decimal.RequireFromString("149.50"),
			ValidityDays: 30, CreditCount: 10, AllowedClassTypeIDs: []booking.ClassTypeID{"yoga"}, CreatedAt: base,
		}))
		require.NoError(t, st.SaveSession(ctx, booking.ClassSession{
			ID: "s1", TenantID: "t1", ClassTypeID: "yoga", TrainerID: "coach",
			StartTime: base.Add(24 * time.Hour), EndTime: base.Add(25 * time.Hour), Capacity: capacity, CreatedAt: base,
		}))
		return st.SaveCredit(ctx, booking.Credit{
			ID: "c1", TenantID: "t1", MemberID: "alice", PackageID: "p1", Remaining: 2,
			ExpiresAt: base.Add(48 * time.Hour), Status: booking.CreditActive, CreatedAt: base,
		})
	}))
}

func TestPackage_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	require.NoError(t, s.View(ctx, func(st booking.Store) error {
		p, err := st.GetPackage(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("149.50").Equal(p.Price))
		assert.Equal(t, []booking.ClassTypeID{"yoga"}, p.AllowedClassTypeIDs)
		assert.Equal(t, base, p.CreatedAt)

		list, err := st.ListPackages(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = st.GetPackage(ctx, "missing")
		assert.ErrorIs(t, err, booking.ErrNotFound)
		return nil
	}))
}

func TestCredit_LoadsAllowedClassTypesFromPackage(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	require.NoError(t, s.View(ctx, func(st booking.Store) error {
		credits, err := st.CreditsByMember(ctx, "t1", "alice")
		require.NoError(t, err)
		require.Len(t, credits, 1)
		assert.True(t, credits[0].Allows("yoga"))
		assert.True(t, credits[0].Usable("yoga", base))
		assert.Equal(t, base.Add(48*time.Hour), credits[0].ExpiresAt)
		return nil
	}))
}

func TestIncrementBooked_StopsAtCapacity(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 2)
	ctx := context.Background()

	var results []bool
	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		for i := 0; i < 3; i++ {
			ok, err := st.IncrementBooked(ctx, "s1")
			if err != nil {
				return err
			}
			results = append(results, ok)
		}
		return nil
	}))
	assert.Equal(t, []bool{true, true, false}, results)

	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		for i := 0; i < 3; i++ {
			if _, err := st.DecrementBooked(ctx, "s1"); err != nil {
				return err
			}
		}
		cs, err := st.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 0, cs.BookedCount)
		return nil
	}))
}

func TestDecrementCredit_DepletesThenRefuses(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		for _, want := range []bool{true, true, false} {
			ok, err := st.DecrementCredit(ctx, "c1", base)
			require.NoError(t, err)
			assert.Equal(t, want, ok)
		}
		c, err := st.GetCredit(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 0, c.Remaining)
		assert.Equal(t, booking.CreditDepleted, c.Status)

		ok, err := st.IncrementCredit(ctx, "c1", base)
		require.NoError(t, err)
		require.True(t, ok)
		c, err = st.GetCredit(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, booking.CreditActive, c.Status)
		return nil
	}))
}

func TestExpireCredits(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		n, err := st.ExpireCredits(ctx, base.Add(47*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = st.ExpireCredits(ctx, base.Add(48*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err := st.DecrementCredit(ctx, "c1", base)
		require.NoError(t, err)
		assert.False(t, ok, "expired credits cannot be spent")

		ok, err = st.IncrementCredit(ctx, "c1", base)
		require.NoError(t, err)
		require.True(t, ok)
		c, err := st.GetCredit(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, booking.CreditExpired, c.Status)
		assert.Equal(t, 3, c.Remaining)
		return nil
	}))
}

func TestCreditEntries_InAppendOrder(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	kinds := []booking.CreditEntryKind{booking.EntryPurchase, booking.EntryConsume, booking.EntryRefund}
	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		for i, kind := range kinds {
			if err := st.AppendCreditEntry(ctx, booking.CreditEntry{
				ID: booking.CreditEntryID(booking.NewID()), CreditID: "c1", Kind: kind, Delta: i, At: base,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(st booking.Store) error {
		entries, err := st.CreditEntries(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, e := range entries {
			assert.Equal(t, kinds[i], e.Kind)
		}
		return nil
	}))
}

func TestReservations_OneActivePerMember(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 5)
	ctx := context.Background()
	res := booking.Reservation{
		ID: "r1", TenantID: "t1", SessionID: "s1", MemberID: "alice", CreditID: "c1",
		Status: booking.ReservationBooked, CreatedAt: base,
	}

	err := s.WithTx(ctx, func(st booking.Store) error {
		require.NoError(t, st.InsertReservation(ctx, res))
		dup := res
		dup.ID = "r2"
		return st.InsertReservation(ctx, dup)
	})
	assert.ErrorIs(t, err, booking.ErrAlreadyBooked)

	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		require.NoError(t, st.InsertReservation(ctx, res))

		active, err := st.ActiveReservation(ctx, "s1", "alice")
		require.NoError(t, err)
		require.NotNil(t, active)

		ok, err := st.TransitionReservation(ctx, "r1", booking.ReservationBooked, booking.ReservationCancelled, base, true)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = st.TransitionReservation(ctx, "r1", booking.ReservationBooked, booking.ReservationCancelled, base, true)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := st.GetReservation(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, booking.ReservationCancelled, got.Status)
		assert.True(t, got.Refunded)
		require.NotNil(t, got.CancelledAt)
		assert.Equal(t, base, *got.CancelledAt)

		active, err = st.ActiveReservation(ctx, "s1", "alice")
		require.NoError(t, err)
		assert.Nil(t, active)

		// The cancelled row no longer blocks a new booking
		again := res
		again.ID = "r3"
		return st.InsertReservation(ctx, again)
	}))
}

func TestWaitlist_FIFOAndStalePurge(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		for _, m := range []booking.MemberID{"carol", "bob", "dave"} {
			if err := st.InsertWaitlistEntry(ctx, booking.WaitlistEntry{
				ID: booking.WaitlistEntryID("w-" + m), TenantID: "t1", SessionID: "s1", MemberID: m, JoinedAt: base,
			}); err != nil {
				return err
			}
		}
		err := st.InsertWaitlistEntry(ctx, booking.WaitlistEntry{
			ID: "w-again", TenantID: "t1", SessionID: "s1", MemberID: "bob", JoinedAt: base,
		})
		assert.ErrorIs(t, err, booking.ErrAlreadyWaitlisted)
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(st booking.Store) error {
		queue, err := st.Waitlist(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, queue, 3)
		assert.Equal(t, booking.MemberID("carol"), queue[0].MemberID)
		assert.Equal(t, booking.MemberID("bob"), queue[1].MemberID)

		entry, err := st.WaitlistEntryFor(ctx, "s1", "nobody")
		require.NoError(t, err)
		assert.Nil(t, entry)

		n, err := st.DeleteStaleWaitlistEntries(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		n, err = st.DeleteStaleWaitlistEntries(ctx, base.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		return nil
	}))
}

func TestListSessions_HalfOpenWindow(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()
	start := base.Add(24 * time.Hour)

	require.NoError(t, s.View(ctx, func(st booking.Store) error {
		in, err := st.ListSessions(ctx, "t1", start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, in, 1)

		out, err := st.ListSessions(ctx, "t1", base, start)
		require.NoError(t, err)
		assert.Empty(t, out)

		other, err := st.ListSessions(ctx, "t2", base, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, other)
		return nil
	}))
}

func TestWithTx_RollsBack(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	err := s.WithTx(ctx, func(st booking.Store) error {
		if _, err := st.IncrementBooked(ctx, "s1"); err != nil {
			return err
		}
		return booking.ErrCapacityFull
	})
	assert.ErrorIs(t, err, booking.ErrCapacityFull)

	require.NoError(t, s.View(ctx, func(st booking.Store) error {
		cs, err := st.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 0, cs.BookedCount)
		return nil
	}))
}
