package booking_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/warp/class-booking/booking"
	"github.com/warp/class-booking/booking/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

const tenant = booking.TenantID("studio-1")

var (
	staff = booking.Caller{TenantID: tenant, MemberID: "coach", Role: booking.RoleTrainer}
	t0    = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

func member(id string) booking.Caller {
	return booking.Caller{TenantID: tenant, MemberID: booking.MemberID(id), Role: booking.RoleMember}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []booking.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n booking.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) all() []booking.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]booking.Notification(nil), r.notes...)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  booking.TxStore
	engine *booking.Engine
	notes  *recordingNotifier

	mu  sync.Mutex
	now time.Time

	yoga booking.ClassTypeID
	pack booking.PackageID
}

func newFixture(t *testing.T, opts ...booking.Option) *fixture {
	return newFixtureWithStore(t, store.NewMemory(), opts...)
}

func newFixtureWithStore(t *testing.T, s booking.TxStore, opts ...booking.Option) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), store: s, now: t0, notes: &recordingNotifier{}}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	opts = append([]booking.Option{
		booking.WithClock(f.clock),
		booking.WithNotifier(f.notes),
		booking.WithLogger(quiet),
	}, opts...)
	f.engine = booking.NewEngine(s, opts...)

	f.yoga = f.classType("Yoga")
	f.pack = f.packageFor(30, 10, f.yoga)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) tx(fn func(s booking.Store) error) {
	f.t.Helper()
	require.NoError(f.t, f.store.WithTx(f.ctx, fn))
}

func (f *fixture) classType(name string) booking.ClassTypeID {
	ct := booking.ClassType{ID: booking.ClassTypeID(booking.NewID()), TenantID: tenant, Name: name, CreatedAt: t0}
	f.tx(func(s booking.Store) error { return s.SaveClassType(f.ctx, ct) })
	return ct.ID
}

func (f *fixture) packageFor(days, credits int, allowed ...booking.ClassTypeID) booking.PackageID {
	p := booking.Package{
		ID:                  booking.PackageID(booking.NewID()),
		TenantID:            tenant,
		Name:                "Pack",
		Price:               decimal.NewFromInt(100),
		ValidityDays:        days,
		CreditCount:         credits,
		AllowedClassTypeIDs: allowed,
		CreatedAt:           t0,
	}
	f.tx(func(s booking.Store) error { return s.SavePackage(f.ctx, p) })
	return p.ID
}

// grant gives the member a credit of n units from pkg expiring after ttl.
func (f *fixture) grant(m booking.Caller, pkg booking.PackageID, n int, ttl time.Duration) booking.CreditID {
	now := f.clock()
	c := booking.Credit{
		ID:        booking.CreditID(booking.NewID()),
		TenantID:  m.TenantID,
		MemberID:  m.MemberID,
		PackageID: pkg,
		Remaining: n,
		ExpiresAt: now.Add(ttl),
		Status:    booking.CreditActive,
		CreatedAt: now,
	}
	f.tx(func(s booking.Store) error {
		if err := s.SaveCredit(f.ctx, c); err != nil {
			return err
		}
		return f.engine.Credits().Grant(f.ctx, s, c)
	})
	return c.ID
}

func (f *fixture) session(classType booking.ClassTypeID, capacity int, startsIn time.Duration) booking.SessionID {
	start := f.clock().Add(startsIn)
	cs := booking.ClassSession{
		ID:          booking.SessionID(booking.NewID()),
		TenantID:    tenant,
		ClassTypeID: classType,
		TrainerID:   staff.MemberID,
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Capacity:    capacity,
		CreatedAt:   f.clock(),
	}
	f.tx(func(s booking.Store) error { return s.SaveSession(f.ctx, cs) })
	return cs.ID
}

func (f *fixture) credit(id booking.CreditID) booking.Credit {
	f.t.Helper()
	var c *booking.Credit
	require.NoError(f.t, f.store.View(f.ctx, func(s booking.Store) error {
		var err error
		c, err = s.GetCredit(f.ctx, id)
		return err
	}))
	return *c
}

func (f *fixture) sessionState(id booking.SessionID) booking.ClassSession {
	f.t.Helper()
	var cs *booking.ClassSession
	require.NoError(f.t, f.store.View(f.ctx, func(s booking.Store) error {
		var err error
		cs, err = s.GetSession(f.ctx, id)
		return err
	}))
	return *cs
}

func (f *fixture) activeCount(id booking.SessionID) int {
	f.t.Helper()
	var n int
	require.NoError(f.t, f.store.View(f.ctx, func(s booking.Store) error {
		var err error
		n, err = s.CountActiveReservations(f.ctx, id)
		return err
	}))
	return n
}

// balanceFromHistory sums a credit's ledger entries.
func (f *fixture) balanceFromHistory(id booking.CreditID) int {
	f.t.Helper()
	entries, err := f.engine.Credits().History(f.ctx, tenant, id)
	require.NoError(f.t, err)
	sum := 0
	for _, e := range entries {
		sum += e.Delta
	}
	return sum
}
