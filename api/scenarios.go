/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the caller's tenant with
	realistic studio data. Each scenario creates class types, packages,
	sessions and members and drives them through the booking engine, so
	the seeded state is exactly what real requests would produce.

AVAILABLE SCENARIOS:

	busy-studio:      A full session with a waitlist behind it
	mixed-packages:   A class-restricted package next to an all-access one
	expiring-credits: Two credits where the sooner-expiring one is spent first

HOW SCENARIOS WORK:
 1. Create class types and packages as the calling staff member
 2. Sell packages to demo members
 3. Schedule sessions starting tomorrow
 4. Book and queue as the demo members

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-studio"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h, caller)
 3. Add it to the 'loaders' map

NOTE:

	Scenarios add data, they never delete it. Loading one twice creates
	a second copy with new IDs.

SEE ALSO:
  - handlers.go: Endpoints the seeded data can be explored with
  - catalog/catalog.go: Catalog operations used to seed
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/class-booking/booking"
	"github.com/warp/class-booking/catalog"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "busy-studio",
		Name:        "Busy Studio",
		Description: "Capacity-3 yoga session fully booked with two members waitlisted",
	},
	{
		ID:          "mixed-packages",
		Name:        "Mixed Packages",
		Description: "Yoga-only pack and all-access pack; spin bookings draw from all-access",
	},
	{
		ID:          "expiring-credits",
		Name:        "Expiring Credits",
		Description: "One member with a credit expiring tomorrow and a fresh 10-pack",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, staff booking.Caller) (*ScenarioResult, error)

var loaders = map[string]scenarioLoader{
	"busy-studio":      loadBusyStudioScenario,
	"mixed-packages":   loadMixedPackagesScenario,
	"expiring-credits": loadExpiringCreditsScenario,
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the caller's tenant. Staff only.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	if !c.Role.IsStaff() {
		h.writeDomainError(w, r, booking.ErrForbidden)
		return
	}
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", booking.CodeInvalidInput,
			fmt.Errorf("scenario %q does not exist", req.ScenarioID))
		return
	}

	result, err := load(r.Context(), h, c)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	result.ScenarioID = req.ScenarioID
	h.Log.WithField("scenario", req.ScenarioID).WithField("tenant_id", c.TenantID).Info("scenario loaded")
	writeJSON(w, http.StatusCreated, result)
}

// =============================================================================
// LOADERS
// =============================================================================

// seeder accumulates created IDs and stops at the first error.
type seeder struct {
	ctx    context.Context
	h      *Handler
	staff  booking.Caller
	result ScenarioResult
	err    error
}

func newSeeder(ctx context.Context, h *Handler, staff booking.Caller) *seeder {
	return &seeder{ctx: ctx, h: h, staff: staff}
}

func (s *seeder) classType(name string) booking.ClassTypeID {
	if s.err != nil {
		return ""
	}
	ct, err := s.h.Catalog.CreateClassType(s.ctx, s.staff, name)
	if err != nil {
		s.err = fmt.Errorf("create class type %s: %w", name, err)
		return ""
	}
	s.result.ClassTypeIDs = append(s.result.ClassTypeIDs, string(ct.ID))
	return ct.ID
}

func (s *seeder) pack(name, price string, days, credits int, allowed ...booking.ClassTypeID) booking.PackageID {
	if s.err != nil {
		return ""
	}
	p, err := s.h.Catalog.CreatePackage(s.ctx, s.staff, catalog.PackageInput{
		Name:                name,
		Price:               decimal.RequireFromString(price),
		ValidityDays:        days,
		CreditCount:         credits,
		AllowedClassTypeIDs: allowed,
	})
	if err != nil {
		s.err = fmt.Errorf("create package %s: %w", name, err)
		return ""
	}
	s.result.PackageIDs = append(s.result.PackageIDs, string(p.ID))
	return p.ID
}

// member creates a demo member caller holding one credit per package.
func (s *seeder) member(name string, packages ...booking.PackageID) booking.Caller {
	m := booking.Caller{
		TenantID: s.staff.TenantID,
		MemberID: booking.MemberID(name + "-" + booking.NewID()[:8]),
		Role:     booking.RoleMember,
	}
	if s.err != nil {
		return m
	}
	for _, p := range packages {
		if _, err := s.h.Catalog.SellPackage(s.ctx, s.staff, m.MemberID, p); err != nil {
			s.err = fmt.Errorf("sell package to %s: %w", m.MemberID, err)
			return m
		}
	}
	s.result.MemberIDs = append(s.result.MemberIDs, string(m.MemberID))
	return m
}

func (s *seeder) session(classType booking.ClassTypeID, in time.Duration, capacity int) booking.SessionID {
	if s.err != nil {
		return ""
	}
	start := s.h.Engine.Now().Add(in).Truncate(time.Hour)
	cs, err := s.h.Catalog.ScheduleSession(s.ctx, s.staff, catalog.SessionInput{
		ClassTypeID: classType,
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Capacity:    capacity,
	})
	if err != nil {
		s.err = fmt.Errorf("schedule session: %w", err)
		return ""
	}
	s.result.SessionIDs = append(s.result.SessionIDs, string(cs.ID))
	return cs.ID
}

func (s *seeder) book(m booking.Caller, session booking.SessionID) {
	if s.err != nil {
		return
	}
	res, err := s.h.Engine.Book(s.ctx, m, session)
	if err != nil {
		s.err = fmt.Errorf("book %s: %w", m.MemberID, err)
		return
	}
	s.result.ReservationIDs = append(s.result.ReservationIDs, string(res.ID))
}

func (s *seeder) queue(m booking.Caller, session booking.SessionID) {
	if s.err != nil {
		return
	}
	entry, _, err := s.h.Engine.Waitlist().Join(s.ctx, m, session)
	if err != nil {
		s.err = fmt.Errorf("waitlist %s: %w", m.MemberID, err)
		return
	}
	s.result.WaitlistIDs = append(s.result.WaitlistIDs, string(entry.ID))
}

func (s *seeder) done() (*ScenarioResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &s.result, nil
}

func loadBusyStudioScenario(ctx context.Context, h *Handler, staff booking.Caller) (*ScenarioResult, error) {
	s := newSeeder(ctx, h, staff)
	yoga := s.classType("Vinyasa Yoga")
	tenPack := s.pack("Yoga 10-Pack", "150.00", 90, 10, yoga)
	session := s.session(yoga, 26*time.Hour, 3)

	for _, name := range []string{"alice", "bob", "carol"} {
		s.book(s.member(name, tenPack), session)
	}
	for _, name := range []string{"dave", "erin"} {
		s.queue(s.member(name, tenPack), session)
	}
	return s.done()
}

func loadMixedPackagesScenario(ctx context.Context, h *Handler, staff booking.Caller) (*ScenarioResult, error) {
	s := newSeeder(ctx, h, staff)
	yoga := s.classType("Hatha Yoga")
	spin := s.classType("Spin")
	yogaOnly := s.pack("Yoga 5-Pack", "80.00", 60, 5, yoga)
	allAccess := s.pack("All Access 20", "280.00", 120, 20, yoga, spin)

	yogaSession := s.session(yoga, 26*time.Hour, 12)
	spinSession := s.session(spin, 50*time.Hour, 8)

	m := s.member("frank", yogaOnly, allAccess)
	s.book(m, yogaSession)
	s.book(m, spinSession)
	return s.done()
}

func loadExpiringCreditsScenario(ctx context.Context, h *Handler, staff booking.Caller) (*ScenarioResult, error) {
	s := newSeeder(ctx, h, staff)
	pilates := s.classType("Reformer Pilates")
	trial := s.pack("Pilates Trial", "25.00", 1, 1, pilates)
	tenPack := s.pack("Pilates 10-Pack", "220.00", 180, 10, pilates)

	// Sessions start within the trial's validity so the trial credit is
	// the one consumed.
	session := s.session(pilates, 3*time.Hour, 6)
	s.book(s.member("grace", tenPack, trial), session)
	return s.done()
}
