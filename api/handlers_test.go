/*
handlers_test.go - HTTP tests for the booking API

Tests for:
- Caller resolution (headers and JWT)
- Booking, capacity conflicts, waitlisting and promotion over HTTP
- Error status mapping
- Rate limiting and health checks
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/class-booking/booking"
	"github.com/warp/class-booking/booking/store"
	"github.com/warp/class-booking/catalog"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

var (
	owner = booking.Caller{TenantID: "studio-1", MemberID: "olga", Role: booking.RoleOwner}
	alice = booking.Caller{TenantID: "studio-1", MemberID: "alice", Role: booking.RoleMember}
	bob   = booking.Caller{TenantID: "studio-1", MemberID: "bob", Role: booking.RoleMember}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testAPI struct {
	t       *testing.T
	router  http.Handler
	handler *Handler
	clock   *testClock
	log     *logrus.Logger
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := &testClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}

	s := store.NewMemory()
	engine := booking.NewEngine(s, booking.WithClock(clock.Now), booking.WithLogger(log))
	h := NewHandler(engine, catalog.NewService(s, clock.Now, log), log)
	return &testAPI{t: t, router: NewRouter(h, opts), handler: h, clock: clock, log: log}
}

// do sends a request as caller using the trusted identity headers. A zero
// caller sends no identity.
func (a *testAPI) do(method, path string, caller booking.Caller, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller.MemberID != "" {
		req.Header.Set(HeaderTenantID, string(caller.TenantID))
		req.Header.Set(HeaderUserID, string(caller.MemberID))
		req.Header.Set(HeaderUserRole, string(caller.Role))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// studio creates a class type, a 5-credit package and a session of the
// given capacity starting tomorrow. It returns the session and package IDs.
func (a *testAPI) studio(capacity int) (string, string) {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/class-types", owner, CreateClassTypeRequest{Name: "Yoga"})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	ct := decodeBody[ClassTypeDTO](a.t, w)

	w = a.do(http.MethodPost, "/api/packages", owner, CreatePackageRequest{
		Name:                "5-Pack",
		Price:               decimal.RequireFromString("75.00"),
		ValidityDays:        30,
		CreditCount:         5,
		AllowedClassTypeIDs: []string{ct.ID},
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	pkg := decodeBody[PackageDTO](a.t, w)

	start := a.clock.Now().Add(24 * time.Hour)
	w = a.do(http.MethodPost, "/api/sessions", owner, CreateSessionRequest{
		ClassTypeID: ct.ID,
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Capacity:    capacity,
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[SessionDTO](a.t, w).ID, pkg.ID
}

func (a *testAPI) sell(member booking.Caller, pkg string) CreditDTO {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/members/"+string(member.MemberID)+"/credits", owner, SellPackageRequest{PackageID: pkg})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[CreditDTO](a.t, w)
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestIdentity_HeadersRequired(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})

	w := api.do(http.MethodGet, "/api/packages", booking.Caller{}, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthenticated", decodeBody[ErrorResponse](t, w).ErrorCode)
}

func TestIdentity_JWT(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	api := newTestAPI(t, RouterOptions{Auth: auth})

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/packages", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		api.router.ServeHTTP(w, req)
		return w.Code
	}

	token, err := auth.IssueToken(alice, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, send(token))

	expired, err := auth.IssueToken(alice, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send(expired))

	forged, err := NewAuthenticator("other-secret").IssueToken(owner, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send(forged))

	assert.Equal(t, http.StatusUnauthorized, send(""))

	// Trusted headers are ignored once a secret is configured
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/packages", alice, nil).Code)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, booking.RoleOwner, parseRole(" Owner "))
	assert.Equal(t, booking.RoleTrainer, parseRole("trainer"))
	assert.Equal(t, booking.RoleMember, parseRole("superuser"))
	assert.Equal(t, booking.RoleMember, parseRole(""))
}

// =============================================================================
// BOOKING FLOW
// =============================================================================

func TestBookingFlow(t *testing.T) {
	// GIVEN: A one-seat session, Alice and Bob each holding a 5-pack
	api := newTestAPI(t, RouterOptions{})
	session, pkg := api.studio(1)
	aliceCredit := api.sell(alice, pkg)
	bobCredit := api.sell(bob, pkg)

	// WHEN: Alice books
	w := api.do(http.MethodPost, "/api/sessions/"+session+"/book", alice, nil)

	// THEN: She holds the seat and one credit is spent
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	booked := decodeBody[BookResponse](t, w)
	assert.Equal(t, "booked", booked.Reservation.Status)
	assert.Equal(t, aliceCredit.ID, booked.Reservation.CreditID)

	// WHEN: Bob tries the full session
	w = api.do(http.MethodPost, "/api/sessions/"+session+"/book", bob, nil)

	// THEN: Conflict with a waitlist offer
	require.Equal(t, http.StatusConflict, w.Code)
	full := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, string(booking.CodeCapacityFull), full.ErrorCode)
	assert.True(t, full.WaitlistOffer)

	// WHEN: Bob joins the waitlist
	w = api.do(http.MethodPost, "/api/sessions/"+session+"/waitlist", bob, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, decodeBody[JoinWaitlistResponse](t, w).Position)

	w = api.do(http.MethodGet, "/api/sessions/"+session, bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	avail := decodeBody[AvailabilityDTO](t, w)
	assert.Equal(t, 0, avail.Available)
	assert.Equal(t, 1, avail.WaitlistLength)

	// WHEN: Alice cancels
	w = api.do(http.MethodPost, "/api/reservations/"+booked.ReservationID+"/cancel", alice, nil)

	// THEN: She is refunded and Bob is promoted onto the seat
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cancelled := decodeBody[CancelResponse](t, w)
	assert.True(t, cancelled.Success)
	assert.True(t, cancelled.Refunded)
	assert.Equal(t, "Reservation cancelled, 1 credit refunded", cancelled.Message)
	require.NotEmpty(t, cancelled.PromotedReservationID)

	w = api.do(http.MethodGet, "/api/reservations/"+cancelled.PromotedReservationID, bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	promoted := decodeBody[ReservationDTO](t, w)
	assert.Equal(t, "bob", promoted.MemberID)
	assert.Equal(t, bobCredit.ID, promoted.CreditID)

	w = api.do(http.MethodGet, "/api/members/alice/credits", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	credits := decodeBody[[]CreditDTO](t, w)
	require.Len(t, credits, 1)
	assert.Equal(t, 5, credits[0].Remaining)

	w = api.do(http.MethodGet, "/api/credits/"+aliceCredit.ID+"/history", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decodeBody[[]CreditEntryDTO](t, w)
	kinds := make([]string, len(history))
	for i, e := range history {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []string{"purchase", "consume", "refund"}, kinds)

	// Cancelling twice conflicts
	w = api.do(http.MethodPost, "/api/reservations/"+booked.ReservationID+"/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(booking.CodeAlreadyCancelled), decodeBody[ErrorResponse](t, w).ErrorCode)
}

func TestErrorStatuses(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	session, pkg := api.studio(5)
	aliceCredit := api.sell(alice, pkg)
	rival := booking.Caller{TenantID: "studio-2", MemberID: "rita", Role: booking.RoleOwner}

	tests := []struct {
		name   string
		method string
		path   string
		caller booking.Caller
		body   any
		status int
		code   booking.Code
	}{
		{"no credit", http.MethodPost, "/api/sessions/" + session + "/book", bob, nil, http.StatusPaymentRequired, booking.CodeInsufficientCredit},
		{"unknown session", http.MethodPost, "/api/sessions/nope/book", alice, nil, http.StatusNotFound, booking.CodeNotFound},
		{"other tenant", http.MethodGet, "/api/sessions/" + session, rival, nil, http.StatusNotFound, booking.CodeNotFound},
		{"waitlist with seats left", http.MethodPost, "/api/sessions/" + session + "/waitlist", alice, nil, http.StatusConflict, booking.CodeSessionNotFull},
		{"member creates class type", http.MethodPost, "/api/class-types", alice, CreateClassTypeRequest{Name: "Spin"}, http.StatusForbidden, booking.CodeForbidden},
		{"member reads another's credits", http.MethodGet, "/api/members/bob/credits", alice, nil, http.StatusForbidden, booking.CodeForbidden},
		{"member reads another's history", http.MethodGet, "/api/credits/" + aliceCredit.ID + "/history", bob, nil, http.StatusNotFound, booking.CodeNotFound},
		{"member views queue", http.MethodGet, "/api/sessions/" + session + "/waitlist", alice, nil, http.StatusForbidden, booking.CodeForbidden},
		{"member runs sweep", http.MethodPost, "/api/admin/credits/expire", alice, nil, http.StatusForbidden, booking.CodeForbidden},
		{"blank class type", http.MethodPost, "/api/class-types", owner, CreateClassTypeRequest{}, http.StatusBadRequest, booking.CodeInvalidInput},
		{"bad window", http.MethodGet, "/api/sessions?from=yesterday", alice, nil, http.StatusBadRequest, booking.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, string(tt.code), decodeBody[ErrorResponse](t, w).ErrorCode)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/class-types", bytes.NewBufferString("{"))
		req.Header.Set(HeaderTenantID, string(owner.TenantID))
		req.Header.Set(HeaderUserID, string(owner.MemberID))
		req.Header.Set(HeaderUserRole, string(owner.Role))
		w := httptest.NewRecorder()
		api.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStatusFor_UnknownIsInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(booking.CodeInternal))
	assert.Equal(t, http.StatusConflict, statusFor(booking.CodeSessionClosed))
}

func TestCheckInAndSweeps(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	session, pkg := api.studio(2)
	api.sell(alice, pkg)

	w := api.do(http.MethodPost, "/api/sessions/"+session+"/book", alice, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody[BookResponse](t, w).ReservationID

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/api/reservations/"+id+"/check-in", alice, nil).Code)

	w = api.do(http.MethodPost, "/api/reservations/"+id+"/check-in", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "checked_in", decodeBody[ReservationDTO](t, w).Status)

	w = api.do(http.MethodPost, "/api/reservations/"+id+"/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(booking.CodeNotCancellable), decodeBody[ErrorResponse](t, w).ErrorCode)

	// The 30-day credit expires once the clock passes its validity
	api.clock.Advance(31 * 24 * time.Hour)
	w = api.do(http.MethodPost, "/api/admin/credits/expire", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[SweepResponse](t, w).Affected)

	w = api.do(http.MethodPost, "/api/admin/waitlists/purge", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decodeBody[SweepResponse](t, w).Affected)
}

func TestListSessions(t *testing.T) {
	api := newTestAPI(t, RouterOptions{})
	session, _ := api.studio(4)

	w := api.do(http.MethodGet, "/api/sessions", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[[]SessionDTO](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, session, list[0].ID)
	assert.Equal(t, 4, list[0].Available)

	from := api.clock.Now().Add(48 * time.Hour).Format(time.RFC3339)
	w = api.do(http.MethodGet, "/api/sessions?from="+from, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]SessionDTO](t, w))
}

// =============================================================================
// RATE LIMITING AND HEALTH
// =============================================================================

func TestRateLimiter_LocalBucket(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	api := newTestAPI(t, RouterOptions{Limiter: NewRateLimiter(nil, 1, 1, log)})

	first := api.do(http.MethodGet, "/api/packages", alice, nil)
	second := api.do(http.MethodGet, "/api/packages", alice, nil)
	other := api.do(http.MethodGet, "/api/packages", bob, nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, other.Code, "buckets are per caller")
}

func TestRateLimiter_DisabledPassesThrough(t *testing.T) {
	var l *RateLimiter
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	w := httptest.NewRecorder()
	l.Middleware(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestHealthz(t *testing.T) {
	healthy := newTestAPI(t, RouterOptions{Health: func(context.Context) error { return nil }})
	w := healthy.do(http.MethodGet, "/healthz", booking.Caller{}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestAPI(t, RouterOptions{Health: func(context.Context) error { return errors.New("connection refused") }})
	w = down.do(http.MethodGet, "/healthz", booking.Caller{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Unavailable", decodeBody[ErrorResponse](t, w).ErrorCode)
}
