/*
handlers.go - HTTP API handlers for class booking

PURPOSE:
  Exposes the booking engine and catalog via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.
  Every handler runs behind the identity middleware and reads the caller
  from the request context.

ENDPOINTS:
  Sessions:
    POST   /api/sessions                     Schedule a session (staff)
    GET    /api/sessions?from=&to=           List sessions in a window
    GET    /api/sessions/{id}                Availability
    POST   /api/sessions/{id}/book           Book one seat
    POST   /api/sessions/{id}/waitlist       Join waitlist
    DELETE /api/sessions/{id}/waitlist       Leave waitlist
    GET    /api/sessions/{id}/waitlist       Queue (staff)
    GET    /api/sessions/{id}/waitlist/position

  Reservations:
    GET    /api/reservations/{id}
    POST   /api/reservations/{id}/cancel
    POST   /api/reservations/{id}/check-in   (staff)

  Catalog:
    POST   /api/class-types                  (staff)
    GET    /api/packages
    POST   /api/packages                     (staff)
    POST   /api/members/{id}/credits         Sell a package (staff)
    GET    /api/members/{id}/credits
    GET    /api/members/{id}/reservations
    GET    /api/credits/{id}/history

  Scenarios:
    GET    /api/scenarios                    Available demo scenarios
    POST   /api/scenarios/load               Seed one (staff)

  Admin:
    POST   /api/admin/credits/expire         Run the expiry sweep now
    POST   /api/admin/waitlists/purge        Drop queues of started sessions

ERROR HANDLING:
  Errors are returned as {error_code, message} with the status from
  statusFor. CapacityFull also sets waitlist_offer.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/class-booking/booking"
	"github.com/warp/class-booking/catalog"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the dependencies of every endpoint.
type Handler struct {
	Engine  *booking.Engine
	Catalog *catalog.Service
	Log     logrus.FieldLogger
}

func NewHandler(engine *booking.Engine, cat *catalog.Service, log logrus.FieldLogger) *Handler {
	return &Handler{Engine: engine, Catalog: cat, Log: log}
}

func caller(r *http.Request) booking.Caller {
	c, _ := CallerFrom(r.Context())
	return c
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", booking.CodeInvalidInput, err)
		return false
	}
	return true
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// CreateSession schedules a session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	session, err := h.Catalog.ScheduleSession(r.Context(), caller(r), catalog.SessionInput{
		ClassTypeID: booking.ClassTypeID(req.ClassTypeID),
		TrainerID:   booking.MemberID(req.TrainerID),
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Capacity:    req.Capacity,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(*session))
}

// ListSessions lists sessions in [from, to). Defaults to the next 7 days.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	from := h.Engine.Now()
	to := from.AddDate(0, 0, 7)
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from, expected RFC3339", booking.CodeInvalidInput, err)
			return
		}
		from, to = t, t.AddDate(0, 0, 7)
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to, expected RFC3339", booking.CodeInvalidInput, err)
			return
		}
		to = t
	}

	sessions, err := h.Catalog.ListSessions(r.Context(), caller(r), from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		out[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSession returns a session with live availability.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := booking.SessionID(chi.URLParam(r, "id"))
	a, err := h.Engine.Capacity().Availability(r.Context(), caller(r).TenantID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		SessionDTO:     toSessionDTO(a.Session),
		WaitlistLength: a.WaitlistLength,
	})
}

// Book reserves a seat for the caller.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	id := booking.SessionID(chi.URLParam(r, "id"))
	res, err := h.Engine.Book(r.Context(), caller(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, BookResponse{
		ReservationID: string(res.ID),
		Reservation:   toReservationDTO(*res),
	})
}

// JoinWaitlist queues the caller for a full session.
func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	id := booking.SessionID(chi.URLParam(r, "id"))
	entry, position, err := h.Engine.Waitlist().Join(r.Context(), caller(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, JoinWaitlistResponse{
		WaitlistEntryID: string(entry.ID),
		Position:        position,
	})
}

// LeaveWaitlist removes the caller from the queue.
func (h *Handler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	id := booking.SessionID(chi.URLParam(r, "id"))
	if err := h.Engine.Waitlist().Leave(r.Context(), caller(r), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListWaitlist shows the whole queue to staff.
func (h *Handler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	if !c.Role.IsStaff() {
		h.writeDomainError(w, r, booking.ErrForbidden)
		return
	}
	id := booking.SessionID(chi.URLParam(r, "id"))
	queue, err := h.Engine.Waitlist().List(r.Context(), c.TenantID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]WaitlistEntryDTO, len(queue))
	for i, e := range queue {
		out[i] = WaitlistEntryDTO{
			ID:       string(e.ID),
			MemberID: string(e.MemberID),
			Position: i + 1,
			JoinedAt: e.JoinedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// WaitlistPosition returns the caller's place in the queue.
func (h *Handler) WaitlistPosition(w http.ResponseWriter, r *http.Request) {
	id := booking.SessionID(chi.URLParam(r, "id"))
	position, err := h.Engine.Waitlist().Position(r.Context(), caller(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PositionResponse{Position: position})
}

// =============================================================================
// RESERVATION ENDPOINTS
// =============================================================================

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := booking.ReservationID(chi.URLParam(r, "id"))
	res, err := h.Engine.Reservation(r.Context(), caller(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// CancelReservation cancels and refunds, then promotes the waitlist.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := booking.ReservationID(chi.URLParam(r, "id"))
	result, err := h.Engine.Cancel(r.Context(), caller(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := CancelResponse{
		Success:  true,
		Message:  result.Message,
		Refunded: result.Refunded,
	}
	if result.Promoted != nil {
		resp.PromotedReservationID = string(result.Promoted.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id := booking.ReservationID(chi.URLParam(r, "id"))
	res, err := h.Engine.CheckIn(r.Context(), caller(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

func (h *Handler) CreateClassType(w http.ResponseWriter, r *http.Request) {
	var req CreateClassTypeRequest
	if !decode(w, r, &req) {
		return
	}
	ct, err := h.Catalog.CreateClassType(r.Context(), caller(r), req.Name)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClassTypeDTO(*ct))
}

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.Catalog.ListPackages(r.Context(), caller(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]PackageDTO, len(packages))
	for i, p := range packages {
		out[i] = toPackageDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req CreatePackageRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Catalog.CreatePackage(r.Context(), caller(r), catalog.PackageInput{
		Name:                req.Name,
		Price:               req.Price,
		ValidityDays:        req.ValidityDays,
		CreditCount:         req.CreditCount,
		AllowedClassTypeIDs: classTypeIDs(req.AllowedClassTypeIDs),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPackageDTO(*p))
}

// SellPackage grants the member in the path a credit from a package.
func (h *Handler) SellPackage(w http.ResponseWriter, r *http.Request) {
	var req SellPackageRequest
	if !decode(w, r, &req) {
		return
	}
	member := booking.MemberID(chi.URLParam(r, "id"))
	credit, err := h.Catalog.SellPackage(r.Context(), caller(r), member, booking.PackageID(req.PackageID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditDTO(*credit))
}

func (h *Handler) MemberCredits(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	member := booking.MemberID(chi.URLParam(r, "id"))
	if member != c.MemberID && !c.Role.IsStaff() {
		h.writeDomainError(w, r, booking.ErrForbidden)
		return
	}
	credits, err := h.Engine.Credits().Credits(r.Context(), c.TenantID, member)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]CreditDTO, len(credits))
	for i, credit := range credits {
		out[i] = toCreditDTO(credit)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) MemberReservations(w http.ResponseWriter, r *http.Request) {
	member := booking.MemberID(chi.URLParam(r, "id"))
	reservations, err := h.Engine.Reservations(r.Context(), caller(r), member)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]ReservationDTO, len(reservations))
	for i, res := range reservations {
		out[i] = toReservationDTO(res)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreditHistory returns a credit's ledger. Members see only their own.
func (h *Handler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	id := booking.CreditID(chi.URLParam(r, "id"))

	if !c.Role.IsStaff() {
		credits, err := h.Engine.Credits().Credits(r.Context(), c.TenantID, c.MemberID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		owned := false
		for _, credit := range credits {
			owned = owned || credit.ID == id
		}
		if !owned {
			h.writeDomainError(w, r, booking.ErrNotFound)
			return
		}
	}

	entries, err := h.Engine.Credits().History(r.Context(), c.TenantID, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]CreditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toCreditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func (h *Handler) ExpireCredits(w http.ResponseWriter, r *http.Request) {
	if !caller(r).Role.IsStaff() {
		h.writeDomainError(w, r, booking.ErrForbidden)
		return
	}
	n, err := h.Engine.Credits().ExpireCredits(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Affected: n})
}

func (h *Handler) PurgeWaitlists(w http.ResponseWriter, r *http.Request) {
	if !caller(r).Role.IsStaff() {
		h.writeDomainError(w, r, booking.ErrForbidden)
		return
	}
	n, err := h.Engine.Waitlist().PurgeStale(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Affected: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, code booking.Code, err error) {
	resp := ErrorResponse{ErrorCode: string(code), Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a failure code to its HTTP status.
func statusFor(code booking.Code) int {
	switch code {
	case booking.CodeNotFound:
		return http.StatusNotFound
	case booking.CodeForbidden:
		return http.StatusForbidden
	case booking.CodeInsufficientCredit:
		return http.StatusPaymentRequired
	case booking.CodeInvalidInput:
		return http.StatusBadRequest
	case booking.CodeAlreadyBooked,
		booking.CodeCapacityFull,
		booking.CodeAlreadyCancelled,
		booking.CodeNotCancellable,
		booking.CodeSessionNotFull,
		booking.CodeAlreadyWaitlisted,
		booking.CodeSessionClosed:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := booking.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeJSON(w, status, ErrorResponse{ErrorCode: string(code), Message: "Internal error"})
		return
	}
	writeJSON(w, status, ErrorResponse{
		ErrorCode:     string(code),
		Message:       err.Error(),
		WaitlistOffer: code == booking.CodeCapacityFull,
	})
}
