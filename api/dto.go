/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines the JSON shapes for requests and responses. These types decouple
  the API contract from internal domain types, so storage or engine
  changes don't break clients.

NAMING CONVENTION:
  - *Request:  Incoming request body
  - *DTO:      Entity representation in responses
  - *Response: Operation results

SEE ALSO:
  - handlers.go: Uses these DTOs
  - booking/types.go: Domain types these map from
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/class-booking/booking"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateClassTypeRequest struct {
	Name string `json:"name"`
}

type CreatePackageRequest struct {
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	ValidityDays        int             `json:"validity_days"`
	CreditCount         int             `json:"credit_count"`
	AllowedClassTypeIDs []string        `json:"allowed_class_type_ids"`
}

type SellPackageRequest struct {
	PackageID string `json:"package_id"`
}

type CreateSessionRequest struct {
	ClassTypeID string    `json:"class_type_id"`
	TrainerID   string    `json:"trainer_id,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Capacity    int       `json:"capacity"`
}

// =============================================================================
// ENTITIES
// =============================================================================

type ClassTypeDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type PackageDTO struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	ValidityDays        int             `json:"validity_days"`
	CreditCount         int             `json:"credit_count"`
	AllowedClassTypeIDs []string        `json:"allowed_class_type_ids"`
}

type CreditDTO struct {
	ID                  string    `json:"id"`
	MemberID            string    `json:"member_id"`
	PackageID           string    `json:"package_id"`
	Remaining           int       `json:"remaining"`
	ExpiresAt           time.Time `json:"expires_at"`
	Status              string    `json:"status"`
	AllowedClassTypeIDs []string  `json:"allowed_class_type_ids"`
}

type CreditEntryDTO struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Delta         int       `json:"delta"`
	ReservationID string    `json:"reservation_id,omitempty"`
	At            time.Time `json:"at"`
}

type SessionDTO struct {
	ID          string    `json:"id"`
	ClassTypeID string    `json:"class_type_id"`
	TrainerID   string    `json:"trainer_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	Available   int       `json:"available"`
}

type AvailabilityDTO struct {
	SessionDTO
	WaitlistLength int `json:"waitlist_length"`
}

type ReservationDTO struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	MemberID    string     `json:"member_id"`
	CreditID    string     `json:"credit_id"`
	Status      string     `json:"status"`
	Refunded    bool       `json:"refunded"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type WaitlistEntryDTO struct {
	ID       string    `json:"id"`
	MemberID string    `json:"member_id"`
	Position int       `json:"position"`
	JoinedAt time.Time `json:"joined_at"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BookResponse struct {
	ReservationID string         `json:"reservation_id"`
	Reservation   ReservationDTO `json:"reservation"`
}

type CancelResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Refunded bool   `json:"refunded"`
	// PromotedReservationID is set when the freed seat went to the waitlist.
	PromotedReservationID string `json:"promoted_reservation_id,omitempty"`
}

type JoinWaitlistResponse struct {
	WaitlistEntryID string `json:"waitlist_entry_id"`
	Position        int    `json:"position"`
}

type PositionResponse struct {
	Position int `json:"position"`
}

type SweepResponse struct {
	Affected int `json:"affected"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	// WaitlistOffer is set on CapacityFull so clients can offer to queue.
	WaitlistOffer bool `json:"waitlist_offer,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toClassTypeDTO(ct booking.ClassType) ClassTypeDTO {
	return ClassTypeDTO{ID: string(ct.ID), Name: ct.Name, CreatedAt: ct.CreatedAt}
}

func toPackageDTO(p booking.Package) PackageDTO {
	return PackageDTO{
		ID:                  string(p.ID),
		Name:                p.Name,
		Price:               p.Price,
		ValidityDays:        p.ValidityDays,
		CreditCount:         p.CreditCount,
		AllowedClassTypeIDs: classTypeStrings(p.AllowedClassTypeIDs),
	}
}

func toCreditDTO(c booking.Credit) CreditDTO {
	return CreditDTO{
		ID:                  string(c.ID),
		MemberID:            string(c.MemberID),
		PackageID:           string(c.PackageID),
		Remaining:           c.Remaining,
		ExpiresAt:           c.ExpiresAt,
		Status:              string(c.Status),
		AllowedClassTypeIDs: classTypeStrings(c.AllowedClassTypeIDs),
	}
}

func toCreditEntryDTO(e booking.CreditEntry) CreditEntryDTO {
	return CreditEntryDTO{
		ID:            string(e.ID),
		Kind:          string(e.Kind),
		Delta:         e.Delta,
		ReservationID: string(e.ReservationID),
		At:            e.At,
	}
}

func toSessionDTO(s booking.ClassSession) SessionDTO {
	return SessionDTO{
		ID:          string(s.ID),
		ClassTypeID: string(s.ClassTypeID),
		TrainerID:   string(s.TrainerID),
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Capacity:    s.Capacity,
		BookedCount: s.BookedCount,
		Available:   s.Available(),
	}
}

func toReservationDTO(r booking.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:          string(r.ID),
		SessionID:   string(r.SessionID),
		MemberID:    string(r.MemberID),
		CreditID:    string(r.CreditID),
		Status:      string(r.Status),
		Refunded:    r.Refunded,
		CreatedAt:   r.CreatedAt,
		CancelledAt: r.CancelledAt,
	}
}

func classTypeStrings(ids []booking.ClassTypeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func classTypeIDs(raw []string) []booking.ClassTypeID {
	out := make([]booking.ClassTypeID, len(raw))
	for i, id := range raw {
		out[i] = booking.ClassTypeID(id)
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioResult lists what a scenario created so clients can explore it.
type ScenarioResult struct {
	ScenarioID     string   `json:"scenario_id"`
	ClassTypeIDs   []string `json:"class_type_ids"`
	PackageIDs     []string `json:"package_ids"`
	SessionIDs     []string `json:"session_ids"`
	MemberIDs      []string `json:"member_ids"`
	ReservationIDs []string `json:"reservation_ids"`
	WaitlistIDs    []string `json:"waitlist_entry_ids"`
}
