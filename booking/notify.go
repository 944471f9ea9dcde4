package booking

import (
	"context"
	"time"
)

// NotificationKind says why a member is being told about a reservation.
type NotificationKind string

const (
	NotifyBooked   NotificationKind = "booked"
	NotifyPromoted NotificationKind = "promoted"
)

// Notification is emitted after a reservation commits.
type Notification struct {
	Kind          NotificationKind
	TenantID      TenantID
	MemberID      MemberID
	SessionID     SessionID
	ReservationID ReservationID
	ClassName     string
	StartTime     time.Time
}

// Notifier delivers notifications. Notify must not block the caller and its
// failures never affect the reservation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}

// Observer receives engine outcomes for metrics.
type Observer interface {
	BookingAttempt(outcome Code)
	Cancellation(refunded bool)
	WaitlistJoin(outcome Code)
	Promotion(outcome string)
	CreditsExpired(n int)
}

type nopObserver struct{}

func (nopObserver) BookingAttempt(Code) {}
func (nopObserver) Cancellation(bool)   {}
func (nopObserver) WaitlistJoin(Code)   {}
func (nopObserver) Promotion(string)    {}
func (nopObserver) CreditsExpired(int)  {}

// Outcome labels for Observer.Promotion.
const (
	PromotionPromoted  = "promoted"
	PromotionDiscarded = "discarded"
	PromotionBlocked   = "blocked"
	PromotionEmpty     = "empty"
	PromotionClosed    = "closed"
)
