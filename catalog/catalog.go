/*
Package catalog manages what a studio offers: class types, credit packages,
selling packages to members and scheduling sessions.

PURPOSE:
  Staff-facing setup operations. Everything here writes rows the booking
  engine later reads. Members may only list.

SELLING A PACKAGE:
  Creates one Credit with remaining = package credit count, expiring
  validity days after the sale, and records the grant in the credit ledger.

SEE ALSO:
  - booking/engine.go: Consumes what this package sets up
*/
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/class-booking/booking"
)

// Service implements catalog operations on top of a booking.TxStore.
type Service struct {
	store   booking.TxStore
	credits *booking.CreditLedger
	clock   booking.Clock
	log     logrus.FieldLogger
}

func NewService(store booking.TxStore, clock booking.Clock, log logrus.FieldLogger) *Service {
	if clock == nil {
		clock = booking.SystemClock
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:   store,
		credits: booking.NewCreditLedger(store, clock),
		clock:   clock,
		log:     log.WithField("component", "catalog"),
	}
}

func requireStaff(caller booking.Caller) error {
	if !caller.Role.IsStaff() {
		return booking.ErrForbidden
	}
	return nil
}

// =============================================================================
// CLASS TYPES
// =============================================================================

func (s *Service) CreateClassType(ctx context.Context, caller booking.Caller, name string) (*booking.ClassType, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &booking.ValidationError{Field: "name", Message: "must not be empty"}
	}

	ct := booking.ClassType{
		ID:        booking.ClassTypeID(booking.NewID()),
		TenantID:  caller.TenantID,
		Name:      name,
		CreatedAt: s.clock(),
	}
	err := s.store.WithTx(ctx, func(st booking.Store) error {
		return st.SaveClassType(ctx, ct)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("class_type_id", ct.ID).Info("class type created")
	return &ct, nil
}

// =============================================================================
// PACKAGES
// =============================================================================

// PackageInput describes a package to create.
type PackageInput struct {
	Name                string
	Price               decimal.Decimal
	ValidityDays        int
	CreditCount         int
	AllowedClassTypeIDs []booking.ClassTypeID
}

func (in PackageInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return &booking.ValidationError{Field: "name", Message: "must not be empty"}
	case in.Price.IsNegative():
		return &booking.ValidationError{Field: "price", Message: "must not be negative"}
	case in.ValidityDays <= 0:
		return &booking.ValidationError{Field: "validity_days", Message: "must be positive"}
	case in.CreditCount <= 0:
		return &booking.ValidationError{Field: "credit_count", Message: "must be positive"}
	case len(in.AllowedClassTypeIDs) == 0:
		return &booking.ValidationError{Field: "allowed_class_type_ids", Message: "must name at least one class type"}
	}
	return nil
}

func (s *Service) CreatePackage(ctx context.Context, caller booking.Caller, in PackageInput) (*booking.Package, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := booking.Package{
		ID:                  booking.PackageID(booking.NewID()),
		TenantID:            caller.TenantID,
		Name:                strings.TrimSpace(in.Name),
		Price:               in.Price,
		ValidityDays:        in.ValidityDays,
		CreditCount:         in.CreditCount,
		AllowedClassTypeIDs: dedupe(in.AllowedClassTypeIDs),
		CreatedAt:           s.clock(),
	}
	err := s.store.WithTx(ctx, func(st booking.Store) error {
		for _, id := range p.AllowedClassTypeIDs {
			ct, err := st.GetClassType(ctx, id)
			if booking.IsNotFound(err) || (err == nil && ct.TenantID != caller.TenantID) {
				return &booking.ValidationError{Field: "allowed_class_type_ids", Message: "unknown class type " + string(id)}
			}
			if err != nil {
				return err
			}
		}
		return st.SavePackage(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"package_id": p.ID,
		"credits":    p.CreditCount,
		"price":      p.Price.StringFixed(2),
	}).Info("package created")
	return &p, nil
}

func dedupe(ids []booking.ClassTypeID) []booking.ClassTypeID {
	seen := make(map[booking.ClassTypeID]bool, len(ids))
	out := make([]booking.ClassTypeID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) ListPackages(ctx context.Context, caller booking.Caller) ([]booking.Package, error) {
	var out []booking.Package
	err := s.store.View(ctx, func(st booking.Store) error {
		var err error
		out, err = st.ListPackages(ctx, caller.TenantID)
		return err
	})
	return out, err
}

// SellPackage grants member a new credit from the package.
func (s *Service) SellPackage(ctx context.Context, caller booking.Caller, member booking.MemberID, id booking.PackageID) (*booking.Credit, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	if member == "" {
		return nil, &booking.ValidationError{Field: "member_id", Message: "must not be empty"}
	}

	var credit booking.Credit
	err := s.store.WithTx(ctx, func(st booking.Store) error {
		p, err := st.GetPackage(ctx, id)
		if err != nil {
			return err
		}
		if p.TenantID != caller.TenantID {
			return booking.ErrNotFound
		}

		now := s.clock()
		credit = booking.Credit{
			ID:                  booking.CreditID(booking.NewID()),
			TenantID:            caller.TenantID,
			MemberID:            member,
			PackageID:           p.ID,
			Remaining:           p.CreditCount,
			ExpiresAt:           now.AddDate(0, 0, p.ValidityDays),
			Status:              booking.CreditActive,
			AllowedClassTypeIDs: p.AllowedClassTypeIDs,
			CreatedAt:           now,
		}
		if err := st.SaveCredit(ctx, credit); err != nil {
			return err
		}
		return s.credits.Grant(ctx, st, credit)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"credit_id":  credit.ID,
		"member_id":  member,
		"package_id": id,
		"expires_at": credit.ExpiresAt.Format(time.RFC3339),
	}).Info("package sold")
	return &credit, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

// SessionInput describes a session to schedule. TrainerID defaults to the
// caller.
type SessionInput struct {
	ClassTypeID booking.ClassTypeID
	TrainerID   booking.MemberID
	StartTime   time.Time
	EndTime     time.Time
	Capacity    int
}

func (in SessionInput) validate(now time.Time) error {
	switch {
	case in.ClassTypeID == "":
		return &booking.ValidationError{Field: "class_type_id", Message: "must not be empty"}
	case in.Capacity <= 0:
		return &booking.ValidationError{Field: "capacity", Message: "must be positive"}
	case in.StartTime.IsZero():
		return &booking.ValidationError{Field: "start_time", Message: "must be set"}
	case !in.EndTime.After(in.StartTime):
		return &booking.ValidationError{Field: "end_time", Message: "must be after start_time"}
	case !in.StartTime.After(now):
		return &booking.ValidationError{Field: "start_time", Message: "must be in the future"}
	}
	return nil
}

func (s *Service) ScheduleSession(ctx context.Context, caller booking.Caller, in SessionInput) (*booking.ClassSession, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	now := s.clock()
	if err := in.validate(now); err != nil {
		return nil, err
	}
	trainer := in.TrainerID
	if trainer == "" {
		trainer = caller.MemberID
	}

	session := booking.ClassSession{
		ID:          booking.SessionID(booking.NewID()),
		TenantID:    caller.TenantID,
		ClassTypeID: in.ClassTypeID,
		TrainerID:   trainer,
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
		Capacity:    in.Capacity,
		CreatedAt:   now,
	}
	err := s.store.WithTx(ctx, func(st booking.Store) error {
		ct, err := st.GetClassType(ctx, in.ClassTypeID)
		if booking.IsNotFound(err) || (err == nil && ct.TenantID != caller.TenantID) {
			return &booking.ValidationError{Field: "class_type_id", Message: "unknown class type"}
		}
		if err != nil {
			return err
		}
		return st.SaveSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"start_time": session.StartTime.Format(time.RFC3339),
		"capacity":   session.Capacity,
	}).Info("session scheduled")
	return &session, nil
}

// ListSessions returns the tenant's sessions starting in [from, to).
func (s *Service) ListSessions(ctx context.Context, caller booking.Caller, from, to time.Time) ([]booking.ClassSession, error) {
	if !to.After(from) {
		return nil, &booking.ValidationError{Field: "to", Message: "must be after from"}
	}
	var out []booking.ClassSession
	err := s.store.View(ctx, func(st booking.Store) error {
		var err error
		out, err = st.ListSessions(ctx, caller.TenantID, from, to)
		return err
	})
	return out, err
}
