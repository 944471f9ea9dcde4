// Package store provides an in-memory booking.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/class-booking/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every unit of work behind one lock. WithTx snapshots
// the state and restores it if the callback fails.
type Memory struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	classTypes   map[booking.ClassTypeID]booking.ClassType
	packages     map[booking.PackageID]booking.Package
	sessions     map[booking.SessionID]booking.ClassSession
	credits      map[booking.CreditID]booking.Credit
	entries      map[booking.CreditID][]booking.CreditEntry
	reservations map[booking.ReservationID]booking.Reservation
	waitlist     map[booking.WaitlistEntryID]queued
	seq          int64
}

type queued struct {
	entry booking.WaitlistEntry
	seq   int64
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() *state {
	return &state{
		classTypes:   make(map[booking.ClassTypeID]booking.ClassType),
		packages:     make(map[booking.PackageID]booking.Package),
		sessions:     make(map[booking.SessionID]booking.ClassSession),
		credits:      make(map[booking.CreditID]booking.Credit),
		entries:      make(map[booking.CreditID][]booking.CreditEntry),
		reservations: make(map[booking.ReservationID]booking.Reservation),
		waitlist:     make(map[booking.WaitlistEntryID]queued),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(booking.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// View runs fn under the read lock.
func (m *Memory) View(_ context.Context, fn func(booking.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.classTypes {
		c.classTypes[k] = v
	}
	for k, v := range s.packages {
		c.packages[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.credits {
		c.credits[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]booking.CreditEntry(nil), v...)
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.waitlist {
		c.waitlist[k] = v
	}
	c.seq = s.seq
	return c
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *state) SaveClassType(_ context.Context, ct booking.ClassType) error {
	s.classTypes[ct.ID] = ct
	return nil
}

func (s *state) GetClassType(_ context.Context, id booking.ClassTypeID) (*booking.ClassType, error) {
	ct, ok := s.classTypes[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return &ct, nil
}

func (s *state) SavePackage(_ context.Context, p booking.Package) error {
	p.AllowedClassTypeIDs = append([]booking.ClassTypeID(nil), p.AllowedClassTypeIDs...)
	s.packages[p.ID] = p
	return nil
}

func (s *state) GetPackage(_ context.Context, id booking.PackageID) (*booking.Package, error) {
	p, ok := s.packages[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	p.AllowedClassTypeIDs = append([]booking.ClassTypeID(nil), p.AllowedClassTypeIDs...)
	return &p, nil
}

func (s *state) ListPackages(_ context.Context, tenant booking.TenantID) ([]booking.Package, error) {
	var out []booking.Package
	for _, p := range s.packages {
		if p.TenantID == tenant {
			p.AllowedClassTypeIDs = append([]booking.ClassTypeID(nil), p.AllowedClassTypeIDs...)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (s *state) SaveSession(_ context.Context, cs booking.ClassSession) error {
	s.sessions[cs.ID] = cs
	return nil
}

func (s *state) GetSession(_ context.Context, id booking.SessionID) (*booking.ClassSession, error) {
	cs, ok := s.sessions[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return &cs, nil
}

func (s *state) ListSessions(_ context.Context, tenant booking.TenantID, from, to time.Time) ([]booking.ClassSession, error) {
	var out []booking.ClassSession
	for _, cs := range s.sessions {
		if cs.TenantID == tenant && !cs.StartTime.Before(from) && cs.StartTime.Before(to) {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *state) IncrementBooked(_ context.Context, id booking.SessionID) (bool, error) {
	cs, ok := s.sessions[id]
	if !ok {
		return false, booking.ErrNotFound
	}
	if cs.BookedCount >= cs.Capacity {
		return false, nil
	}
	cs.BookedCount++
	s.sessions[id] = cs
	return true, nil
}

func (s *state) DecrementBooked(_ context.Context, id booking.SessionID) (bool, error) {
	cs, ok := s.sessions[id]
	if !ok {
		return false, booking.ErrNotFound
	}
	if cs.BookedCount <= 0 {
		return false, nil
	}
	cs.BookedCount--
	s.sessions[id] = cs
	return true, nil
}

// =============================================================================
// CREDITS
// =============================================================================

func (s *state) SaveCredit(_ context.Context, c booking.Credit) error {
	c.AllowedClassTypeIDs = nil
	s.credits[c.ID] = c
	return nil
}

// withAllowed fills the class types the credit's package allows.
func (s *state) withAllowed(c booking.Credit) booking.Credit {
	if p, ok := s.packages[c.PackageID]; ok {
		c.AllowedClassTypeIDs = append([]booking.ClassTypeID(nil), p.AllowedClassTypeIDs...)
	}
	return c
}

func (s *state) GetCredit(_ context.Context, id booking.CreditID) (*booking.Credit, error) {
	c, ok := s.credits[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	c = s.withAllowed(c)
	return &c, nil
}

func (s *state) CreditsByMember(_ context.Context, tenant booking.TenantID, member booking.MemberID) ([]booking.Credit, error) {
	var out []booking.Credit
	for _, c := range s.credits {
		if c.TenantID == tenant && c.MemberID == member {
			out = append(out, s.withAllowed(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) DecrementCredit(_ context.Context, id booking.CreditID, now time.Time) (bool, error) {
	c, ok := s.credits[id]
	if !ok {
		return false, booking.ErrNotFound
	}
	if c.Status != booking.CreditActive || c.Remaining <= 0 || !now.Before(c.ExpiresAt) {
		return false, nil
	}
	c.Remaining--
	if c.Remaining == 0 {
		c.Status = booking.CreditDepleted
	}
	s.credits[id] = c
	return true, nil
}

func (s *state) IncrementCredit(_ context.Context, id booking.CreditID, now time.Time) (bool, error) {
	c, ok := s.credits[id]
	if !ok {
		return false, nil
	}
	c.Remaining++
	if c.Status == booking.CreditExpired || !now.Before(c.ExpiresAt) {
		c.Status = booking.CreditExpired
	} else {
		c.Status = booking.CreditActive
	}
	s.credits[id] = c
	return true, nil
}

func (s *state) ExpireCredits(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, c := range s.credits {
		if c.Status == booking.CreditActive && !now.Before(c.ExpiresAt) {
			c.Status = booking.CreditExpired
			s.credits[id] = c
			n++
		}
	}
	return n, nil
}

func (s *state) AppendCreditEntry(_ context.Context, e booking.CreditEntry) error {
	s.entries[e.CreditID] = append(s.entries[e.CreditID], e)
	return nil
}

func (s *state) CreditEntries(_ context.Context, id booking.CreditID) ([]booking.CreditEntry, error) {
	return append([]booking.CreditEntry(nil), s.entries[id]...), nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (s *state) InsertReservation(_ context.Context, r booking.Reservation) error {
	if r.Status.Active() {
		for _, existing := range s.reservations {
			if existing.SessionID == r.SessionID && existing.MemberID == r.MemberID && existing.Status.Active() {
				return booking.ErrAlreadyBooked
			}
		}
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *state) GetReservation(_ context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return &r, nil
}

func (s *state) ActiveReservation(_ context.Context, session booking.SessionID, member booking.MemberID) (*booking.Reservation, error) {
	for _, r := range s.reservations {
		if r.SessionID == session && r.MemberID == member && r.Status.Active() {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *state) ReservationsByMember(_ context.Context, tenant booking.TenantID, member booking.MemberID) ([]booking.Reservation, error) {
	var out []booking.Reservation
	for _, r := range s.reservations {
		if r.TenantID == tenant && r.MemberID == member {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *state) CountActiveReservations(_ context.Context, session booking.SessionID) (int, error) {
	n := 0
	for _, r := range s.reservations {
		if r.SessionID == session && r.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *state) TransitionReservation(_ context.Context, id booking.ReservationID, from, to booking.ReservationStatus, at time.Time, refunded bool) (bool, error) {
	r, ok := s.reservations[id]
	if !ok {
		return false, booking.ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	if to == booking.ReservationCancelled {
		r.CancelledAt = &at
		r.Refunded = refunded
	}
	s.reservations[id] = r
	return true, nil
}

// =============================================================================
// WAITLIST
// =============================================================================

func (s *state) InsertWaitlistEntry(_ context.Context, e booking.WaitlistEntry) error {
	for _, q := range s.waitlist {
		if q.entry.SessionID == e.SessionID && q.entry.MemberID == e.MemberID {
			return booking.ErrAlreadyWaitlisted
		}
	}
	s.seq++
	s.waitlist[e.ID] = queued{entry: e, seq: s.seq}
	return nil
}

func (s *state) WaitlistEntryFor(_ context.Context, session booking.SessionID, member booking.MemberID) (*booking.WaitlistEntry, error) {
	for _, q := range s.waitlist {
		if q.entry.SessionID == session && q.entry.MemberID == member {
			e := q.entry
			return &e, nil
		}
	}
	return nil, nil
}

func (s *state) Waitlist(_ context.Context, session booking.SessionID) ([]booking.WaitlistEntry, error) {
	var queue []queued
	for _, q := range s.waitlist {
		if q.entry.SessionID == session {
			queue = append(queue, q)
		}
	}
	sort.Slice(queue, func(i, j int) bool {
		if !queue[i].entry.JoinedAt.Equal(queue[j].entry.JoinedAt) {
			return queue[i].entry.JoinedAt.Before(queue[j].entry.JoinedAt)
		}
		return queue[i].seq < queue[j].seq
	})
	out := make([]booking.WaitlistEntry, len(queue))
	for i, q := range queue {
		out[i] = q.entry
	}
	return out, nil
}

func (s *state) DeleteWaitlistEntry(_ context.Context, id booking.WaitlistEntryID) (bool, error) {
	if _, ok := s.waitlist[id]; !ok {
		return false, nil
	}
	delete(s.waitlist, id)
	return true, nil
}

func (s *state) DeleteStaleWaitlistEntries(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, q := range s.waitlist {
		cs, ok := s.sessions[q.entry.SessionID]
		if !ok || !now.Before(cs.StartTime) {
			delete(s.waitlist, id)
			n++
		}
	}
	return n, nil
}
