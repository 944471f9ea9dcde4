/*
Package postgres provides a PostgreSQL implementation of booking.TxStore
using database/sql with the pgx driver.

CONCURRENCY:
  Units of work run at READ COMMITTED. Inside a writable unit GetSession
  takes a row lock (SELECT ... FOR UPDATE), which serializes bookings,
  cancellations and promotions on the same session. Seat and credit
  counters change only through conditional UPDATEs, and the partial unique
  index on reservations rejects a second active booking even if two units
  race past the lookup.

SEE ALSO:
  - store/sqlite/sqlite.go: Same contract on SQLite
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/warp/class-booking/booking"
)

const uniqueViolation = "23505"

// Store implements booking.TxStore on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// New wraps an existing connection pool without touching the schema.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates tables and indexes that do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS class_types (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS packages (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	price NUMERIC(12, 2) NOT NULL,
	validity_days INTEGER NOT NULL CHECK (validity_days > 0),
	credit_count INTEGER NOT NULL CHECK (credit_count > 0),
	allowed_class_type_ids TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_packages_tenant ON packages (tenant_id);

CREATE TABLE IF NOT EXISTS class_sessions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	class_type_id TEXT NOT NULL REFERENCES class_types (id),
	trainer_id TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	capacity INTEGER NOT NULL CHECK (capacity > 0),
	booked_count INTEGER NOT NULL DEFAULT 0 CHECK (booked_count >= 0 AND booked_count <= capacity),
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant_start ON class_sessions (tenant_id, start_time);

CREATE TABLE IF NOT EXISTS credits (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	member_id TEXT NOT NULL,
	package_id TEXT NOT NULL REFERENCES packages (id),
	remaining INTEGER NOT NULL CHECK (remaining >= 0),
	expires_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credits_member ON credits (tenant_id, member_id);

CREATE TABLE IF NOT EXISTS credit_entries (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	credit_id TEXT NOT NULL REFERENCES credits (id),
	reservation_id TEXT,
	kind TEXT NOT NULL,
	delta INTEGER NOT NULL,
	at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_entries_credit ON credit_entries (credit_id, seq);

CREATE TABLE IF NOT EXISTS reservations (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES class_sessions (id),
	member_id TEXT NOT NULL,
	credit_id TEXT NOT NULL REFERENCES credits (id),
	status TEXT NOT NULL,
	refunded BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	cancelled_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active
	ON reservations (session_id, member_id) WHERE status IN ('booked', 'checked_in');
CREATE INDEX IF NOT EXISTS idx_reservations_member ON reservations (tenant_id, member_id);

CREATE TABLE IF NOT EXISTS waitlist_entries (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	tenant_id TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES class_sessions (id),
	member_id TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, member_id)
);
CREATE INDEX IF NOT EXISTS idx_waitlist_session_order ON waitlist_entries (session_id, joined_at, seq);
`

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore interface)
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx, lock: true}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) View(ctx context.Context, fn func(booking.Store) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&txStore{tx: tx})
}

type txStore struct {
	tx *sql.Tx
	// lock makes GetSession take a row lock.
	lock bool
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// CATALOG
// =============================================================================

func (ts *txStore) SaveClassType(ctx context.Context, ct booking.ClassType) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO class_types (id, tenant_id, name, created_at) VALUES ($1, $2, $3, $4)",
		ct.ID, ct.TenantID, ct.Name, ct.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save class type: %w", err)
	}
	return nil
}

func (ts *txStore) GetClassType(ctx context.Context, id booking.ClassTypeID) (*booking.ClassType, error) {
	var ct booking.ClassType
	err := ts.tx.QueryRowContext(ctx,
		"SELECT id, tenant_id, name, created_at FROM class_types WHERE id = $1", id,
	).Scan(&ct.ID, &ct.TenantID, &ct.Name, &ct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

const packageColumns = "id, tenant_id, name, price, validity_days, credit_count, allowed_class_type_ids, created_at"

func (ts *txStore) SavePackage(ctx context.Context, p booking.Package) error {
	allowed, err := json.Marshal(p.AllowedClassTypeIDs)
	if err != nil {
		return err
	}
	_, err = ts.tx.ExecContext(ctx,
		"INSERT INTO packages ("+packageColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		p.ID, p.TenantID, p.Name, p.Price, p.ValidityDays, p.CreditCount, string(allowed), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save package: %w", err)
	}
	return nil
}

func (ts *txStore) GetPackage(ctx context.Context, id booking.PackageID) (*booking.Package, error) {
	p, err := scanPackage(ts.tx.QueryRowContext(ctx,
		"SELECT "+packageColumns+" FROM packages WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	return p, err
}

func (ts *txStore) ListPackages(ctx context.Context, tenant booking.TenantID) ([]booking.Package, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+packageColumns+" FROM packages WHERE tenant_id = $1 ORDER BY name", tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPackage(row scanner) (*booking.Package, error) {
	var (
		p       booking.Package
		allowed string
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.ValidityDays, &p.CreditCount, &allowed, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(allowed), &p.AllowedClassTypeIDs); err != nil {
		return nil, fmt.Errorf("package %s allowed class types: %w", p.ID, err)
	}
	return &p, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = "id, tenant_id, class_type_id, trainer_id, start_time, end_time, capacity, booked_count, created_at"

func (ts *txStore) SaveSession(ctx context.Context, cs booking.ClassSession) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO class_sessions ("+sessionColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		cs.ID, cs.TenantID, cs.ClassTypeID, cs.TrainerID, cs.StartTime.UTC(), cs.EndTime.UTC(),
		cs.Capacity, cs.BookedCount, cs.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (ts *txStore) GetSession(ctx context.Context, id booking.SessionID) (*booking.ClassSession, error) {
	query := "SELECT " + sessionColumns + " FROM class_sessions WHERE id = $1"
	if ts.lock {
		query += " FOR UPDATE"
	}
	cs, err := scanSession(ts.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	return cs, err
}

func (ts *txStore) ListSessions(ctx context.Context, tenant booking.TenantID, from, to time.Time) ([]booking.ClassSession, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM class_sessions WHERE tenant_id = $1 AND start_time >= $2 AND start_time < $3 ORDER BY start_time, id",
		tenant, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.ClassSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (*booking.ClassSession, error) {
	var cs booking.ClassSession
	err := row.Scan(&cs.ID, &cs.TenantID, &cs.ClassTypeID, &cs.TrainerID,
		&cs.StartTime, &cs.EndTime, &cs.Capacity, &cs.BookedCount, &cs.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (ts *txStore) IncrementBooked(ctx context.Context, id booking.SessionID) (bool, error) {
	return ts.execAffected(ctx,
		"UPDATE class_sessions SET booked_count = booked_count + 1 WHERE id = $1 AND booked_count < capacity", id)
}

func (ts *txStore) DecrementBooked(ctx context.Context, id booking.SessionID) (bool, error) {
	return ts.execAffected(ctx,
		"UPDATE class_sessions SET booked_count = booked_count - 1 WHERE id = $1 AND booked_count > 0", id)
}

func (ts *txStore) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := ts.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// =============================================================================
// CREDITS
// =============================================================================

func (ts *txStore) SaveCredit(ctx context.Context, c booking.Credit) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO credits (id, tenant_id, member_id, package_id, remaining, expires_at, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		c.ID, c.TenantID, c.MemberID, c.PackageID, c.Remaining, c.ExpiresAt.UTC(), c.Status, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save credit: %w", err)
	}
	return nil
}

const creditSelect = "SELECT c.id, c.tenant_id, c.member_id, c.package_id, c.remaining, c.expires_at, c.status, c.created_at, p.allowed_class_type_ids FROM credits c LEFT JOIN packages p ON p.id = c.package_id"

func (ts *txStore) GetCredit(ctx context.Context, id booking.CreditID) (*booking.Credit, error) {
	c, err := scanCredit(ts.tx.QueryRowContext(ctx, creditSelect+" WHERE c.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	return c, err
}

func (ts *txStore) CreditsByMember(ctx context.Context, tenant booking.TenantID, member booking.MemberID) ([]booking.Credit, error) {
	rows, err := ts.tx.QueryContext(ctx,
		creditSelect+" WHERE c.tenant_id = $1 AND c.member_id = $2 ORDER BY c.expires_at, c.id",
		tenant, member)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCredit(row scanner) (*booking.Credit, error) {
	var (
		c       booking.Credit
		allowed sql.NullString
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.MemberID, &c.PackageID, &c.Remaining,
		&c.ExpiresAt, &c.Status, &c.CreatedAt, &allowed)
	if err != nil {
		return nil, err
	}
	if allowed.Valid {
		if err := json.Unmarshal([]byte(allowed.String), &c.AllowedClassTypeIDs); err != nil {
			return nil, fmt.Errorf("credit %s allowed class types: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (ts *txStore) DecrementCredit(ctx context.Context, id booking.CreditID, now time.Time) (bool, error) {
	return ts.execAffected(ctx,
		"UPDATE credits SET remaining = remaining - 1, status = CASE WHEN remaining - 1 = 0 THEN 'depleted' ELSE status END WHERE id = $1 AND status = 'active' AND remaining > 0 AND expires_at > $2",
		id, now.UTC())
}

func (ts *txStore) IncrementCredit(ctx context.Context, id booking.CreditID, now time.Time) (bool, error) {
	return ts.execAffected(ctx,
		"UPDATE credits SET remaining = remaining + 1, status = CASE WHEN status = 'expired' OR expires_at <= $2 THEN 'expired' ELSE 'active' END WHERE id = $1",
		id, now.UTC())
}

func (ts *txStore) ExpireCredits(ctx context.Context, now time.Time) (int, error) {
	result, err := ts.tx.ExecContext(ctx,
		"UPDATE credits SET status = 'expired' WHERE status = 'active' AND expires_at <= $1", now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (ts *txStore) AppendCreditEntry(ctx context.Context, e booking.CreditEntry) error {
	var res sql.NullString
	if e.ReservationID != "" {
		res = sql.NullString{String: string(e.ReservationID), Valid: true}
	}
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO credit_entries (id, credit_id, reservation_id, kind, delta, at) VALUES ($1, $2, $3, $4, $5, $6)",
		e.ID, e.CreditID, res, e.Kind, e.Delta, e.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to append credit entry: %w", err)
	}
	return nil
}

func (ts *txStore) CreditEntries(ctx context.Context, id booking.CreditID) ([]booking.CreditEntry, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT id, credit_id, reservation_id, kind, delta, at FROM credit_entries WHERE credit_id = $1 ORDER BY seq", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.CreditEntry
	for rows.Next() {
		var (
			e   booking.CreditEntry
			res sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CreditID, &res, &e.Kind, &e.Delta, &e.At); err != nil {
			return nil, err
		}
		e.ReservationID = booking.ReservationID(res.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = "id, tenant_id, session_id, member_id, credit_id, status, refunded, created_at, cancelled_at"

func (ts *txStore) InsertReservation(ctx context.Context, r booking.Reservation) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO reservations ("+reservationColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		r.ID, r.TenantID, r.SessionID, r.MemberID, r.CreditID, r.Status, r.Refunded, r.CreatedAt.UTC(), r.CancelledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return booking.ErrAlreadyBooked
		}
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (ts *txStore) GetReservation(ctx context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	r, err := scanReservation(ts.tx.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	return r, err
}

func (ts *txStore) ActiveReservation(ctx context.Context, session booking.SessionID, member booking.MemberID) (*booking.Reservation, error) {
	r, err := scanReservation(ts.tx.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE session_id = $1 AND member_id = $2 AND status IN ('booked', 'checked_in')",
		session, member))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (ts *txStore) ReservationsByMember(ctx context.Context, tenant booking.TenantID, member booking.MemberID) ([]booking.Reservation, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE tenant_id = $1 AND member_id = $2 ORDER BY created_at, id",
		tenant, member)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReservation(row scanner) (*booking.Reservation, error) {
	var (
		r         booking.Reservation
		cancelled sql.NullTime
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.SessionID, &r.MemberID, &r.CreditID,
		&r.Status, &r.Refunded, &r.CreatedAt, &cancelled)
	if err != nil {
		return nil, err
	}
	if cancelled.Valid {
		t := cancelled.Time
		r.CancelledAt = &t
	}
	return &r, nil
}

func (ts *txStore) CountActiveReservations(ctx context.Context, session booking.SessionID) (int, error) {
	var n int
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reservations WHERE session_id = $1 AND status IN ('booked', 'checked_in')",
		session).Scan(&n)
	return n, err
}

func (ts *txStore) TransitionReservation(ctx context.Context, id booking.ReservationID, from, to booking.ReservationStatus, at time.Time, refunded bool) (bool, error) {
	if to == booking.ReservationCancelled {
		return ts.execAffected(ctx,
			"UPDATE reservations SET status = $1, cancelled_at = $2, refunded = $3 WHERE id = $4 AND status = $5",
			to, at.UTC(), refunded, id, from)
	}
	return ts.execAffected(ctx,
		"UPDATE reservations SET status = $1 WHERE id = $2 AND status = $3", to, id, from)
}

// =============================================================================
// WAITLIST
// =============================================================================

const waitlistColumns = "id, tenant_id, session_id, member_id, joined_at"

func (ts *txStore) InsertWaitlistEntry(ctx context.Context, e booking.WaitlistEntry) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO waitlist_entries ("+waitlistColumns+") VALUES ($1, $2, $3, $4, $5)",
		e.ID, e.TenantID, e.SessionID, e.MemberID, e.JoinedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return booking.ErrAlreadyWaitlisted
		}
		return fmt.Errorf("failed to insert waitlist entry: %w", err)
	}
	return nil
}

func (ts *txStore) WaitlistEntryFor(ctx context.Context, session booking.SessionID, member booking.MemberID) (*booking.WaitlistEntry, error) {
	e, err := scanWaitlistEntry(ts.tx.QueryRowContext(ctx,
		"SELECT "+waitlistColumns+" FROM waitlist_entries WHERE session_id = $1 AND member_id = $2",
		session, member))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (ts *txStore) Waitlist(ctx context.Context, session booking.SessionID) ([]booking.WaitlistEntry, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+waitlistColumns+" FROM waitlist_entries WHERE session_id = $1 ORDER BY joined_at, seq", session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanWaitlistEntry(row scanner) (*booking.WaitlistEntry, error) {
	var e booking.WaitlistEntry
	if err := row.Scan(&e.ID, &e.TenantID, &e.SessionID, &e.MemberID, &e.JoinedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (ts *txStore) DeleteWaitlistEntry(ctx context.Context, id booking.WaitlistEntryID) (bool, error) {
	return ts.execAffected(ctx, "DELETE FROM waitlist_entries WHERE id = $1", id)
}

func (ts *txStore) DeleteStaleWaitlistEntries(ctx context.Context, now time.Time) (int, error) {
	result, err := ts.tx.ExecContext(ctx,
		"DELETE FROM waitlist_entries WHERE session_id IN (SELECT id FROM class_sessions WHERE start_time <= $1)",
		now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
