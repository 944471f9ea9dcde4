/*
Package sqlite provides a SQLite-backed implementation of booking.TxStore.

PURPOSE:
  Persists class types, packages, sessions, credits, the credit ledger,
  reservations and waitlists in a single SQLite file. Used for local
  deployments and for store-level tests with ":memory:".

CONCURRENCY:
  Every unit of work is a BEGIN IMMEDIATE transaction on a single
  connection, so units are serialized. The seat and credit counters are
  still changed only through conditional UPDATEs so the same SQL is safe
  under PostgreSQL's weaker default isolation.

KEY TABLES:
  class_sessions:   capacity and booked_count (CHECK booked_count <= capacity)
  credits:          remaining and status
  credit_entries:   append-only credit ledger
  reservations:     one active row per (session, member), enforced by a
                    partial unique index
  waitlist_entries: FIFO by (joined_at, seq)

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order equals time order.

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - booking/store.go: Interface definitions
  - store/postgres/postgres.go: Same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/class-booking/booking"
)

// Store implements booking.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS class_types (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		validity_days INTEGER NOT NULL CHECK (validity_days > 0),
		credit_count INTEGER NOT NULL CHECK (credit_count > 0),
		allowed_class_type_ids TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packages_tenant
		ON packages(tenant_id);

	CREATE TABLE IF NOT EXISTS class_sessions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		class_type_id TEXT NOT NULL REFERENCES class_types(id),
		trainer_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		capacity INTEGER NOT NULL CHECK (capacity > 0),
		booked_count INTEGER NOT NULL DEFAULT 0
			CHECK (booked_count >= 0 AND booked_count <= capacity),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_tenant_start
		ON class_sessions(tenant_id, start_time);

	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		package_id TEXT NOT NULL REFERENCES packages(id),
		remaining INTEGER NOT NULL CHECK (remaining >= 0),
		expires_at TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credits_member
		ON credits(tenant_id, member_id);
	CREATE INDEX IF NOT EXISTS idx_credits_status_expiry
		ON credits(status, expires_at);

	-- Append-only credit ledger
	CREATE TABLE IF NOT EXISTS credit_entries (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		reservation_id TEXT,
		kind TEXT NOT NULL,
		delta INTEGER NOT NULL,
		at TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_entries_credit
		ON credit_entries(credit_id, seq);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL REFERENCES class_sessions(id),
		member_id TEXT NOT NULL,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		status TEXT NOT NULL,
		refunded INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		cancelled_at TEXT
	);

	-- At most one active reservation per member per session
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active
		ON reservations(session_id, member_id)
		WHERE status IN ('booked', 'checked_in');
	CREATE INDEX IF NOT EXISTS idx_reservations_member
		ON reservations(tenant_id, member_id);

	CREATE TABLE IF NOT EXISTS waitlist_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL REFERENCES class_sessions(id),
		member_id TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		UNIQUE(session_id, member_id)
	);

	CREATE INDEX IF NOT EXISTS idx_waitlist_session_order
		ON waitlist_entries(session_id, joined_at, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store booking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(store booking.Store) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&txStore{tx: sqlTx})
}

type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// CATALOG
// =============================================================================

func (ts *txStore) SaveClassType(ctx context.Context, ct booking.ClassType) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO class_types (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)",
		ct.ID, ct.TenantID, ct.Name, formatTime(ct.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save class type: %w", err)
	}
	return nil
}

func (ts *txStore) GetClassType(ctx context.Context, id booking.ClassTypeID) (*booking.ClassType, error) {
	var (
		ct        booking.ClassType
		createdAt string
	)
	err := ts.tx.QueryRowContext(ctx,
		"SELECT id, tenant_id, name, created_at FROM class_types WHERE id = ?", id,
	).Scan(&ct.ID, &ct.TenantID, &ct.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ct.CreatedAt = parseTime(createdAt)
	return &ct, nil
}

func (ts *txStore) SavePackage(ctx context.Context, p booking.Package) error {
	allowed, err := json.Marshal(p.AllowedClassTypeIDs)
	if err != nil {
		return err
	}
	_, err = ts.tx.ExecContext(ctx, `
		INSERT INTO packages
		(id, tenant_id, name, price, validity_days, credit_count, allowed_class_type_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Name, p.Price.String(), p.ValidityDays, p.CreditCount,
		string(allowed), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save package: %w", err)
	}
	return nil
}

const packageColumns = "id, tenant_id, name, price, validity_days, credit_count, allowed_class_type_ids, created_at"

func (ts *txStore) GetPackage(ctx context.Context, id booking.PackageID) (*booking.Package, error) {
	p, err := scanPackage(ts.tx.QueryRowContext(ctx,
		"SELECT "+packageColumns+" FROM packages WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, booking.ErrNotFound
	}
	return p, err
}

func (ts *txStore) ListPackages(ctx context.Context, tenant booking.TenantID) ([]booking.Package, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+packageColumns+" FROM packages WHERE tenant_id = ? ORDER BY name", tenant)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanPackage(row scanner) (*booking.Package, error) {
	var (
		p                  booking.Package
		price, allowed, at string
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &price, &p.ValidityDays, &p.CreditCount, &allowed, &at); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("package %s price: %w", p.ID, err)
	}
	if p.AllowedClassTypeIDs, err = decodeAllowed(allowed); err != nil {
		return nil, fmt.Errorf("package %s allowed class types: %w", p.ID, err)
	}
	p.CreatedAt = parseTime(at)
	return &p, nil
}

func decodeAllowed(raw string) ([]booking.ClassTypeID, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []booking.ClassTypeID
	err := json.Unmarshal([]byte(raw), &ids)
	return ids, err
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = "id, tenant_id, class_type_id, trainer_id, start_time, end_time, capacity, booked_count, created_at"

func (ts *txStore) SaveSession(ctx context.Context, cs booking.ClassSession) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO class_sessions ("+sessionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		cs.ID, cs.TenantID, cs.ClassTypeID, cs.TrainerID,
		formatTime(cs.StartTime), formatTime(cs.EndTime),
		cs.Capacity, cs.BookedCount, formatTime(cs.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (ts *txStore) GetSession(ctx context.Context, id booking.SessionID) (*booking.ClassSession, error) {
	cs, err := scanSession(ts.tx.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM class_sessions WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, booking.ErrNotFound
	}
	return cs, err
}

func (ts *txStore) ListSessions(ctx context.Context, tenant booking.TenantID, from, to time.Time) ([]booking.ClassSession, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM class_sessions WHERE tenant_id = ? AND start_time >= ? AND start_time < ? ORDER BY start_time, id",
		tenant, formatTime(from), formatTime(to))
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
	var (
		cs                 booking.ClassSession
		start, end, create string
	)
	err := row.Scan(&cs.ID, &cs.TenantID, &cs.ClassTypeID, &cs.TrainerID,
		&start, &end, &cs.Capacity, &cs.BookedCount, &create)
	if err != nil {
		return nil, err
	}
	cs.StartTime = parseTime(start)
	cs.EndTime = parseTime(end)
	cs.CreatedAt = parseTime(create)
	return &cs, nil
}

func (ts *txStore) IncrementBooked(ctx context.Context, id booking.SessionID) (bool, error) {
	return ts.execAffected(ctx,
		"UPDATE class_sessions SET booked_count = booked_count + 1 WHERE id = ? AND booked_count < capacity", id)
}

func (ts *txStore) DecrementBooked(ctx context.Context, id booking.SessionID) (bool, error) {
	return ts.execAffected(ctx,
		"UPDATE class_sessions SET booked_count = booked_count - 1 WHERE id = ? AND booked_count > 0", id)
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
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO credits (id, tenant_id, member_id, package_id, remaining, expires_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.MemberID, c.PackageID, c.Remaining,
		formatTime(c.ExpiresAt), c.Status, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save credit: %w", err)
	}
	return nil
}

const creditSelect = `
	SELECT c.id, c.tenant_id, c.member_id, c.package_id, c.remaining, c.expires_at,
	       c.status, c.created_at, p.allowed_class_type_ids
	FROM credits c LEFT JOIN packages p ON p.id = c.package_id`

func (ts *txStore) GetCredit(ctx context.Context, id booking.CreditID) (*booking.Credit, error) {
	c, err := scanCredit(ts.tx.QueryRowContext(ctx, creditSelect+" WHERE c.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, booking.ErrNotFound
	}
	return c, err
}

func (ts *txStore) CreditsByMember(ctx context.Context, tenant booking.TenantID, member booking.MemberID) ([]booking.Credit, error) {
	rows, err := ts.tx.QueryContext(ctx,
		creditSelect+" WHERE c.tenant_id = ? AND c.member_id = ? ORDER BY c.expires_at, c.id",
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
		c                  booking.Credit
		expires, createdAt string
		allowed            sql.NullString
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.MemberID, &c.PackageID, &c.Remaining,
		&expires, &c.Status, &createdAt, &allowed)
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = parseTime(expires)
	c.CreatedAt = parseTime(createdAt)
	if c.AllowedClassTypeIDs, err = decodeAllowed(allowed.String); err != nil {
		return nil, fmt.Errorf("credit %s allowed class types: %w", c.ID, err)
	}
	return &c, nil
}

func (ts *txStore) DecrementCredit(ctx context.Context, id booking.CreditID, now time.Time) (bool, error) {
	return ts.execAffected(ctx, `
		UPDATE credits
		SET remaining = remaining - 1,
		    status = CASE WHEN remaining - 1 = 0 THEN 'depleted' ELSE status END
		WHERE id = ? AND status = 'active' AND remaining > 0 AND expires_at > ?`,
		id, formatTime(now))
}

func (ts *txStore) IncrementCredit(ctx context.Context, id booking.CreditID, now time.Time) (bool, error) {
	return ts.execAffected(ctx, `
		UPDATE credits
		SET remaining = remaining + 1,
		    status = CASE WHEN status = 'expired' OR expires_at <= ? THEN 'expired' ELSE 'active' END
		WHERE id = ?`,
		formatTime(now), id)
}

func (ts *txStore) ExpireCredits(ctx context.Context, now time.Time) (int, error) {
	result, err := ts.tx.ExecContext(ctx,
		"UPDATE credits SET status = 'expired' WHERE status = 'active' AND expires_at <= ?",
		formatTime(now))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (ts *txStore) AppendCreditEntry(ctx context.Context, e booking.CreditEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO credit_entries (id, credit_id, reservation_id, kind, delta, at, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM credit_entries WHERE credit_id = ?))`,
		e.ID, e.CreditID, nullString(string(e.ReservationID)), e.Kind, e.Delta, formatTime(e.At), e.CreditID,
	)
	if err != nil {
		return fmt.Errorf("failed to append credit entry: %w", err)
	}
	return nil
}

func (ts *txStore) CreditEntries(ctx context.Context, id booking.CreditID) ([]booking.CreditEntry, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT id, credit_id, reservation_id, kind, delta, at FROM credit_entries WHERE credit_id = ? ORDER BY seq",
		id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.CreditEntry
	for rows.Next() {
		var (
			e   booking.CreditEntry
			res sql.NullString
			at  string
		)
		if err := rows.Scan(&e.ID, &e.CreditID, &res, &e.Kind, &e.Delta, &at); err != nil {
			return nil, err
		}
		e.ReservationID = booking.ReservationID(res.String)
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = "id, tenant_id, session_id, member_id, credit_id, status, refunded, created_at, cancelled_at"

func (ts *txStore) InsertReservation(ctx context.Context, r booking.Reservation) error {
	var cancelled sql.NullString
	if r.CancelledAt != nil {
		cancelled = nullString(formatTime(*r.CancelledAt))
	}
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO reservations ("+reservationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.TenantID, r.SessionID, r.MemberID, r.CreditID, r.Status, r.Refunded,
		formatTime(r.CreatedAt), cancelled,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrAlreadyBooked
		}
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (ts *txStore) GetReservation(ctx context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	r, err := scanReservation(ts.tx.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, booking.ErrNotFound
	}
	return r, err
}

func (ts *txStore) ActiveReservation(ctx context.Context, session booking.SessionID, member booking.MemberID) (*booking.Reservation, error) {
	r, err := scanReservation(ts.tx.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE session_id = ? AND member_id = ? AND status IN ('booked', 'checked_in')",
		session, member))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (ts *txStore) ReservationsByMember(ctx context.Context, tenant booking.TenantID, member booking.MemberID) ([]booking.Reservation, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE tenant_id = ? AND member_id = ? ORDER BY created_at, id",
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
		createdAt string
		cancelled sql.NullString
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.SessionID, &r.MemberID, &r.CreditID,
		&r.Status, &r.Refunded, &createdAt, &cancelled)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	if cancelled.Valid {
		t := parseTime(cancelled.String)
		r.CancelledAt = &t
	}
	return &r, nil
}

func (ts *txStore) CountActiveReservations(ctx context.Context, session booking.SessionID) (int, error) {
	var n int
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reservations WHERE session_id = ? AND status IN ('booked', 'checked_in')",
		session).Scan(&n)
	return n, err
}

func (ts *txStore) TransitionReservation(ctx context.Context, id booking.ReservationID, from, to booking.ReservationStatus, at time.Time, refunded bool) (bool, error) {
	if to == booking.ReservationCancelled {
		return ts.execAffected(ctx,
			"UPDATE reservations SET status = ?, cancelled_at = ?, refunded = ? WHERE id = ? AND status = ?",
			to, formatTime(at), refunded, id, from)
	}
	return ts.execAffected(ctx,
		"UPDATE reservations SET status = ? WHERE id = ? AND status = ?", to, id, from)
}

// =============================================================================
// WAITLIST
// =============================================================================

const waitlistColumns = "id, tenant_id, session_id, member_id, joined_at"

func (ts *txStore) InsertWaitlistEntry(ctx context.Context, e booking.WaitlistEntry) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO waitlist_entries ("+waitlistColumns+") VALUES (?, ?, ?, ?, ?)",
		e.ID, e.TenantID, e.SessionID, e.MemberID, formatTime(e.JoinedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrAlreadyWaitlisted
		}
		return fmt.Errorf("failed to insert waitlist entry: %w", err)
	}
	return nil
}

func (ts *txStore) WaitlistEntryFor(ctx context.Context, session booking.SessionID, member booking.MemberID) (*booking.WaitlistEntry, error) {
	e, err := scanWaitlistEntry(ts.tx.QueryRowContext(ctx,
		"SELECT "+waitlistColumns+" FROM waitlist_entries WHERE session_id = ? AND member_id = ?",
		session, member))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (ts *txStore) Waitlist(ctx context.Context, session booking.SessionID) ([]booking.WaitlistEntry, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT "+waitlistColumns+" FROM waitlist_entries WHERE session_id = ? ORDER BY joined_at, seq",
		session)
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
	var (
		e      booking.WaitlistEntry
		joined string
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.SessionID, &e.MemberID, &joined); err != nil {
		return nil, err
	}
	e.JoinedAt = parseTime(joined)
	return &e, nil
}

func (ts *txStore) DeleteWaitlistEntry(ctx context.Context, id booking.WaitlistEntryID) (bool, error) {
	return ts.execAffected(ctx, "DELETE FROM waitlist_entries WHERE id = ?", id)
}

func (ts *txStore) DeleteStaleWaitlistEntries(ctx context.Context, now time.Time) (int, error) {
	result, err := ts.tx.ExecContext(ctx, `
		DELETE FROM waitlist_entries
		WHERE session_id IN (SELECT id FROM class_sessions WHERE start_time <= ?)`,
		formatTime(now))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
