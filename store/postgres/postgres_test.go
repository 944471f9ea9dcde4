package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/class-booking/booking"
)

var when = time.Date(2026, 4, 6, 7, 30, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func sessionRow(booked int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "class_type_id", "trainer_id", "start_time", "end_time", "capacity", "booked_count", "created_at",
	}).AddRow("s1", "t1", "yoga", "coach", when, when.Add(time.Hour), 10, booked, when)
}

func TestGetSession_LocksRowInWriteTx(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT " + sessionColumns + " FROM class_sessions WHERE id = $1 FOR UPDATE").
		WithArgs("s1").
		WillReturnRows(sessionRow(3))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(st booking.Store) error {
		cs, err := st.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 3, cs.BookedCount)
		assert.Equal(t, 7, cs.Available())
		return nil
	})
	require.NoError(t, err)
}

func TestGetSession_NoLockInView(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT " + sessionColumns + " FROM class_sessions WHERE id = $1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := s.View(ctx, func(st booking.Store) error {
		_, err := st.GetSession(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestIncrementBooked_ReportsWhetherSeatWasTaken(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	query := "UPDATE class_sessions SET booked_count = booked_count + 1 WHERE id = $1 AND booked_count < capacity"

	mock.ExpectBegin()
	mock.ExpectExec(query).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(st booking.Store) error {
		ok, err := st.IncrementBooked(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.IncrementBooked(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestDecrementCredit_PassesNow(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credits SET remaining = remaining - 1, status = CASE WHEN remaining - 1 = 0 THEN 'depleted' ELSE status END WHERE id = $1 AND status = 'active' AND remaining > 0 AND expires_at > $2").
		WithArgs("c1", when).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(st booking.Store) error {
		ok, err := st.DecrementCredit(ctx, "c1", when)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestInsertReservation_UniqueViolationIsAlreadyBooked(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reservations (" + reservationColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_reservations_active"})
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(st booking.Store) error {
		return st.InsertReservation(ctx, booking.Reservation{
			ID: "r1", TenantID: "t1", SessionID: "s1", MemberID: "alice", CreditID: "c1",
			Status: booking.ReservationBooked, CreatedAt: when,
		})
	})
	assert.ErrorIs(t, err, booking.ErrAlreadyBooked)
}

func TestInsertWaitlistEntry_UniqueViolationIsAlreadyWaitlisted(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO waitlist_entries (" + waitlistColumns + ") VALUES ($1, $2, $3, $4, $5)").
		WithArgs("w1", "t1", "s1", "alice", when).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(st booking.Store) error {
		return st.InsertWaitlistEntry(ctx, booking.WaitlistEntry{
			ID: "w1", TenantID: "t1", SessionID: "s1", MemberID: "alice", JoinedAt: when,
		})
	})
	assert.ErrorIs(t, err, booking.ErrAlreadyWaitlisted)
}

func TestWithTx_RollsBackOnCallbackError(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE class_sessions SET booked_count = booked_count - 1 WHERE id = $1 AND booked_count > 0").
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(st booking.Store) error {
		if _, err := st.DecrementBooked(ctx, "s1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestGetPackage_ScansPriceAndAllowedTypes(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT " + packageColumns + " FROM packages WHERE id = $1").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "name", "price", "validity_days", "credit_count", "allowed_class_type_ids", "created_at",
		}).AddRow("p1", "t1", "10-Pack", "149.50", 30, 10, `["yoga","spin"]`, when))
	mock.ExpectRollback()

	err := s.View(ctx, func(st booking.Store) error {
		p, err := st.GetPackage(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("149.50").Equal(p.Price))
		assert.Equal(t, []booking.ClassTypeID{"yoga", "spin"}, p.AllowedClassTypeIDs)
		return nil
	})
	require.NoError(t, err)
}

func TestExpireCredits_ReturnsAffectedRows(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credits SET status = 'expired' WHERE status = 'active' AND expires_at <= $1").
		WithArgs(when).
		WillReturnResult(driver.RowsAffected(4))
	mock.ExpectCommit()

	var n int
	err := s.WithTx(ctx, func(st booking.Store) error {
		var err error
		n, err = st.ExpireCredits(ctx, when)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
