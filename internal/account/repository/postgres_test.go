package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-lifecycle/internal/account/domain"
)

var accountCols = []string{"id", "email", "name", "phone", "password_hash", "role", "is_default_admin",
	"admin_approval_status", "status", "ban_state", "failed_login_count", "lockout_until", "version",
	"created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewPostgresRepository(sqlDB), mock
}

func TestGetByEmail_NormalizesAndScans(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Minute)
	rows := sqlmock.NewRows(accountCols).AddRow("a1", "root@example.com", "Root", "", "hash", "rootadmin", true,
		"approved", "active", "none", 2, until, int64(7), now, now)
	mock.ExpectQuery(`FROM accounts WHERE lower\(email\) = \$1`).WithArgs("root@example.com").WillReturnRows(rows)

	a, err := repo.GetByEmail(context.Background(), " Root@Example.com ")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, domain.RoleRootAdmin, a.Role)
	assert.True(t, a.IsDefaultAdmin)
	assert.Equal(t, int64(7), a.Version)
	require.NotNil(t, a.LockoutUntil)
	assert.True(t, a.LockoutUntil.Equal(until))
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM accounts WHERE id = \$1`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	a, err := repo.GetByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestUpdate_CompareAndSwap(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	a := &domain.Account{ID: "a1", Email: "u@example.com", Role: domain.RoleUser, Status: domain.StatusSuspended,
		BanState: domain.BanNone, AdminApprovalStatus: domain.ApprovalNone, Version: 3, UpdatedAt: now}

	mock.ExpectExec(`(?s)^UPDATE accounts SET.+version = version \+ 1\s+WHERE id = \$1 AND version = \$2$`).
		WithArgs("a1", int64(3), "u@example.com", "", "", "", "user", false, "none", "suspended", "none", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), a))
	assert.Equal(t, int64(4), a.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_LostRaceIsVersionConflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	a := &domain.Account{ID: "a1", Email: "u@example.com", Version: 3}

	mock.ExpectExec(`UPDATE accounts SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), a)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(3), a.Version, "version must not advance on conflict")
}

func TestCreate_DuplicateEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT INTO accounts`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	err := repo.Create(context.Background(), &domain.Account{ID: "a2", Email: "dup@example.com"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestCreate_SecondDefaultAdminRejected(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT INTO accounts`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_single_default_admin"})

	err := repo.Create(context.Background(), &domain.Account{ID: "a3", Email: "x@example.com",
		Role: domain.RoleRootAdmin, IsDefaultAdmin: true})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateEmail)
}

func TestCountDefaultAdmins(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM accounts WHERE is_default_admin`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	n, err := repo.CountDefaultAdmins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSetLoginState(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	until := time.Now().Add(15 * time.Minute)
	mock.ExpectExec(`UPDATE accounts SET failed_login_count = \$2, lockout_until = \$3 WHERE id = \$1`).
		WithArgs("a1", 0, until).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetLoginState(context.Background(), "a1", 0, &until))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailedLogin(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)
	update := `UPDATE accounts SET\s+failed_login_count = CASE WHEN failed_login_count \+ 1 >= \$2 THEN 0 ELSE failed_login_count \+ 1 END.*` +
		`WHERE id = \$1 AND \(lockout_until IS NULL OR lockout_until <= \$3\)\s+RETURNING failed_login_count, lockout_until`

	t.Run("counts", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(update).WithArgs("a1", 5, now, until).
			WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "lockout_until"}).AddRow(3, nil))

		res, err := repo.RecordFailedLogin(context.Background(), "a1", 5, now, until)
		require.NoError(t, err)
		assert.Equal(t, FailedLogin{Count: 3}, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("trips", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(update).WithArgs("a1", 5, now, until).
			WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "lockout_until"}).AddRow(0, until))

		res, err := repo.RecordFailedLogin(context.Background(), "a1", 5, now, until)
		require.NoError(t, err)
		assert.True(t, res.Tripped)
		require.NotNil(t, res.LockoutUntil)
		assert.Equal(t, until, *res.LockoutUntil)
	})

	t.Run("already locked", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		earlier := now.Add(5 * time.Minute)
		mock.ExpectQuery(update).WithArgs("a1", 5, now, until).
			WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "lockout_until"}))
		mock.ExpectQuery(`SELECT failed_login_count, lockout_until FROM accounts WHERE id = \$1`).WithArgs("a1").
			WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "lockout_until"}).AddRow(0, earlier))

		res, err := repo.RecordFailedLogin(context.Background(), "a1", 5, now, until)
		require.NoError(t, err)
		assert.False(t, res.Tripped)
		require.NotNil(t, res.LockoutUntil)
		assert.Equal(t, earlier, *res.LockoutUntil)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListActiveIDs(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`SELECT id FROM accounts WHERE ban_state = 'none' AND status = 'active'`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a1").AddRow("a2"))

	ids, err := repo.ListActiveIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
