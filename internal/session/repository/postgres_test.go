package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionCols = []string{"id", "account_id", "expires_at", "revoked_at", "last_seen_at", "ip_address",
	"password_verified_at", "management_unlocked_until", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewPostgresRepository(sqlDB), mock
}

func TestGetByID_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(sessionCols).
		AddRow("s1", "a1", now.Add(time.Hour), nil, now, "10.0.0.1", now, nil, now)
	mock.ExpectQuery(`(?s)^SELECT .+ FROM sessions WHERE id = \$1$`).WithArgs("s1").WillReturnRows(rows)

	s, err := repo.GetByID(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "a1", s.AccountID)
	assert.Nil(t, s.RevokedAt)
	require.NotNil(t, s.PasswordVerifiedAt)
	assert.True(t, s.PasswordVerifiedAt.Equal(now))
	assert.Nil(t, s.ManagementUnlockedUntil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM sessions WHERE id = \$1`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	s, err := repo.GetByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestGetByID_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM sessions WHERE id = \$1`).WithArgs("s1").WillReturnError(errors.New("db down"))

	_, err := repo.GetByID(context.Background(), "s1")
	require.Error(t, err)
}

func TestRevokeAllByAccount(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Now().UTC()
	mock.ExpectExec(`^UPDATE sessions SET revoked_at = \$2 WHERE account_id = \$1 AND revoked_at IS NULL$`).
		WithArgs("a1", at).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllByAccount(context.Background(), "a1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveByAccount(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(sessionCols).
		AddRow("s1", "a1", now.Add(time.Hour), nil, nil, "", nil, nil, now).
		AddRow("s2", "a1", now.Add(time.Hour), nil, nil, "", nil, now.Add(5*time.Minute), now)
	mock.ExpectQuery(`(?s)FROM sessions\s+WHERE account_id = \$1 AND revoked_at IS NULL AND expires_at > \$2`).
		WithArgs("a1", now).WillReturnRows(rows)

	list, err := repo.ListActiveByAccount(context.Background(), "a1", now)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[1].ManagementUnlockedUntil)
}

func TestSetPasswordVerified_Clear(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE sessions SET password_verified_at = \$2 WHERE id = \$1`).
		WithArgs("s1", sql.NullTime{}).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetPasswordVerified(context.Background(), "s1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
