package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_WithinTx_CommitsAcrossRepos(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sessions SET revoked_at`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT count\(\*\) FROM accounts WHERE is_default_admin`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	b := NewPostgres(sqlDB)
	err = b.Tx.WithinTx(context.Background(), func(ctx context.Context, r Repos) error {
		n, err := r.Sessions.RevokeAllByAccount(ctx, "acc-1", time.Now())
		if err != nil {
			return err
		}
		assert.EqualValues(t, 2, n)
		c, err := r.Accounts.CountDefaultAdmins(ctx)
		assert.Equal(t, 1, c)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithinTx_RollsBackOnError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = NewPostgres(sqlDB).Tx.WithinTx(context.Background(), func(ctx context.Context, r Repos) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
