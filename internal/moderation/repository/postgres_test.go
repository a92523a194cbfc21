package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-lifecycle/internal/moderation/domain"
)

var recordCols = []string{"id", "account_id", "action", "actor_id", "reason_category", "reason_text",
	"reason_detail", "policy", "subject_email", "subject_name", "subject_role", "created_at", "purged_at", "purged_by"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewPostgresRepository(sqlDB), mock
}

func TestAppend_EncodesPolicy(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := &domain.Record{
		ID: "r1", AccountID: "a1", Action: domain.ActionSoftban, ActorID: "admin-1",
		Reason:       domain.OtherReason("duplicate accounts", "see ticket"),
		Policy:       &domain.Policy{BanType: domain.BanTypeAllow, AllowResignupAfterDays: 30},
		SubjectEmail: "u@example.com", SubjectName: "U", SubjectRole: "user", CreatedAt: now,
	}
	mock.ExpectExec(`INSERT INTO moderation_records`).
		WithArgs("r1", "a1", "softban", "admin-1", "other", "duplicate accounts", "see ticket",
			[]byte(`{"category":"","banType":"allow","allowResignupAfterDays":30}`),
			"u@example.com", "U", "user", now, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestByAction(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(recordCols).AddRow("r2", "a1", "softban", "admin-1", "spam", "", "",
		[]byte(`{"category":"spam","banType":"ban","allowResignupAfterDays":0}`), "u@example.com", "U", "user", now, nil, nil)
	mock.ExpectQuery(`(?s)FROM moderation_records\s+WHERE account_id = \$1 AND action = \$2 ORDER BY created_at DESC, id DESC LIMIT 1`).
		WithArgs("a1", "softban").WillReturnRows(rows)

	rec, err := repo.LatestByAction(context.Background(), "a1", domain.ActionSoftban)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.ReasonSpam, rec.Reason.Category)
	require.NotNil(t, rec.Policy)
	assert.Equal(t, domain.BanTypeBan, rec.Policy.BanType)
	assert.False(t, rec.Terminal())
}

func TestLatestByAction_None(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM moderation_records`).WillReturnError(sql.ErrNoRows)

	rec, err := repo.LatestByAction(context.Background(), "a1", domain.ActionSoftban)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStampPurged_AlreadyStamped(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Now().UTC()
	mock.ExpectExec(`(?s)UPDATE moderation_records SET purged_at = \$2, purged_by = \$3\s+WHERE id = \$1 AND purged_at IS NULL`).
		WithArgs("r1", at, "root").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.StampPurged(context.Background(), "r1", at, "root")
	require.ErrorIs(t, err, ErrAlreadyPurged)
}

func TestListSoftbanned_FilterClauses(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := domain.Filter{Q: "ali_ce", Actor: "admin-1", From: &from, Limit: 10, Offset: 20}

	mock.ExpectQuery(`(?s)SELECT DISTINCT ON \(m.account_id\).+a.ban_state = 'softbanned'.+\) latest WHERE \(subject_email ILIKE \$1 OR subject_name ILIKE \$1\) AND actor_id = \$2 AND created_at >= \$3 ORDER BY created_at DESC, id DESC LIMIT 10 OFFSET 20`).
		WithArgs(`%ali\_ce%`, "admin-1", from).
		WillReturnRows(sqlmock.NewRows(recordCols))

	list, err := repo.ListSoftbanned(context.Background(), f)
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPurged_ActorMatchesPurger(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	f := domain.Filter{Actor: "root", Role: "admin", Limit: 50}

	rows := sqlmock.NewRows(recordCols).AddRow("r1", "a1", "softban", "admin-1", "fraud", "", "", nil,
		"purged+a1@invalid", "", "admin", now.Add(-time.Hour), now, "root")
	mock.ExpectQuery(`(?s)FROM moderation_records WHERE subject_role = \$1 AND \(actor_id = \$2 OR purged_by = \$2\) AND purged_at IS NOT NULL ORDER BY purged_at DESC`).
		WithArgs("admin", "root").WillReturnRows(rows)

	list, err := repo.ListPurged(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Terminal())
	assert.Equal(t, "root", list[0].PurgedBy)
	assert.Nil(t, list[0].Policy)
}

func TestBuildFilter_Empty(t *testing.T) {
	where, args := buildFilter(domain.Filter{}, "actor_id = %s", "created_at")
	assert.Empty(t, where)
	assert.Empty(t, args)
}
