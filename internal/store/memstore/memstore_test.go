package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountdomain "account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	moderationdomain "account-lifecycle/internal/moderation/domain"
	moderationrepo "account-lifecycle/internal/moderation/repository"
	otcdomain "account-lifecycle/internal/otc/domain"
	sessiondomain "account-lifecycle/internal/session/domain"
	"account-lifecycle/internal/store"
)

func seed(t *testing.T, b *store.Backend, accts ...*accountdomain.Account) {
	t.Helper()
	for _, a := range accts {
		require.NoError(t, b.Accounts.Create(context.Background(), a))
	}
}

func TestAccounts_UpdateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	b := New().Backend()
	seed(t, b, &accountdomain.Account{ID: "u1", Email: "U1@Example.com"})

	a, err := b.Accounts.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", a.Email)
	assert.EqualValues(t, 1, a.Version)

	stale := a.Clone()
	a.Status = accountdomain.StatusSuspended
	require.NoError(t, b.Accounts.Update(ctx, a))
	assert.EqualValues(t, 2, a.Version)

	stale.Name = "late writer"
	assert.ErrorIs(t, b.Accounts.Update(ctx, stale), accountrepo.ErrVersionConflict)
}

func TestAccounts_UniqueIndexes(t *testing.T) {
	ctx := context.Background()
	b := New().Backend()
	seed(t, b,
		&accountdomain.Account{ID: "root", Email: "root@x.io", Role: accountdomain.RoleRootAdmin, IsDefaultAdmin: true},
		&accountdomain.Account{ID: "adm", Email: "adm@x.io", Role: accountdomain.RoleAdmin},
	)

	err := b.Accounts.Create(ctx, &accountdomain.Account{ID: "dup", Email: "ROOT@x.io"})
	assert.ErrorIs(t, err, accountrepo.ErrDuplicateEmail)

	adm, _ := b.Accounts.GetByID(ctx, "adm")
	adm.Role = accountdomain.RoleRootAdmin
	adm.IsDefaultAdmin = true
	assert.ErrorIs(t, b.Accounts.Update(ctx, adm), ErrDefaultAdminTaken)
}

func TestAccounts_SetLoginStateSurvivesUpdate(t *testing.T) {
	ctx := context.Background()
	b := New().Backend()
	seed(t, b, &accountdomain.Account{ID: "u1", Email: "u1@x.io"})

	until := time.Now().Add(10 * time.Minute)
	require.NoError(t, b.Accounts.SetLoginState(ctx, "u1", 0, &until))

	a, _ := b.Accounts.GetByID(ctx, "u1")
	a.Name = "renamed"
	a.LockoutUntil = nil
	require.NoError(t, b.Accounts.Update(ctx, a))

	got, _ := b.Accounts.GetByID(ctx, "u1")
	require.NotNil(t, got.LockoutUntil)
	locked, err := b.Accounts.ListLocked(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, locked, 1)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	b := s.Backend()
	seed(t, b, &accountdomain.Account{ID: "u1", Email: "u1@x.io"})
	require.NoError(t, b.Sessions.Create(ctx, &sessiondomain.Session{ID: "s1", AccountID: "u1", ExpiresAt: time.Now().Add(time.Hour)}))

	boom := errors.New("boom")
	err := b.Tx.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		a, _ := r.Accounts.GetByID(ctx, "u1")
		a.BanState = accountdomain.BanSoftbanned
		if err := r.Accounts.Update(ctx, a); err != nil {
			return err
		}
		if _, err := r.Sessions.RevokeAllByAccount(ctx, "u1", time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	a, _ := b.Accounts.GetByID(ctx, "u1")
	assert.Equal(t, accountdomain.BanNone, a.BanState)
	assert.EqualValues(t, 1, a.Version)
	sess, _ := b.Sessions.GetByID(ctx, "s1")
	assert.Nil(t, sess.RevokedAt)
}

func TestInject_FailsNamedWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	b := s.Backend()
	seed(t, b, &accountdomain.Account{ID: "u1", Email: "u1@x.io"})

	injected := errors.New("disk on fire")
	s.Inject = func(op string) error {
		if op == "moderation.Append" {
			return injected
		}
		return nil
	}
	err := b.Tx.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		a, _ := r.Accounts.GetByID(ctx, "u1")
		a.Status = accountdomain.StatusSuspended
		if err := r.Accounts.Update(ctx, a); err != nil {
			return err
		}
		return r.Moderation.Append(ctx, &moderationdomain.Record{ID: "m1", AccountID: "u1", Action: moderationdomain.ActionSuspend})
	})
	require.ErrorIs(t, err, injected)

	a, _ := b.Accounts.GetByID(ctx, "u1")
	assert.Equal(t, accountdomain.StatusActive, a.Status)
}

func TestModeration_SoftbannedAndPurgedViews(t *testing.T) {
	ctx := context.Background()
	b := New().Backend()
	now := time.Now().UTC()
	seed(t, b,
		&accountdomain.Account{ID: "u1", Email: "alice@x.io", BanState: accountdomain.BanSoftbanned},
		&accountdomain.Account{ID: "u2", Email: "bob@x.io", BanState: accountdomain.BanPurged},
		&accountdomain.Account{ID: "u3", Email: "carol@x.io"},
	)
	recs := []*moderationdomain.Record{
		{ID: "r1", AccountID: "u1", Action: moderationdomain.ActionSoftban, ActorID: "adm1", SubjectEmail: "alice@x.io", SubjectRole: "user", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "r2", AccountID: "u1", Action: moderationdomain.ActionSoftban, ActorID: "adm2", SubjectEmail: "alice@x.io", SubjectRole: "user", CreatedAt: now.Add(-time.Hour)},
		{ID: "r3", AccountID: "u2", Action: moderationdomain.ActionSoftban, ActorID: "adm1", SubjectEmail: "bob@x.io", SubjectRole: "admin", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "r4", AccountID: "u3", Action: moderationdomain.ActionSoftban, ActorID: "adm1", SubjectEmail: "carol@x.io", SubjectRole: "user", CreatedAt: now.Add(-4 * time.Hour)},
	}
	for _, r := range recs {
		require.NoError(t, b.Moderation.Append(ctx, r))
	}
	require.NoError(t, b.Moderation.StampPurged(ctx, "r3", now, "root"))
	assert.ErrorIs(t, b.Moderation.StampPurged(ctx, "r3", now, "root"), moderationrepo.ErrAlreadyPurged)

	soft, err := b.Moderation.ListSoftbanned(ctx, moderationdomain.Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, soft, 1)
	assert.Equal(t, "r2", soft[0].ID)

	purged, err := b.Moderation.ListPurged(ctx, moderationdomain.Filter{Actor: "root", Limit: 10})
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, "r3", purged[0].ID)

	purged, err = b.Moderation.ListPurged(ctx, moderationdomain.Filter{Roles: []string{"user"}, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, purged)

	hist, err := b.Moderation.ListByAccount(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "r2", hist[0].ID)
}

func TestOTC_ConsumeGrantIsSingleUse(t *testing.T) {
	ctx := context.Background()
	b := New().Backend()
	require.NoError(t, b.OTC.CreateGrant(ctx, otcGrant("h1")))

	g, err := b.OTC.ConsumeGrant(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Empty(t, g.Token)

	g, err = b.OTC.ConsumeGrant(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, g)
}

func otcGrant(hash string) *otcdomain.Grant {
	return &otcdomain.Grant{Token: "secret", TokenHash: hash, AccountID: "u1",
		Purpose: otcdomain.PurposeAccountDeletion, ExpiresAt: time.Now().Add(time.Minute)}
}
