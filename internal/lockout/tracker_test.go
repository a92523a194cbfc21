package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/store"
	"account-lifecycle/internal/store/memstore"
)

func newTracker(t *testing.T) (*Tracker, *store.Backend, *time.Time) {
	t.Helper()
	b := memstore.New().Backend()
	require.NoError(t, b.Accounts.Create(context.Background(), &accountdomain.Account{ID: "u1", Email: "u1@x.io"}))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker(b.Accounts, nil, zerolog.Nop(), 5, 15*time.Minute)
	tr.now = func() time.Time { return now }
	return tr, b, &now
}

func TestTracker_LocksAtThreshold(t *testing.T) {
	tr, b, now := newTracker(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		a, _ := b.Accounts.GetByID(ctx, "u1")
		locked, err := tr.RecordFailure(ctx, a)
		require.NoError(t, err)
		assert.False(t, locked)
		assert.NoError(t, tr.Check(a))
	}
	a, _ := b.Accounts.GetByID(ctx, "u1")
	assert.Equal(t, 4, a.FailedLoginCount)

	locked, err := tr.RecordFailure(ctx, a)
	require.NoError(t, err)
	assert.True(t, locked)

	a, _ = b.Accounts.GetByID(ctx, "u1")
	assert.Equal(t, 0, a.FailedLoginCount, "counter resets once locked")
	require.NotNil(t, a.LockoutUntil)
	assert.Equal(t, now.Add(15*time.Minute), *a.LockoutUntil)

	err = tr.Check(a)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Contains(t, err.Error(), "~15 minutes remaining")
}

func TestTracker_CheckRoundsUp(t *testing.T) {
	tr, _, now := newTracker(t)
	until := now.Add(90 * time.Second)
	err := tr.Check(&accountdomain.Account{LockoutUntil: &until})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "~2 minutes")

	past := now.Add(-time.Second)
	assert.NoError(t, tr.Check(&accountdomain.Account{LockoutUntil: &past}))
}

func TestTracker_SuccessResets(t *testing.T) {
	tr, b, _ := newTracker(t)
	ctx := context.Background()
	a, _ := b.Accounts.GetByID(ctx, "u1")
	_, err := tr.RecordFailure(ctx, a)
	require.NoError(t, err)

	require.NoError(t, tr.RecordSuccess(ctx, a))
	a, _ = b.Accounts.GetByID(ctx, "u1")
	assert.Zero(t, a.FailedLoginCount)
	assert.Nil(t, a.LockoutUntil)
}

func TestTracker_List(t *testing.T) {
	tr, b, now := newTracker(t)
	ctx := context.Background()
	require.NoError(t, b.Accounts.Create(ctx, &accountdomain.Account{ID: "u2", Email: "u2@x.io"}))
	until := now.Add(10 * time.Minute)
	require.NoError(t, b.Accounts.SetLoginState(ctx, "u2", 0, &until))
	expired := now.Add(-time.Minute)
	require.NoError(t, b.Accounts.SetLoginState(ctx, "u1", 0, &expired))

	entries, err := tr.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u2@x.io", entries[0].Email)
	assert.Equal(t, 10, entries[0].MinutesRemaining)
	assert.Equal(t, until, entries[0].UnlockAt)
}

func TestTracker_ConcurrentFailuresAllCount(t *testing.T) {
	tr, b, _ := newTracker(t)
	ctx := context.Background()
	stale, _ := b.Accounts.GetByID(ctx, "u1")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		locked int
	)
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := stale.Clone()
			<-start
			l, err := tr.RecordFailure(ctx, a)
			assert.NoError(t, err)
			if l {
				mu.Lock()
				locked++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	a, _ := b.Accounts.GetByID(ctx, "u1")
	require.NotNil(t, a.LockoutUntil, "parallel failures from one stale snapshot must still lock")
	assert.Equal(t, 0, a.FailedLoginCount, "failures while locked are not counted")
	assert.Equal(t, 16, locked, "every failure at or after the fifth reports the lock")
}

func TestTracker_FailureWhileLockedIsNotCounted(t *testing.T) {
	tr, b, now := newTracker(t)
	ctx := context.Background()
	until := now.Add(time.Minute)
	require.NoError(t, b.Accounts.SetLoginState(ctx, "u1", 0, &until))

	stale := &accountdomain.Account{ID: "u1"}
	locked, err := tr.RecordFailure(ctx, stale)
	require.NoError(t, err)
	assert.True(t, locked)
	require.NotNil(t, stale.LockoutUntil)
	assert.Equal(t, until, *stale.LockoutUntil)
	assert.ErrorIs(t, tr.Check(stale), apperr.ErrUnauthorized)
}
