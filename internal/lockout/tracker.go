// Package lockout tracks failed sign-ins per account and locks sign-in once a threshold is hit.
package lockout

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/audit"
	"account-lifecycle/internal/platform/apperr"
)

const (
	DefaultThreshold = 5
	DefaultWindow    = 15 * time.Minute
)

// Entry is one locked account as shown to admins.
type Entry struct {
	AccountID        string    `json:"accountId"`
	Email            string    `json:"email"`
	UnlockAt         time.Time `json:"unlockAt"`
	MinutesRemaining int       `json:"minutesRemaining"`
}

// Tracker owns failedLoginCount and lockoutUntil. It is independent of one-time code attempts.
type Tracker struct {
	accounts  accountrepo.Repository
	audit     audit.AuditLogger
	log       zerolog.Logger
	threshold int
	window    time.Duration
	now       func() time.Time
}

// NewTracker returns a Tracker. Non-positive threshold or window fall back to 5 and 15m.
func NewTracker(accounts accountrepo.Repository, auditLogger audit.AuditLogger, log zerolog.Logger, threshold int, window time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{accounts: accounts, audit: auditLogger, log: log, threshold: threshold, window: window, now: time.Now}
}

// Check returns ErrUnauthorized with the remaining minutes when a is locked.
func (t *Tracker) Check(a *accountdomain.Account) error {
	now := t.now().UTC()
	if !a.Locked(now) {
		return nil
	}
	return apperr.Newf(apperr.ErrUnauthorized, "locked: ~%d minutes remaining", minutesUntil(now, *a.LockoutUntil))
}

// RecordFailure counts one failed sign-in. On reaching the threshold it locks the account for the
// window and resets the counter. The increment happens in the store, so parallel failures each
// count. It reports whether a is locked afterwards, including by a concurrent failure, and
// refreshes a's counters.
func (t *Tracker) RecordFailure(ctx context.Context, a *accountdomain.Account) (bool, error) {
	now := t.now().UTC()
	res, err := t.accounts.RecordFailedLogin(ctx, a.ID, t.threshold, now, now.Add(t.window))
	if err != nil {
		return false, fmt.Errorf("record failed sign-in: %w", err)
	}
	a.FailedLoginCount = res.Count
	a.LockoutUntil = res.LockoutUntil
	if res.Tripped {
		until := *res.LockoutUntil
		if t.audit != nil {
			t.audit.LogEvent(ctx, a.ID, "", audit.ActionLockout, "account", fmt.Sprintf(`{"unlock_at":%q}`, until.Format(time.RFC3339)))
		}
		t.log.Warn().Str("account_id", a.ID).Time("unlock_at", until).Msg("lockout: sign-in locked")
	}
	return a.Locked(now), nil
}

// RecordSuccess clears the counter and any elapsed lockout.
func (t *Tracker) RecordSuccess(ctx context.Context, a *accountdomain.Account) error {
	if a.FailedLoginCount == 0 && a.LockoutUntil == nil {
		return nil
	}
	if err := t.accounts.SetLoginState(ctx, a.ID, 0, nil); err != nil {
		return fmt.Errorf("reset sign-in counter: %w", err)
	}
	a.FailedLoginCount = 0
	a.LockoutUntil = nil
	return nil
}

// Reset clears lockout state unconditionally, e.g. after a password reset.
func (t *Tracker) Reset(ctx context.Context, accountID string) error {
	return t.accounts.SetLoginState(ctx, accountID, 0, nil)
}

// List returns accounts locked at the current time, soonest unlock first.
func (t *Tracker) List(ctx context.Context) ([]Entry, error) {
	now := t.now().UTC()
	locked, err := t.accounts.ListLocked(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list lockouts: %w", err)
	}
	out := make([]Entry, 0, len(locked))
	for _, a := range locked {
		out = append(out, Entry{
			AccountID:        a.ID,
			Email:            a.Email,
			UnlockAt:         *a.LockoutUntil,
			MinutesRemaining: minutesUntil(now, *a.LockoutUntil),
		})
	}
	return out, nil
}

func minutesUntil(now, until time.Time) int {
	return int(math.Ceil(until.Sub(now).Minutes()))
}
