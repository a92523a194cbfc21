package repository

import (
	"context"
	"errors"
	"time"

	"account-lifecycle/internal/account/domain"
)

var (
	// ErrVersionConflict is returned by Update when the stored version no longer matches.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrDuplicateEmail is returned when an email is already taken by another account.
	ErrDuplicateEmail = errors.New("email already in use")
)

// FailedLogin is the sign-in counter state after RecordFailedLogin.
type FailedLogin struct {
	Count        int
	LockoutUntil *time.Time
	// Tripped is true when this call reached the threshold and set the lockout.
	Tripped bool
}

// Repository defines persistence for accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// LockForUpdate returns the accounts with row locks held until the surrounding transaction
	// ends, in id order. Missing ids are skipped.
	LockForUpdate(ctx context.Context, ids ...string) ([]*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	// Update writes the profile and lifecycle columns of a when the stored version equals
	// a.Version, then increments a.Version. Login counters are not touched.
	Update(ctx context.Context, a *domain.Account) error
	// SetLoginState writes the lockout counters without a version check.
	SetLoginState(ctx context.Context, id string, failedCount int, lockoutUntil *time.Time) error
	// RecordFailedLogin atomically counts one failed sign-in unless the account is locked at now.
	// Reaching threshold resets the counter and locks the account until until. A missing account
	// yields a zero FailedLogin.
	RecordFailedLogin(ctx context.Context, id string, threshold int, now, until time.Time) (FailedLogin, error)
	CountDefaultAdmins(ctx context.Context) (int, error)
	ListLocked(ctx context.Context, now time.Time) ([]*domain.Account, error)
	// ListAdmins returns every visible admin or rootadmin account.
	ListAdmins(ctx context.Context) ([]*domain.Account, error)
	// ListActiveIDs returns the ids of every visible, active account.
	ListActiveIDs(ctx context.Context) ([]string, error)
}
