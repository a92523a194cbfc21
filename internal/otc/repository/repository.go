package repository

import (
	"context"
	"time"

	"account-lifecycle/internal/otc/domain"
)

// Repository defines persistence for one-time code challenges and the grants they yield.
type Repository interface {
	// Get returns the live challenge for (email, purpose), or nil.
	Get(ctx context.Context, email string, purpose domain.Purpose) (*domain.Challenge, error)
	// LatestForAccount returns the most recently sent challenge for email issued to accountID, or nil.
	LatestForAccount(ctx context.Context, email, accountID string) (*domain.Challenge, error)
	// Replace stores c, replacing any challenge with the same (email, purpose).
	Replace(ctx context.Context, c *domain.Challenge) error
	// ConsumeAttempt counts one verification attempt against challenge id and returns the new
	// count. ok is false, and nothing is counted, when the challenge is gone or limit attempts were
	// already made.
	ConsumeAttempt(ctx context.Context, id string, limit int) (attempts int, ok bool, err error)
	// Claim deletes challenge id and reports whether this call was the one that removed it.
	Claim(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	CreateGrant(ctx context.Context, g *domain.Grant) error
	// ConsumeGrant deletes and returns the grant with tokenHash, or nil when none exists.
	ConsumeGrant(ctx context.Context, tokenHash string) (*domain.Grant, error)
}
