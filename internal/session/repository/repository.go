package repository

import (
	"context"
	"time"

	"account-lifecycle/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id string, at time.Time) error
	// RevokeAllByAccount revokes every non-revoked session of the account and returns how many were revoked.
	RevokeAllByAccount(ctx context.Context, accountID string, at time.Time) (int64, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	// SetPasswordVerified stamps (or clears, when at is nil) the step-up password marker.
	SetPasswordVerified(ctx context.Context, id string, at *time.Time) error
	// SetManagementUnlockedUntil sets (or clears, when until is nil) the management gate deadline.
	SetManagementUnlockedUntil(ctx context.Context, id string, until *time.Time) error
}
