package repository

import (
	"context"
	"time"

	"account-lifecycle/internal/moderation/domain"
)

// Repository defines persistence for the moderation ledger.
type Repository interface {
	Append(ctx context.Context, r *domain.Record) error
	// LatestByAction returns the newest record of the given action for the account, or nil.
	LatestByAction(ctx context.Context, accountID string, action domain.Action) (*domain.Record, error)
	// StampPurged sets purged_at/purged_by on a record that is not yet stamped.
	StampPurged(ctx context.Context, recordID string, at time.Time, by string) error
	// ListSoftbanned returns the latest softban record of every account currently soft-banned.
	ListSoftbanned(ctx context.Context, f domain.Filter) ([]*domain.Record, error)
	// ListPurged returns records carrying a purge stamp.
	ListPurged(ctx context.Context, f domain.Filter) ([]*domain.Record, error)
	// ListByAccount returns every record of the account, newest first.
	ListByAccount(ctx context.Context, accountID string) ([]*domain.Record, error)
}
