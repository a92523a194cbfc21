package repository

import (
	"context"
	"time"

	"account-lifecycle/internal/notification/domain"
)

// Repository defines persistence for notifications.
type Repository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*domain.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	// MarkRead marks one notification read. Returns false when it does not exist or was already read.
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	// MarkAllReadByType marks unread notifications of typ for every recipient in recipientIDs.
	MarkAllReadByType(ctx context.Context, recipientIDs []string, typ string, at time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteAllByRecipient(ctx context.Context, recipientID string) (int64, error)
}
