package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"account-lifecycle/internal/db"
	"account-lifecycle/internal/notification/domain"
)

const notificationColumns = `id, recipient_account_id, sender_account_id, title, message, type, is_read, created_at, read_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a notification repository bound to db.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, n *domain.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.RecipientAccountID, sql.NullString{String: n.SenderAccountID, Valid: n.SenderAccountID != ""},
		n.Title, n.Message, n.Type, n.IsRead, n.CreatedAt, nullTime(n.ReadAt))
	return err
}

// GetByID returns the notification for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

// ListByRecipient returns the recipient's notifications, newest first.
func (r *PostgresRepository) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE recipient_account_id = $1 AND NOT is_read`, recipientID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE id = $1 AND NOT is_read`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	return r.exec(ctx, `UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE recipient_account_id = $1 AND NOT is_read`, recipientID, at)
}

func (r *PostgresRepository) MarkAllReadByType(ctx context.Context, recipientIDs []string, typ string, at time.Time) (int64, error) {
	if len(recipientIDs) == 0 {
		return 0, nil
	}
	return r.exec(ctx, `UPDATE notifications SET is_read = TRUE, read_at = $3
		WHERE recipient_account_id = ANY($1) AND type = $2 AND NOT is_read`, recipientIDs, typ, at)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) DeleteAllByRecipient(ctx context.Context, recipientID string) (int64, error) {
	return r.exec(ctx, `DELETE FROM notifications WHERE recipient_account_id = $1`, recipientID)
}

func (r *PostgresRepository) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n      domain.Notification
		sender sql.NullString
		readAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.RecipientAccountID, &sender, &n.Title, &n.Message, &n.Type, &n.IsRead,
		&n.CreatedAt, &readAt); err != nil {
		return nil, err
	}
	n.SenderAccountID = sender.String
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return &n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
