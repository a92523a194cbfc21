package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"account-lifecycle/internal/db"
	"account-lifecycle/internal/session/domain"
)

const sessionColumns = `id, account_id, expires_at, revoked_at, last_seen_at, ip_address,
	password_verified_at, management_unlocked_until, created_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a session repository bound to db, which may be a pool or a transaction.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListActiveByAccount returns the non-revoked, unexpired sessions of the account.
func (r *PostgresRepository) ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC`, accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.AccountID, s.ExpiresAt, nullTime(s.RevokedAt), nullTime(s.LastSeenAt), s.IPAddress,
		nullTime(s.PasswordVerifiedAt), nullTime(s.ManagementUnlockedUntil), s.CreatedAt)
	return err
}

// Revoke marks one session revoked. Revoking an already revoked session keeps the first timestamp.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return err
}

// RevokeAllByAccount revokes all live sessions of the account.
func (r *PostgresRepository) RevokeAllByAccount(ctx context.Context, accountID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = $2 WHERE account_id = $1 AND revoked_at IS NULL`, accountID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *PostgresRepository) SetPasswordVerified(ctx context.Context, id string, at *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET password_verified_at = $2 WHERE id = $1`, id, nullTime(at))
	return err
}

func (r *PostgresRepository) SetManagementUnlockedUntil(ctx context.Context, id string, until *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET management_unlocked_until = $2 WHERE id = $1`, id, nullTime(until))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                                        domain.Session
		revoked, lastSeen, pwVerified, mgmtUntil sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.AccountID, &s.ExpiresAt, &revoked, &lastSeen, &s.IPAddress,
		&pwVerified, &mgmtUntil, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.RevokedAt = timePtr(revoked)
	s.LastSeenAt = timePtr(lastSeen)
	s.PasswordVerifiedAt = timePtr(pwVerified)
	s.ManagementUnlockedUntil = timePtr(mgmtUntil)
	return &s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
