package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"account-lifecycle/internal/db"
	"account-lifecycle/internal/otc/domain"
)

const challengeColumns = `id, account_id, email, purpose, code_hash, expires_at, attempts, created_at, last_sent_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a challenge repository bound to db.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, email string, purpose domain.Purpose) (*domain.Challenge, error) {
	return r.one(ctx, `SELECT `+challengeColumns+` FROM otc_challenges WHERE email = $1 AND purpose = $2`, email, string(purpose))
}

func (r *PostgresRepository) LatestForAccount(ctx context.Context, email, accountID string) (*domain.Challenge, error) {
	return r.one(ctx, `SELECT `+challengeColumns+` FROM otc_challenges
		WHERE email = $1 AND account_id = $2 ORDER BY last_sent_at DESC LIMIT 1`, email, accountID)
}

func (r *PostgresRepository) one(ctx context.Context, q string, args ...any) (*domain.Challenge, error) {
	var (
		c       domain.Challenge
		purpose string
	)
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&c.ID, &c.AccountID, &c.Email, &purpose, &c.CodeHash,
		&c.ExpiresAt, &c.Attempts, &c.CreatedAt, &c.LastSentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Purpose = domain.Purpose(purpose)
	return &c, nil
}

// Replace upserts on the (email, purpose) unique key so a resend atomically invalidates the old code.
// The attempt count never goes down, even when an attempt lands between the caller's read and the upsert.
func (r *PostgresRepository) Replace(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO otc_challenges (`+challengeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email, purpose) DO UPDATE SET
			id = EXCLUDED.id, account_id = EXCLUDED.account_id, code_hash = EXCLUDED.code_hash,
			expires_at = EXCLUDED.expires_at, attempts = GREATEST(otc_challenges.attempts, EXCLUDED.attempts),
			created_at = EXCLUDED.created_at, last_sent_at = EXCLUDED.last_sent_at`,
		c.ID, c.AccountID, c.Email, string(c.Purpose), c.CodeHash, c.ExpiresAt, c.Attempts, c.CreatedAt, c.LastSentAt)
	return err
}

// ConsumeAttempt guards the cap in the WHERE clause, so under concurrency at most limit attempts
// are ever evaluated for one challenge.
func (r *PostgresRepository) ConsumeAttempt(ctx context.Context, id string, limit int) (int, bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `UPDATE otc_challenges SET attempts = attempts + 1
		WHERE id = $1 AND attempts < $2 RETURNING attempts`, id, limit).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (r *PostgresRepository) Claim(ctx context.Context, id string) (bool, error) {
	var got string
	err := r.db.QueryRowContext(ctx, `DELETE FROM otc_challenges WHERE id = $1 RETURNING id`, id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otc_challenges WHERE id = $1`, id)
	return err
}

// DeleteExpired removes expired challenges and grants. Returns the number of challenges removed.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otc_challenges WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stepup_grants WHERE expires_at <= $1`, now); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) CreateGrant(ctx context.Context, g *domain.Grant) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO stepup_grants (token_hash, account_id, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`, g.TokenHash, g.AccountID, string(g.Purpose), g.ExpiresAt, g.CreatedAt)
	return err
}

// ConsumeGrant uses DELETE ... RETURNING so two concurrent consumers cannot both succeed.
func (r *PostgresRepository) ConsumeGrant(ctx context.Context, tokenHash string) (*domain.Grant, error) {
	var (
		g       domain.Grant
		purpose string
	)
	err := r.db.QueryRowContext(ctx, `DELETE FROM stepup_grants WHERE token_hash = $1
		RETURNING token_hash, account_id, purpose, expires_at, created_at`, tokenHash).
		Scan(&g.TokenHash, &g.AccountID, &purpose, &g.ExpiresAt, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	g.Purpose = domain.Purpose(purpose)
	return &g, nil
}
