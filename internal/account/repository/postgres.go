package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/db"
)

const accountColumns = `id, email, name, phone, password_hash, role, is_default_admin, admin_approval_status,
	status, ban_state, failed_login_count, lockout_until, version, created_at, updated_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an account repository bound to db, which may be a pool or a transaction.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetByEmail returns the account with the given email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`, domain.NormalizeEmail(email))
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// LockForUpdate must run inside a transaction; outside one the locks are released immediately.
func (r *PostgresRepository) LockForUpdate(ctx context.Context, ids ...string) ([]*domain.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Create persists a new account. Validate is applied first.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, domain.NormalizeEmail(a.Email), a.Name, a.Phone, a.PasswordHash, string(a.Role), a.IsDefaultAdmin,
		string(a.AdminApprovalStatus), string(a.Status), string(a.BanState), a.FailedLoginCount,
		nullTime(a.LockoutUntil), a.Version, a.CreatedAt, a.UpdatedAt)
	return mapWriteErr(err)
}

// Update is a compare-and-swap on version. Zero rows affected means another writer won.
func (r *PostgresRepository) Update(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET
			email = $3, name = $4, phone = $5, password_hash = $6, role = $7, is_default_admin = $8,
			admin_approval_status = $9, status = $10, ban_state = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND version = $2`,
		a.ID, a.Version, domain.NormalizeEmail(a.Email), a.Name, a.Phone, a.PasswordHash, string(a.Role),
		a.IsDefaultAdmin, string(a.AdminApprovalStatus), string(a.Status), string(a.BanState), a.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	a.Version++
	return nil
}

func (r *PostgresRepository) SetLoginState(ctx context.Context, id string, failedCount int, lockoutUntil *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET failed_login_count = $2, lockout_until = $3 WHERE id = $1`,
		id, failedCount, nullTime(lockoutUntil))
	return err
}

// RecordFailedLogin increments in one statement so concurrent failures cannot overwrite each
// other. Rows locked at now are left alone and their current lock is returned.
func (r *PostgresRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, now, until time.Time) (FailedLogin, error) {
	var (
		out     FailedLogin
		lockout sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `UPDATE accounts SET
			failed_login_count = CASE WHEN failed_login_count + 1 >= $2 THEN 0 ELSE failed_login_count + 1 END,
			lockout_until = CASE WHEN failed_login_count + 1 >= $2 THEN $4 ELSE lockout_until END
		WHERE id = $1 AND (lockout_until IS NULL OR lockout_until <= $3)
		RETURNING failed_login_count, lockout_until`,
		id, threshold, now, until).Scan(&out.Count, &lockout)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = r.db.QueryRowContext(ctx, `SELECT failed_login_count, lockout_until FROM accounts WHERE id = $1`, id).
			Scan(&out.Count, &lockout)
		if errors.Is(err, sql.ErrNoRows) {
			return FailedLogin{}, nil
		}
		if err != nil {
			return FailedLogin{}, err
		}
	case err != nil:
		return FailedLogin{}, err
	default:
		// The counter is only ever 0 after an increment when the threshold was reached.
		out.Tripped = out.Count == 0
	}
	if lockout.Valid {
		t := lockout.Time
		out.LockoutUntil = &t
	}
	return out, nil
}

// CountDefaultAdmins counts accounts flagged as default admin. Inside a transaction it sees
// the transaction's own uncommitted writes.
func (r *PostgresRepository) CountDefaultAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM accounts WHERE is_default_admin`).Scan(&n)
	return n, err
}

// ListLocked returns accounts whose lockout window has not yet elapsed, soonest unlock first.
func (r *PostgresRepository) ListLocked(ctx context.Context, now time.Time) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE lockout_until > $1 ORDER BY lockout_until`, now)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PostgresRepository) ListAdmins(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE role IN ('admin', 'rootadmin') AND ban_state = 'none' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PostgresRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts WHERE ban_state = 'none' AND status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a                                domain.Account
		role, approval, status, banState string
		lockout                          sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Phone, &a.PasswordHash, &role, &a.IsDefaultAdmin, &approval,
		&status, &banState, &a.FailedLoginCount, &lockout, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Role = domain.Role(role)
	a.AdminApprovalStatus = domain.ApprovalStatus(approval)
	a.Status = domain.Status(status)
	a.BanState = domain.BanState(banState)
	if lockout.Valid {
		t := lockout.Time
		a.LockoutUntil = &t
	}
	return &a, nil
}

func collect(rows *sql.Rows) ([]*domain.Account, error) {
	defer rows.Close()
	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// mapWriteErr turns unique violations on the email index into ErrDuplicateEmail.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "email") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("unique violation on %s: %w", pgErr.ConstraintName, err)
	}
	return err
}
