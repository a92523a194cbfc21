package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"account-lifecycle/internal/db"
	"account-lifecycle/internal/moderation/domain"
)

const recordColumns = `id, account_id, action, actor_id, reason_category, reason_text, reason_detail, policy,
	subject_email, subject_name, subject_role, created_at, purged_at, purged_by`

// ErrAlreadyPurged is returned by StampPurged when the record carries a purge stamp already.
var ErrAlreadyPurged = errors.New("moderation record already purged")

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a ledger repository bound to db, which may be a pool or a transaction.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts a record. The record must have ID set.
func (r *PostgresRepository) Append(ctx context.Context, rec *domain.Record) error {
	var policy []byte
	if rec.Policy != nil {
		b, err := json.Marshal(rec.Policy)
		if err != nil {
			return err
		}
		policy = b
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO moderation_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.AccountID, string(rec.Action), rec.ActorID, string(rec.Reason.Category), rec.Reason.Text,
		rec.Reason.Detail, policy, rec.SubjectEmail, rec.SubjectName, rec.SubjectRole, rec.CreatedAt,
		nullTime(rec.PurgedAt), nullString(rec.PurgedBy))
	return err
}

// LatestByAction returns nil when the account has no record of that action.
func (r *PostgresRepository) LatestByAction(ctx context.Context, accountID string, action domain.Action) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM moderation_records
		WHERE account_id = $1 AND action = $2 ORDER BY created_at DESC, id DESC LIMIT 1`, accountID, string(action))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) StampPurged(ctx context.Context, recordID string, at time.Time, by string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE moderation_records SET purged_at = $2, purged_by = $3
		WHERE id = $1 AND purged_at IS NULL`, recordID, at, by)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyPurged
	}
	return nil
}

// ListSoftbanned picks the newest softban record per account first, then filters and pages.
func (r *PostgresRepository) ListSoftbanned(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	inner := `SELECT DISTINCT ON (m.account_id) ` + prefixed("m", recordColumns) + `
		FROM moderation_records m JOIN accounts a ON a.id = m.account_id
		WHERE m.action = 'softban' AND a.ban_state = 'softbanned'
		ORDER BY m.account_id, m.created_at DESC, m.id DESC`
	where, args := buildFilter(f, "actor_id = %s", "created_at")
	q := `SELECT ` + recordColumns + ` FROM (` + inner + `) latest` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, f.Limit, f.Offset)
	return r.list(ctx, q, args...)
}

// ListPurged matches the actor against either the original softban actor or the purger.
func (r *PostgresRepository) ListPurged(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	where, args := buildFilter(f, "(actor_id = %[1]s OR purged_by = %[1]s)", "purged_at")
	cond := " WHERE purged_at IS NOT NULL"
	if where != "" {
		cond = where + " AND purged_at IS NOT NULL"
	}
	q := `SELECT ` + recordColumns + ` FROM moderation_records` + cond +
		fmt.Sprintf(` ORDER BY purged_at DESC, id DESC LIMIT %d OFFSET %d`, f.Limit, f.Offset)
	return r.list(ctx, q, args...)
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM moderation_records
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC`, accountID)
}

func (r *PostgresRepository) list(ctx context.Context, q string, args ...any) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// buildFilter renders the WHERE clause for f. actorExpr is a format with one %s verb (or
// indexed %[1]s verbs) for the actor placeholder; dateCol is the column the range applies to.
func buildFilter(f domain.Filter, actorExpr, dateCol string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := strings.TrimSpace(f.Q); q != "" {
		p := next("%" + escapeLike(q) + "%")
		conds = append(conds, fmt.Sprintf("(subject_email ILIKE %[1]s OR subject_name ILIKE %[1]s)", p))
	}
	if f.Role != "" {
		conds = append(conds, "subject_role = "+next(f.Role))
	}
	if len(f.Roles) > 0 {
		conds = append(conds, "subject_role = ANY("+next(f.Roles)+")")
	}
	if f.Actor != "" {
		conds = append(conds, fmt.Sprintf(actorExpr, next(f.Actor)))
	}
	if f.From != nil {
		conds = append(conds, dateCol+" >= "+next(*f.From))
	}
	if f.To != nil {
		conds = append(conds, dateCol+" <= "+next(*f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		rec                    domain.Record
		action, category, role string
		policy                 []byte
		purgedAt               sql.NullTime
		purgedBy               sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.AccountID, &action, &rec.ActorID, &category, &rec.Reason.Text,
		&rec.Reason.Detail, &policy, &rec.SubjectEmail, &rec.SubjectName, &role, &rec.CreatedAt,
		&purgedAt, &purgedBy); err != nil {
		return nil, err
	}
	rec.Action = domain.Action(action)
	rec.Reason.Category = domain.ReasonCategory(category)
	rec.SubjectRole = role
	if len(policy) > 0 {
		var p domain.Policy
		if err := json.Unmarshal(policy, &p); err != nil {
			return nil, fmt.Errorf("decode policy of %s: %w", rec.ID, err)
		}
		rec.Policy = &p
	}
	if purgedAt.Valid {
		t := purgedAt.Time
		rec.PurgedAt = &t
	}
	rec.PurgedBy = purgedBy.String
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
