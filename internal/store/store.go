// Package store groups the repositories used by the services and runs multi-repository writes as
// one unit of work.
package store

import (
	"context"
	"database/sql"

	accountrepo "account-lifecycle/internal/account/repository"
	auditrepo "account-lifecycle/internal/audit/repository"
	"account-lifecycle/internal/db"
	moderationrepo "account-lifecycle/internal/moderation/repository"
	notificationrepo "account-lifecycle/internal/notification/repository"
	otcrepo "account-lifecycle/internal/otc/repository"
	sessionrepo "account-lifecycle/internal/session/repository"
)

// Repos are the repositories that take part in account lifecycle transactions.
type Repos struct {
	Accounts   accountrepo.Repository
	Moderation moderationrepo.Repository
	Sessions   sessionrepo.Repository
}

// UnitOfWork runs fn with repositories bound to one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// Backend bundles every repository of one storage backend.
type Backend struct {
	Repos
	OTC           otcrepo.Repository
	Notifications notificationrepo.Repository
	Audit         auditrepo.Repository
	Tx            UnitOfWork
}

// Postgres is the UnitOfWork over a Postgres pool.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a Backend whose repositories and transactions use db.
func NewPostgres(sqlDB *sql.DB) *Backend {
	return &Backend{
		Repos:         bind(sqlDB),
		OTC:           otcrepo.NewPostgresRepository(sqlDB),
		Notifications: notificationrepo.NewPostgresRepository(sqlDB),
		Audit:         auditrepo.NewPostgresRepository(sqlDB),
		Tx:            &Postgres{db: sqlDB},
	}
}

// WithinTx runs fn in a read-committed transaction. Row locks taken through LockForUpdate are held
// until fn returns.
func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return db.WithTx(ctx, p.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, bind(tx))
	})
}

func bind(conn db.DBTX) Repos {
	return Repos{
		Accounts:   accountrepo.NewPostgresRepository(conn),
		Moderation: moderationrepo.NewPostgresRepository(conn),
		Sessions:   sessionrepo.NewPostgresRepository(conn),
	}
}
