// Package memstore is an in-process implementation of the store repositories. It backs the service
// in development when no DATABASE_URL is configured, and the service tests.
package memstore

import (
	"context"
	"errors"
	"sync"

	accountdomain "account-lifecycle/internal/account/domain"
	moderationdomain "account-lifecycle/internal/moderation/domain"
	sessiondomain "account-lifecycle/internal/session/domain"
	"account-lifecycle/internal/store"
)

// ErrDefaultAdminTaken mirrors the single-default-admin unique index of the Postgres schema.
var ErrDefaultAdminTaken = errors.New("unique violation on accounts_single_default_admin")

// Store holds accounts, ledger records and sessions under one mutex. WithinTx works on a copy of
// that state and swaps it in on success, so a failed unit of work leaves nothing behind.
type Store struct {
	// Inject, when set, is called at the start of every write with the operation name
	// (e.g. "accounts.Update"). A non-nil return fails the write.
	Inject func(op string) error

	mu sync.Mutex
	st *state

	otc           *otcRepo
	notifications *notificationRepo
	audit         *auditRepo
}

type state struct {
	accounts map[string]*accountdomain.Account
	records  []*moderationdomain.Record
	sessions map[string]*sessiondomain.Session
}

func (s *state) clone() *state {
	c := &state{
		accounts: make(map[string]*accountdomain.Account, len(s.accounts)),
		records:  make([]*moderationdomain.Record, len(s.records)),
		sessions: make(map[string]*sessiondomain.Session, len(s.sessions)),
	}
	for id, a := range s.accounts {
		c.accounts[id] = a.Clone()
	}
	for i, r := range s.records {
		c.records[i] = r.Clone()
	}
	for id, ss := range s.sessions {
		c.sessions[id] = ss.Clone()
	}
	return c
}

// New returns an empty store.
func New() *Store {
	s := &Store{
		st: &state{
			accounts: map[string]*accountdomain.Account{},
			sessions: map[string]*sessiondomain.Session{},
		},
	}
	s.otc = newOTCRepo(s)
	s.notifications = newNotificationRepo(s)
	s.audit = newAuditRepo()
	return s
}

// Backend returns the store's repositories and unit of work.
func (s *Store) Backend() *store.Backend {
	return &store.Backend{
		Repos:         s.repos(nil),
		OTC:           s.otc,
		Notifications: s.notifications,
		Audit:         s.audit,
		Tx:            s,
	}
}

// WithinTx serializes units of work. Repositories passed to fn must not be used after fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r store.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.st.clone()
	if err := fn(ctx, s.repos(tx)); err != nil {
		return err
	}
	s.st = tx
	return nil
}

func (s *Store) repos(tx *state) store.Repos {
	return store.Repos{
		Accounts:   &accountRepo{s: s, tx: tx},
		Moderation: &moderationRepo{s: s, tx: tx},
		Sessions:   &sessionRepo{s: s, tx: tx},
	}
}

// acquire returns the state to operate on. Inside a unit of work the lock is already held.
func (s *Store) acquire(tx *state) (*state, func()) {
	if tx != nil {
		return tx, func() {}
	}
	s.mu.Lock()
	return s.st, s.mu.Unlock
}

func (s *Store) inject(op string) error {
	if s.Inject == nil {
		return nil
	}
	return s.Inject(op)
}
