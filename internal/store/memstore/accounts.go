package memstore

import (
	"context"
	"sort"
	"time"

	"account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
)

type accountRepo struct {
	s  *Store
	tx *state
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	return st.accounts[id].Clone(), nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	email = domain.NormalizeEmail(email)
	for _, a := range st.accounts {
		if domain.NormalizeEmail(a.Email) == email {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

// LockForUpdate needs no row locks here; units of work are already serialized.
func (r *accountRepo) LockForUpdate(ctx context.Context, ids ...string) ([]*domain.Account, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var out []*domain.Account
	for _, id := range sorted {
		if a, ok := st.accounts[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *accountRepo) Create(ctx context.Context, a *domain.Account) error {
	if err := r.s.inject("accounts.Create"); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	if err := checkUnique(st, a); err != nil {
		return err
	}
	if a.Version == 0 {
		a.Version = 1
	}
	c := a.Clone()
	c.Email = domain.NormalizeEmail(c.Email)
	st.accounts[a.ID] = c
	return nil
}

func (r *accountRepo) Update(ctx context.Context, a *domain.Account) error {
	if err := r.s.inject("accounts.Update"); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	cur, ok := st.accounts[a.ID]
	if !ok || cur.Version != a.Version {
		return accountrepo.ErrVersionConflict
	}
	if err := checkUnique(st, a); err != nil {
		return err
	}
	c := a.Clone()
	c.Email = domain.NormalizeEmail(c.Email)
	c.FailedLoginCount = cur.FailedLoginCount
	c.LockoutUntil = cur.LockoutUntil
	c.CreatedAt = cur.CreatedAt
	c.Version = cur.Version + 1
	st.accounts[a.ID] = c
	a.Version++
	return nil
}

func (r *accountRepo) SetLoginState(ctx context.Context, id string, failedCount int, lockoutUntil *time.Time) error {
	if err := r.s.inject("accounts.SetLoginState"); err != nil {
		return err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	if a, ok := st.accounts[id]; ok {
		a.FailedLoginCount = failedCount
		a.LockoutUntil = nil
		if lockoutUntil != nil {
			t := *lockoutUntil
			a.LockoutUntil = &t
		}
	}
	return nil
}

func (r *accountRepo) RecordFailedLogin(ctx context.Context, id string, threshold int, now, until time.Time) (accountrepo.FailedLogin, error) {
	if err := r.s.inject("accounts.RecordFailedLogin"); err != nil {
		return accountrepo.FailedLogin{}, err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	a, ok := st.accounts[id]
	if !ok {
		return accountrepo.FailedLogin{}, nil
	}
	var out accountrepo.FailedLogin
	if !a.Locked(now) {
		a.FailedLoginCount++
		if a.FailedLoginCount >= threshold {
			a.FailedLoginCount = 0
			t := until
			a.LockoutUntil = &t
			out.Tripped = true
		}
	}
	out.Count = a.FailedLoginCount
	if a.LockoutUntil != nil {
		t := *a.LockoutUntil
		out.LockoutUntil = &t
	}
	return out, nil
}

func (r *accountRepo) CountDefaultAdmins(ctx context.Context) (int, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	n := 0
	for _, a := range st.accounts {
		if a.IsDefaultAdmin {
			n++
		}
	}
	return n, nil
}

func (r *accountRepo) ListLocked(ctx context.Context, now time.Time) ([]*domain.Account, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	var out []*domain.Account
	for _, a := range st.accounts {
		if a.LockoutUntil != nil && a.LockoutUntil.After(now) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockoutUntil.Before(*out[j].LockoutUntil) })
	return out, nil
}

func (r *accountRepo) ListAdmins(ctx context.Context) ([]*domain.Account, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	var out []*domain.Account
	for _, a := range st.accounts {
		if a.Role.IsAdmin() && a.Visible() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *accountRepo) ListActiveIDs(ctx context.Context) ([]string, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	var ids []string
	for id, a := range st.accounts {
		if a.Visible() && a.Status == domain.StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// checkUnique enforces the same unique indexes as the Postgres schema.
func checkUnique(st *state, a *domain.Account) error {
	email := domain.NormalizeEmail(a.Email)
	for id, other := range st.accounts {
		if id == a.ID {
			continue
		}
		if domain.NormalizeEmail(other.Email) == email {
			return accountrepo.ErrDuplicateEmail
		}
		if a.IsDefaultAdmin && other.IsDefaultAdmin {
			return ErrDefaultAdminTaken
		}
	}
	return nil
}
