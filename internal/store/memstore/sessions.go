package memstore

import (
	"context"
	"sort"
	"time"

	"account-lifecycle/internal/session/domain"
)

type sessionRepo struct {
	s  *Store
	tx *state
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	return st.sessions[id].Clone(), nil
}

func (r *sessionRepo) ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*domain.Session, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	var out []*domain.Session
	for _, ss := range st.sessions {
		if ss.AccountID == accountID && ss.Active(now) {
			out = append(out, ss.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *sessionRepo) Create(ctx context.Context, s *domain.Session) error {
	if err := r.s.inject("sessions.Create"); err != nil {
		return err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	st.sessions[s.ID] = s.Clone()
	return nil
}

func (r *sessionRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	if err := r.s.inject("sessions.Revoke"); err != nil {
		return err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	if ss, ok := st.sessions[id]; ok && ss.RevokedAt == nil {
		ss.RevokedAt = &at
	}
	return nil
}

func (r *sessionRepo) RevokeAllByAccount(ctx context.Context, accountID string, at time.Time) (int64, error) {
	if err := r.s.inject("sessions.RevokeAllByAccount"); err != nil {
		return 0, err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	var n int64
	for _, ss := range st.sessions {
		if ss.AccountID == accountID && ss.RevokedAt == nil {
			t := at
			ss.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (r *sessionRepo) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	if ss, ok := st.sessions[id]; ok {
		ss.LastSeenAt = &at
	}
	return nil
}

func (r *sessionRepo) SetPasswordVerified(ctx context.Context, id string, at *time.Time) error {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	if ss, ok := st.sessions[id]; ok {
		ss.PasswordVerifiedAt = copyTime(at)
	}
	return nil
}

func (r *sessionRepo) SetManagementUnlockedUntil(ctx context.Context, id string, until *time.Time) error {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	if ss, ok := st.sessions[id]; ok {
		ss.ManagementUnlockedUntil = copyTime(until)
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
