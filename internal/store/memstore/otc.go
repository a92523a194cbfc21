package memstore

import (
	"context"
	"sync"
	"time"

	"account-lifecycle/internal/otc/domain"
)

type otcKey struct {
	email   string
	purpose domain.Purpose
}

type otcRepo struct {
	s          *Store
	mu         sync.Mutex
	challenges map[otcKey]*domain.Challenge
	grants     map[string]*domain.Grant
}

func newOTCRepo(s *Store) *otcRepo {
	return &otcRepo{s: s, challenges: map[otcKey]*domain.Challenge{}, grants: map[string]*domain.Grant{}}
}

func (r *otcRepo) Get(ctx context.Context, email string, purpose domain.Purpose) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneChallenge(r.challenges[otcKey{email, purpose}]), nil
}

func (r *otcRepo) LatestForAccount(ctx context.Context, email, accountID string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Challenge
	for k, c := range r.challenges {
		if k.email != email || c.AccountID != accountID {
			continue
		}
		if latest == nil || c.LastSentAt.After(latest.LastSentAt) {
			latest = c
		}
	}
	return cloneChallenge(latest), nil
}

func (r *otcRepo) Replace(ctx context.Context, c *domain.Challenge) error {
	if err := r.s.inject("otc.Replace"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := otcKey{c.Email, c.Purpose}
	next := cloneChallenge(c)
	if prev, ok := r.challenges[k]; ok && prev.Attempts > next.Attempts {
		next.Attempts = prev.Attempts
	}
	r.challenges[k] = next
	return nil
}

func (r *otcRepo) ConsumeAttempt(ctx context.Context, id string, limit int) (int, bool, error) {
	if err := r.s.inject("otc.ConsumeAttempt"); err != nil {
		return 0, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.challenges {
		if c.ID == id {
			if c.Attempts >= limit {
				return c.Attempts, false, nil
			}
			c.Attempts++
			return c.Attempts, true, nil
		}
	}
	return 0, false, nil
}

func (r *otcRepo) Claim(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, c := range r.challenges {
		if c.ID == id {
			delete(r.challenges, k)
			return true, nil
		}
	}
	return false, nil
}

func (r *otcRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, c := range r.challenges {
		if c.ID == id {
			delete(r.challenges, k)
		}
	}
	return nil
}

func (r *otcRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, c := range r.challenges {
		if c.Expired(now) {
			delete(r.challenges, k)
			n++
		}
	}
	for h, g := range r.grants {
		if !now.Before(g.ExpiresAt) {
			delete(r.grants, h)
		}
	}
	return n, nil
}

func (r *otcRepo) CreateGrant(ctx context.Context, g *domain.Grant) error {
	if err := r.s.inject("otc.CreateGrant"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *g
	c.Token = ""
	r.grants[g.TokenHash] = &c
	return nil
}

func (r *otcRepo) ConsumeGrant(ctx context.Context, tokenHash string) (*domain.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[tokenHash]
	if !ok {
		return nil, nil
	}
	delete(r.grants, tokenHash)
	c := *g
	return &c, nil
}

func cloneChallenge(c *domain.Challenge) *domain.Challenge {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
