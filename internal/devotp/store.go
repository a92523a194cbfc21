// Package devotp keeps plaintext one-time codes in memory for dev-only retrieval (GET /dev/otc).
// It is wired only when OTC_RETURN_TO_CLIENT is enabled outside production.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds the latest plaintext code per (email, purpose).
type Store interface {
	// Put stores code until expiresAt, replacing any previous code for the same key.
	Put(ctx context.Context, email, purpose, code string, expiresAt time.Time)
	// Get returns the code if present and not expired.
	Get(ctx context.Context, email, purpose string) (code string, ok bool)
}

type key struct {
	email   string
	purpose string
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[key]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[key]entry),
		nowF: time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, email, purpose, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key{email, purpose}] = entry{code: code, expiresAt: expiresAt}
}

// Get lazily evicts the entry once it has expired.
func (s *MemoryStore) Get(ctx context.Context, email, purpose string) (string, bool) {
	k := key{email, purpose}
	s.mu.RLock()
	e, ok := s.m[k]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, k)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}
