package domain

import "time"

// Session is a persisted sign-in. Access tokens name a session; revoking it invalidates every
// token issued for it at the next request.
type Session struct {
	ID         string
	AccountID  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil when not revoked
	LastSeenAt *time.Time
	IPAddress  string
	// PasswordVerifiedAt is set by step-up password re-verification.
	PasswordVerifiedAt *time.Time
	// ManagementUnlockedUntil is the management gate deadline; nil when locked.
	ManagementUnlockedUntil *time.Time
	CreatedAt               time.Time
}

// Active reports whether the session is neither revoked nor expired at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.RevokedAt = copyTime(s.RevokedAt)
	c.LastSeenAt = copyTime(s.LastSeenAt)
	c.PasswordVerifiedAt = copyTime(s.PasswordVerifiedAt)
	c.ManagementUnlockedUntil = copyTime(s.ManagementUnlockedUntil)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
