package domain

import (
	"fmt"
	"time"
)

// Purpose binds a challenge, and the grant it yields, to one kind of guarded operation.
type Purpose string

const (
	PurposeProfileUpdate   Purpose = "profile_update"
	PurposeAccountDeletion Purpose = "account_deletion"
	PurposeRightsTransfer  Purpose = "rights_transfer"
	PurposePasswordReset   Purpose = "password_reset"
)

// ParsePurpose validates s as a Purpose.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(s); p {
	case PurposeProfileUpdate, PurposeAccountDeletion, PurposeRightsTransfer, PurposePasswordReset:
		return p, nil
	}
	return "", fmt.Errorf("unknown purpose %q", s)
}

// Challenge is a pending one-time code (stored in otc_challenges). At most one exists per
// (Email, Purpose); issuing a new one replaces it.
type Challenge struct {
	ID string
	// AccountID is the account the code was issued for.
	AccountID string
	Email     string
	Purpose   Purpose
	CodeHash  string
	ExpiresAt time.Time
	// Attempts counts wrong submissions, carried over across resends.
	Attempts   int
	CreatedAt  time.Time
	LastSentAt time.Time
}

// Expired reports whether the challenge can no longer be verified at now.
func (c *Challenge) Expired(now time.Time) bool { return !now.Before(c.ExpiresAt) }

// Grant is the single-use authorization produced by a verified challenge. Only TokenHash is stored.
type Grant struct {
	Token     string // returned to the caller once, never persisted
	TokenHash string
	AccountID string
	Purpose   Purpose
	ExpiresAt time.Time
	CreatedAt time.Time
}
