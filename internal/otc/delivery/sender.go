// Package delivery sends one-time codes out-of-band.
package delivery

import (
	"context"
	"time"

	"account-lifecycle/internal/otc/domain"
)

// Message is one code delivery. Code is plaintext and must never be logged.
type Message struct {
	Email     string
	Purpose   domain.Purpose
	Code      string
	ExpiresAt time.Time
}

// Sender delivers a code to the account's verified address.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Subject returns the human-readable subject line for purpose.
func Subject(p domain.Purpose) string {
	switch p {
	case domain.PurposeProfileUpdate:
		return "Confirm your profile change"
	case domain.PurposeAccountDeletion:
		return "Confirm account deletion"
	case domain.PurposeRightsTransfer:
		return "Confirm default administrator transfer"
	case domain.PurposePasswordReset:
		return "Reset your password"
	default:
		return "Your verification code"
	}
}
