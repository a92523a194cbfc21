// Package service holds session validation and forced sign-out.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/session/domain"
	sessionrepo "account-lifecycle/internal/session/repository"
)

// Principal is the result of a successful validation.
type Principal struct {
	Actor   accountdomain.Actor
	Account *accountdomain.Account
	Session *domain.Session
}

// Validator decides whether a session may still act. The HTTP middleware, the push connect path,
// the push loop's periodic re-check and the poll endpoint all call Validate.
type Validator struct {
	sessions sessionrepo.Repository
	accounts accountrepo.Repository
	log      zerolog.Logger
	now      func() time.Time
}

// NewValidator returns a Validator over the given repositories.
func NewValidator(sessions sessionrepo.Repository, accounts accountrepo.Repository, log zerolog.Logger) *Validator {
	return &Validator{sessions: sessions, accounts: accounts, log: log, now: time.Now}
}

// Validate returns ErrUnauthorized when the session is missing, revoked or expired, or when its
// account is soft-banned, purged or suspended. It records last-seen on success.
func (v *Validator) Validate(ctx context.Context, sessionID string) (*Principal, error) {
	if sessionID == "" {
		return nil, apperr.New(apperr.ErrUnauthorized, "missing session")
	}
	now := v.now().UTC()
	sess, err := v.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.Active(now) {
		return nil, apperr.New(apperr.ErrUnauthorized, "session revoked or expired")
	}
	acc, err := v.accounts.GetByID(ctx, sess.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil || !acc.Visible() {
		return nil, apperr.New(apperr.ErrUnauthorized, "account no longer available")
	}
	if acc.Status == accountdomain.StatusSuspended {
		return nil, apperr.New(apperr.ErrUnauthorized, "account suspended")
	}
	if err := v.sessions.UpdateLastSeen(ctx, sess.ID, now); err != nil {
		v.log.Warn().Err(err).Str("session_id", sess.ID).Msg("session: update last seen")
	}
	return &Principal{
		Actor: accountdomain.Actor{
			ID:             acc.ID,
			SessionID:      sess.ID,
			Role:           acc.Role,
			IsDefaultAdmin: acc.IsDefaultAdmin,
		},
		Account: acc,
		Session: sess,
	}, nil
}
