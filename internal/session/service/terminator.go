package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"account-lifecycle/internal/audit"
	"account-lifecycle/internal/broadcast"
	sessionrepo "account-lifecycle/internal/session/repository"
)

// Terminator ends every session of an account and tells its live connections.
type Terminator struct {
	sessions sessionrepo.Repository
	pub      broadcast.Publisher
	audit    audit.AuditLogger
	log      zerolog.Logger
	now      func() time.Time
}

// NewTerminator returns a Terminator. auditLogger may be nil.
func NewTerminator(sessions sessionrepo.Repository, pub broadcast.Publisher, auditLogger audit.AuditLogger, log zerolog.Logger) *Terminator {
	return &Terminator{sessions: sessions, pub: pub, audit: auditLogger, log: log, now: time.Now}
}

// SignOutAll revokes every session of accountID, pushes force_signout and writes an audit entry.
// sessionID names the session that triggered it, for the audit trail.
func (t *Terminator) SignOutAll(ctx context.Context, accountID, sessionID, action, message string) error {
	n, err := t.sessions.RevokeAllByAccount(ctx, accountID, t.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	t.Announce(accountID, action, message, false)
	if t.audit != nil {
		meta, _ := json.Marshal(map[string]any{"action": action, "revoked": n})
		t.audit.LogEvent(ctx, accountID, sessionID, audit.ActionForcedSignOut, "session", string(meta))
	}
	t.log.Info().Str("account_id", accountID).Str("action", action).Int64("revoked", n).Msg("session: forced sign-out")
	return nil
}

// Announce pushes force_signout to the account's live connections without touching persisted
// sessions. Used after a transaction that already revoked them, and for re-auth directives.
func (t *Terminator) Announce(accountID, action, message string, reauth bool) {
	if t.pub == nil {
		return
	}
	t.pub.Publish(broadcast.AccountTopic(accountID), broadcast.NewEvent(broadcast.TypeForceSignout, accountID, "",
		broadcast.ForceSignout{UserID: accountID, Action: action, Message: message, Reauth: reauth}))
}
