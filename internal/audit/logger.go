package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"account-lifecycle/internal/audit/domain"
	auditrepo "account-lifecycle/internal/audit/repository"
)

// Security event actions written outside the HTTP middleware.
const (
	ActionSignIn           = "signin"
	ActionSignInFailure    = "signin_failure"
	ActionSignOut          = "signout"
	ActionLockout          = "lockout"
	ActionPasswordMismatch = "password_mismatch"
	ActionOTCExhausted     = "otc_exhausted"
	ActionForcedSignOut    = "forced_signout"
	ActionPasswordReset    = "password_reset"
	ActionDefaultTransfer  = "default_admin_transfer"
)

type ipKey struct{}

// WithIP returns a context carrying the client IP for audit entries.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

// IPFromContext returns the client IP stored by WithIP, or "unknown".
func IPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ipKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// AuditLogger writes a single audit event with explicit action/resource. Used by auth and session code paths.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, accountID, sessionID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
	log  zerolog.Logger
	now  func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. A nil repo turns LogEvent into a no-op.
func NewLogger(repo auditrepo.Repository, log zerolog.Logger) *Logger {
	return &Logger{repo: repo, log: log, now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, accountID, sessionID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		AccountID: accountID,
		SessionID: sessionID,
		Action:    action,
		Resource:  resource,
		IP:        IPFromContext(ctx),
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Error().Err(err).Str("action", action).Str("resource", resource).Msg("audit: failed to log event")
	}
}
