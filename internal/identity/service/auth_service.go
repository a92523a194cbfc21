// Package service signs accounts in and out. Sign-in issues a server-side session and an access
// JWT naming it; every later request is re-validated against the session and the account.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/audit"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/security"
	sessiondomain "account-lifecycle/internal/session/domain"
)

// AuthResult is the outcome of a successful SignIn.
type AuthResult struct {
	AccessToken string             `json:"accessToken"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	SessionID   string             `json:"sessionId"`
	Account     accountdomain.View `json:"account"`
}

// AccountRepo is the minimal account repository needed by the auth service.
type AccountRepo interface {
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	Revoke(ctx context.Context, id string, at time.Time) error
}

// Lockout is implemented by lockout.Tracker.
type Lockout interface {
	Check(a *accountdomain.Account) error
	RecordFailure(ctx context.Context, a *accountdomain.Account) (bool, error)
	RecordSuccess(ctx context.Context, a *accountdomain.Account) error
}

// AuthService implements password sign-in and sign-out.
type AuthService struct {
	accounts   AccountRepo
	sessions   SessionRepo
	lockout    Lockout
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	audit      audit.AuditLogger
	log        zerolog.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. auditLogger may be nil.
func NewAuthService(
	accounts AccountRepo,
	sessions SessionRepo,
	lockout Lockout,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	auditLogger audit.AuditLogger,
	log zerolog.Logger,
	sessionTTL time.Duration,
) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = 168 * time.Hour
	}
	return &AuthService{
		accounts:   accounts,
		sessions:   sessions,
		lockout:    lockout,
		hasher:     hasher,
		tokens:     tokens,
		audit:      auditLogger,
		log:        log,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// SignIn authenticates email and password. Unknown, soft-banned and purged accounts get the same
// answer as a wrong password after the same bcrypt cost. A locked account is refused before the
// password is checked.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, apperr.New(apperr.ErrValidation, "email and password are required")
	}
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil || !acc.Visible() || acc.PasswordHash == "" {
		_ = s.hasher.CompareDummy([]byte(password))
		s.logEvent(ctx, "", "", audit.ActionSignInFailure, `{"reason":"unknown_account"}`)
		return nil, invalidCredentials()
	}
	if err := s.lockout.Check(acc); err != nil {
		s.logEvent(ctx, acc.ID, "", audit.ActionSignInFailure, `{"reason":"locked"}`)
		return nil, err
	}
	if err := s.hasher.Compare(acc.PasswordHash, []byte(password)); err != nil {
		locked, lerr := s.lockout.RecordFailure(ctx, acc)
		if lerr != nil {
			s.log.Error().Err(lerr).Str("account_id", acc.ID).Msg("auth: record failed sign-in")
		}
		s.logEvent(ctx, acc.ID, "", audit.ActionSignInFailure, `{"reason":"wrong_password"}`)
		if locked {
			return nil, s.lockout.Check(acc)
		}
		return nil, invalidCredentials()
	}
	if acc.Status == accountdomain.StatusSuspended {
		s.logEvent(ctx, acc.ID, "", audit.ActionSignInFailure, `{"reason":"suspended"}`)
		return nil, apperr.New(apperr.ErrUnauthorized, "account suspended")
	}
	if err := s.lockout.RecordSuccess(ctx, acc); err != nil {
		s.log.Warn().Err(err).Str("account_id", acc.ID).Msg("auth: reset sign-in counter")
	}

	now := s.now().UTC()
	sess := &sessiondomain.Session{
		ID:        uuid.New().String(),
		AccountID: acc.ID,
		ExpiresAt: now.Add(s.sessionTTL),
		IPAddress: audit.IPFromContext(ctx),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	token, expiresAt, err := s.tokens.IssueAccess(sess.ID, acc.ID, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	s.logEvent(ctx, acc.ID, sess.ID, audit.ActionSignIn, "")
	s.log.Info().Str("account_id", acc.ID).Str("session_id", sess.ID).Msg("auth: signed in")
	return &AuthResult{AccessToken: token, ExpiresAt: expiresAt, SessionID: sess.ID, Account: acc.View()}, nil
}

// SignOut revokes the caller's current session only.
func (s *AuthService) SignOut(ctx context.Context, actor accountdomain.Actor) error {
	if actor.SessionID == "" {
		return nil
	}
	if err := s.sessions.Revoke(ctx, actor.SessionID, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.logEvent(ctx, actor.ID, actor.SessionID, audit.ActionSignOut, "")
	return nil
}

func (s *AuthService) logEvent(ctx context.Context, accountID, sessionID, action, metadata string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, accountID, sessionID, action, "auth", metadata)
	}
}

func invalidCredentials() error {
	return apperr.New(apperr.ErrInvalidCredential, "invalid email or password")
}
