// Package stepup re-verifies an already signed-in account before sensitive operations: password
// re-entry, a one-time code sent to the account email, and a single-use grant bound to a purpose.
package stepup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/audit"
	"account-lifecycle/internal/otc"
	"account-lifecycle/internal/otc/delivery"
	otcdomain "account-lifecycle/internal/otc/domain"
	otcrepo "account-lifecycle/internal/otc/repository"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/security"
	sessionrepo "account-lifecycle/internal/session/repository"
)

const (
	ActionPasswordMismatch = "password_mismatch"
	ActionOTCExhausted     = "otc_exhausted"
	ActionPasswordReset    = "password_reset"
)

// SignOuter revokes every session of an account and notifies its live connections.
type SignOuter interface {
	SignOutAll(ctx context.Context, accountID, sessionID, action, message string) error
}

// LoginResetter clears sign-in lockout state.
type LoginResetter interface {
	Reset(ctx context.Context, accountID string) error
}

// Options are the step-up timings. Zero values take the defaults.
type Options struct {
	MarkerTTL      time.Duration // password-verified marker lifetime, 5m
	OTCTTL         time.Duration // 10m
	ResendCooldown time.Duration // 30s
	MaxAttempts    int           // 5, cumulative across resends
	GrantTTL       time.Duration // 2m
	GateIdle       time.Duration // 5m
	GateWarning    time.Duration // 1m
}

func (o *Options) setDefaults() {
	if o.MarkerTTL <= 0 {
		o.MarkerTTL = 5 * time.Minute
	}
	if o.OTCTTL <= 0 {
		o.OTCTTL = 10 * time.Minute
	}
	if o.ResendCooldown <= 0 {
		o.ResendCooldown = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.GrantTTL <= 0 {
		o.GrantTTL = 2 * time.Minute
	}
	if o.GateIdle <= 0 {
		o.GateIdle = 5 * time.Minute
	}
	if o.GateWarning <= 0 {
		o.GateWarning = time.Minute
	}
}

// Service implements step-up verification, password reset and the management gate.
type Service struct {
	accounts accountrepo.Repository
	sessions sessionrepo.Repository
	otc      otcrepo.Repository
	sender   delivery.Sender
	hasher   *security.Hasher
	signOut  SignOuter
	lockout  LoginResetter
	audit    audit.AuditLogger
	log      zerolog.Logger
	opts     Options
	now      func() time.Time
}

// NewService returns a step-up Service. lockout and auditLogger may be nil.
func NewService(
	accounts accountrepo.Repository,
	sessions sessionrepo.Repository,
	otcRepo otcrepo.Repository,
	sender delivery.Sender,
	hasher *security.Hasher,
	signOut SignOuter,
	lockout LoginResetter,
	auditLogger audit.AuditLogger,
	log zerolog.Logger,
	opts Options,
) *Service {
	opts.setDefaults()
	return &Service{
		accounts: accounts,
		sessions: sessions,
		otc:      otcRepo,
		sender:   sender,
		hasher:   hasher,
		signOut:  signOut,
		lockout:  lockout,
		audit:    auditLogger,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

// VerifyPassword checks the caller's password. A mismatch signs the account out everywhere and
// returns ErrInvalidCredential with SignedOut set. Success stamps the password-verified marker on
// the caller's session.
func (s *Service) VerifyPassword(ctx context.Context, actor accountdomain.Actor, password string) error {
	if _, err := s.checkPassword(ctx, actor, password); err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.sessions.SetPasswordVerified(ctx, actor.SessionID, &now); err != nil {
		return fmt.Errorf("stamp password marker: %w", err)
	}
	return nil
}

// checkPassword applies the fail-closed policy shared by every password re-entry point.
func (s *Service) checkPassword(ctx context.Context, actor accountdomain.Actor, password string) (*accountdomain.Account, error) {
	acc, err := s.accounts.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil || !acc.Visible() {
		return nil, apperr.New(apperr.ErrUnauthorized, "account no longer available")
	}
	if password != "" && acc.PasswordHash != "" && s.hasher.Compare(acc.PasswordHash, []byte(password)) == nil {
		return acc, nil
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, actor.ID, actor.SessionID, audit.ActionPasswordMismatch, "session", "")
	}
	if err := s.signOut.SignOutAll(ctx, actor.ID, actor.SessionID, ActionPasswordMismatch,
		"Password verification failed. You have been signed out for security."); err != nil {
		s.log.Error().Err(err).Str("account_id", actor.ID).Msg("stepup: sign-out after password mismatch")
	}
	return nil, apperr.SignedOut(apperr.ErrInvalidCredential, "password mismatch; signed out")
}

// SendRequest asks for a one-time code. Password is optional when the session carries a fresh
// password-verified marker.
type SendRequest struct {
	Email    string
	Purpose  otcdomain.Purpose
	Password string
}

// SendResult reports when the issued code expires.
type SendResult struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

// SendOTC issues a code for one of the session-bound purposes and delivers it to the account email.
func (s *Service) SendOTC(ctx context.Context, actor accountdomain.Actor, req SendRequest) (*SendResult, error) {
	if req.Purpose == otcdomain.PurposePasswordReset {
		return nil, apperr.New(apperr.ErrValidation, "password reset codes are requested without a session")
	}
	if _, err := otcdomain.ParsePurpose(string(req.Purpose)); err != nil {
		return nil, apperr.New(apperr.ErrValidation, err.Error())
	}
	acc, err := s.requireMarker(ctx, actor, req.Password)
	if err != nil {
		return nil, err
	}
	if accountdomain.NormalizeEmail(req.Email) != accountdomain.NormalizeEmail(acc.Email) {
		return nil, apperr.New(apperr.ErrForbidden, "codes are only sent to the account email")
	}
	return s.issue(ctx, acc, req.Purpose)
}

// requireMarker accepts a marker younger than MarkerTTL, or verifies an inline password.
func (s *Service) requireMarker(ctx context.Context, actor accountdomain.Actor, password string) (*accountdomain.Account, error) {
	if password != "" {
		return s.checkPassword(ctx, actor, password)
	}
	sess, err := s.sessions.GetByID(ctx, actor.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.PasswordVerifiedAt == nil || s.now().Sub(*sess.PasswordVerifiedAt) > s.opts.MarkerTTL {
		return nil, apperr.New(apperr.ErrForbidden, "password verification required")
	}
	acc, err := s.accounts.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil || !acc.Visible() {
		return nil, apperr.New(apperr.ErrUnauthorized, "account no longer available")
	}
	return acc, nil
}

// issue replaces any pending challenge for (email, purpose), carrying its attempt count over.
func (s *Service) issue(ctx context.Context, acc *accountdomain.Account, purpose otcdomain.Purpose) (*SendResult, error) {
	now := s.now().UTC()
	email := accountdomain.NormalizeEmail(acc.Email)
	prev, err := s.otc.Get(ctx, email, purpose)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	attempts := 0
	if prev != nil {
		if wait := s.opts.ResendCooldown - now.Sub(prev.LastSentAt); wait > 0 {
			return nil, apperr.RateLimited("a code was sent recently", wait)
		}
		attempts = prev.Attempts
	}
	code, err := otc.GenerateCode()
	if err != nil {
		return nil, err
	}
	c := &otcdomain.Challenge{
		ID:         uuid.New().String(),
		AccountID:  acc.ID,
		Email:      email,
		Purpose:    purpose,
		CodeHash:   otc.HashCode(code),
		ExpiresAt:  now.Add(s.opts.OTCTTL),
		Attempts:   attempts,
		CreatedAt:  now,
		LastSentAt: now,
	}
	if err := s.otc.Replace(ctx, c); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	if err := s.sender.Send(ctx, delivery.Message{Email: email, Purpose: purpose, Code: code, ExpiresAt: c.ExpiresAt}); err != nil {
		if derr := s.otc.Delete(ctx, c.ID); derr != nil {
			s.log.Warn().Err(derr).Str("challenge_id", c.ID).Msg("stepup: delete undelivered challenge")
		}
		return nil, fmt.Errorf("deliver code: %w", err)
	}
	s.log.Info().Str("account_id", acc.ID).Str("purpose", string(purpose)).Msg("stepup: code sent")
	return &SendResult{ExpiresAt: c.ExpiresAt}, nil
}

// VerifyOTC checks the most recently sent code for email. The last allowed wrong attempt deletes
// the challenge and signs the caller out everywhere. A correct code yields a single-use grant.
func (s *Service) VerifyOTC(ctx context.Context, actor accountdomain.Actor, email, code string) (*otcdomain.Grant, error) {
	c, err := s.otc.LatestForAccount(ctx, accountdomain.NormalizeEmail(email), actor.ID)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if err := s.check(ctx, c, code); err != nil {
		if apperr.IsSignedOut(err) {
			if serr := s.signOut.SignOutAll(ctx, actor.ID, actor.SessionID, ActionOTCExhausted,
				"Too many incorrect codes. You have been signed out for security."); serr != nil {
				s.log.Error().Err(serr).Str("account_id", actor.ID).Msg("stepup: sign-out after exhausted code")
			}
			if s.audit != nil {
				s.audit.LogEvent(ctx, actor.ID, actor.SessionID, audit.ActionOTCExhausted, "otc", "")
			}
		}
		return nil, err
	}
	return s.grant(ctx, c.AccountID, c.Purpose)
}

// check spends one attempt on c before comparing, then consumes c on success, expiry or
// exhaustion. Only the caller whose Claim removes c succeeds. Exhaustion is reported as a
// SignedOut error; the caller decides whether sessions are actually revoked.
func (s *Service) check(ctx context.Context, c *otcdomain.Challenge, code string) error {
	if c == nil {
		return apperr.New(apperr.ErrInvalidOTC, "no pending code; request a new one")
	}
	if c.Expired(s.now()) {
		s.deleteChallenge(ctx, c.ID)
		return apperr.New(apperr.ErrInvalidOTC, "code expired; request a new one")
	}
	n, ok, err := s.otc.ConsumeAttempt(ctx, c.ID, s.opts.MaxAttempts)
	if err != nil {
		return fmt.Errorf("count attempt: %w", err)
	}
	if !ok {
		return apperr.New(apperr.ErrInvalidOTC, "no pending code; request a new one")
	}
	correct := otc.CodeEqual(code, c.CodeHash)
	if !correct && n < s.opts.MaxAttempts {
		return apperr.Newf(apperr.ErrInvalidOTC, "incorrect code; %d attempts remaining", s.opts.MaxAttempts-n)
	}
	// A correct code and the exhausting wrong one race for the same challenge; one claim wins.
	won, err := s.otc.Claim(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	switch {
	case !won:
		return apperr.New(apperr.ErrInvalidOTC, "no pending code; request a new one")
	case correct:
		return nil
	default:
		return apperr.SignedOut(apperr.ErrInvalidOTC, "too many attempts")
	}
}

func (s *Service) deleteChallenge(ctx context.Context, id string) {
	if err := s.otc.Delete(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("challenge_id", id).Msg("stepup: delete challenge")
	}
}

func (s *Service) grant(ctx context.Context, accountID string, purpose otcdomain.Purpose) (*otcdomain.Grant, error) {
	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	g := &otcdomain.Grant{
		Token:     token,
		TokenHash: security.HashToken(token),
		AccountID: accountID,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.opts.GrantTTL),
		CreatedAt: now,
	}
	if err := s.otc.CreateGrant(ctx, g); err != nil {
		return nil, fmt.Errorf("store grant: %w", err)
	}
	return g, nil
}

// ConsumeGrant spends token. It fails with ErrForbidden unless the token names a live grant for
// accountID and purpose. A spent token never validates again, even when this call fails.
func (s *Service) ConsumeGrant(ctx context.Context, accountID, token string, purpose otcdomain.Purpose) error {
	if token == "" {
		return apperr.New(apperr.ErrForbidden, "step-up verification required")
	}
	g, err := s.otc.ConsumeGrant(ctx, security.HashToken(token))
	if err != nil {
		return fmt.Errorf("consume grant: %w", err)
	}
	if g == nil || g.AccountID != accountID || g.Purpose != purpose || !s.now().Before(g.ExpiresAt) {
		return apperr.New(apperr.ErrForbidden, "step-up verification required")
	}
	return nil
}
