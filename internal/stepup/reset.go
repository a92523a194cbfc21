package stepup

import (
	"context"
	"errors"
	"fmt"

	accountdomain "account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/audit"
	otcdomain "account-lifecycle/internal/otc/domain"
	"account-lifecycle/internal/platform/apperr"
)

// SendResetOTC issues a password_reset code without a session. Unknown or unavailable emails
// succeed silently so the endpoint does not reveal which addresses exist.
func (s *Service) SendResetOTC(ctx context.Context, email string) error {
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acc == nil || !acc.Visible() {
		s.log.Debug().Msg("stepup: password reset requested for unknown email")
		return nil
	}
	_, err = s.issue(ctx, acc, otcdomain.PurposePasswordReset)
	return err
}

// ResetPassword checks the reset code, sets the new password, clears sign-in lockout and revokes
// every session. Exhausting the code does not revoke sessions since the caller is not signed in.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return apperr.New(apperr.ErrValidation, err.Error())
	}
	email = accountdomain.NormalizeEmail(email)
	c, err := s.otc.Get(ctx, email, otcdomain.PurposePasswordReset)
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	if err := s.check(ctx, c, code); err != nil {
		if e, ok := apperr.As(err); ok && e.SignedOut {
			return apperr.New(apperr.ErrInvalidOTC, "too many attempts; request a new code")
		}
		return err
	}

	acc, err := s.accounts.GetByID(ctx, c.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acc == nil || !acc.Visible() {
		return apperr.New(apperr.ErrNotFound, "account not found")
	}
	hash, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	acc.PasswordHash = hash
	acc.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, acc); err != nil {
		if errors.Is(err, accountrepo.ErrVersionConflict) {
			return apperr.New(apperr.ErrConflict, "account changed concurrently; retry")
		}
		return fmt.Errorf("update password: %w", err)
	}
	if s.lockout != nil {
		if err := s.lockout.Reset(ctx, acc.ID); err != nil {
			s.log.Warn().Err(err).Str("account_id", acc.ID).Msg("stepup: reset lockout")
		}
	}
	if err := s.signOut.SignOutAll(ctx, acc.ID, "", ActionPasswordReset,
		"Your password was reset. Sign in with the new password."); err != nil {
		s.log.Error().Err(err).Str("account_id", acc.ID).Msg("stepup: sign-out after password reset")
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, acc.ID, "", audit.ActionPasswordReset, "account", "")
	}
	return nil
}

// ValidatePassword enforces the password policy: at least 12 characters with an upper-case letter,
// a lower-case letter, a digit and a symbol.
func ValidatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSymbol {
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
