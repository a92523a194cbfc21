package stepup

import (
	"context"
	"fmt"
	"math"
	"time"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/platform/apperr"
)

// GateStatus describes the management gate of one session.
type GateStatus struct {
	Locked           bool `json:"locked"`
	ExpiresInSeconds int  `json:"expiresInSeconds"`
	// Warning is true in the final GateWarning before the gate re-locks.
	Warning bool `json:"warning"`
}

// Unlock opens the management gate of the caller's session after a password re-entry. A wrong
// password follows the same fail-closed policy as VerifyPassword.
func (s *Service) Unlock(ctx context.Context, actor accountdomain.Actor, password string) (*GateStatus, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.ErrForbidden, "admin role required")
	}
	if _, err := s.checkPassword(ctx, actor, password); err != nil {
		return nil, err
	}
	until := s.now().UTC().Add(s.opts.GateIdle)
	if err := s.sessions.SetManagementUnlockedUntil(ctx, actor.SessionID, &until); err != nil {
		return nil, fmt.Errorf("unlock gate: %w", err)
	}
	return s.status(until), nil
}

// Touch extends an open gate by GateIdle. It fails with ErrForbidden when the gate is locked.
func (s *Service) Touch(ctx context.Context, actor accountdomain.Actor) error {
	st, err := s.Status(ctx, actor)
	if err != nil {
		return err
	}
	if st.Locked {
		return apperr.New(apperr.ErrForbidden, "management gate locked; re-enter your password")
	}
	until := s.now().UTC().Add(s.opts.GateIdle)
	if err := s.sessions.SetManagementUnlockedUntil(ctx, actor.SessionID, &until); err != nil {
		return fmt.Errorf("extend gate: %w", err)
	}
	return nil
}

// Status reports the gate of the caller's session without extending it.
func (s *Service) Status(ctx context.Context, actor accountdomain.Actor) (*GateStatus, error) {
	sess, err := s.sessions.GetByID(ctx, actor.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.ManagementUnlockedUntil == nil {
		return &GateStatus{Locked: true}, nil
	}
	return s.status(*sess.ManagementUnlockedUntil), nil
}

// Lock closes the gate immediately.
func (s *Service) Lock(ctx context.Context, actor accountdomain.Actor) error {
	return s.sessions.SetManagementUnlockedUntil(ctx, actor.SessionID, nil)
}

func (s *Service) status(until time.Time) *GateStatus {
	left := until.Sub(s.now())
	if left <= 0 {
		return &GateStatus{Locked: true}
	}
	return &GateStatus{
		ExpiresInSeconds: int(math.Ceil(left.Seconds())),
		Warning:          left <= s.opts.GateWarning,
	}
}
