package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/broadcast"
	moddomain "account-lifecycle/internal/moderation/domain"
	modrepo "account-lifecycle/internal/moderation/repository"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/store"
)

// Command is one moderation transition requested by an admin.
type Command struct {
	Action   moddomain.Action
	TargetID string
	Reason   moddomain.Reason
	Policy   *moddomain.Policy
	// IfVersion, when non-zero, must equal the stored version or the command fails with ErrConflict.
	IfVersion int64
}

// Result is the outcome of a transition. Record is nil when the command was a no-op.
type Result struct {
	Account *domain.Account
	Record  *moddomain.Record
}

var reasonRequired = map[moddomain.Action]bool{
	moddomain.ActionSuspend: true,
	moddomain.ActionSoftban: true,
	moddomain.ActionDemote:  true,
	moddomain.ActionReject:  true,
}

// punitive transitions revoke every persisted session of the target in the same transaction.
var punitive = map[moddomain.Action]bool{
	moddomain.ActionSuspend: true,
	moddomain.ActionSoftban: true,
	moddomain.ActionPurge:   true,
	moddomain.ActionDemote:  true,
}

func (c Command) validate() error {
	if c.TargetID == "" {
		return apperr.New(apperr.ErrValidation, "account id is required")
	}
	if reasonRequired[c.Action] {
		if c.Reason.IsZero() {
			return apperr.Newf(apperr.ErrValidation, "%s requires a reason", c.Action)
		}
	}
	if !c.Reason.IsZero() {
		if err := c.Reason.Validate(); err != nil {
			return apperr.New(apperr.ErrValidation, "reason: "+err.Error())
		}
	}
	if c.Policy != nil {
		if c.Action != moddomain.ActionSoftban {
			return apperr.New(apperr.ErrValidation, "a ban policy is only accepted on softban")
		}
		if err := c.Policy.Validate(); err != nil {
			return apperr.New(apperr.ErrValidation, "policy: "+err.Error())
		}
	}
	return nil
}

// Suspend blocks sign-in and ends every session of the account.
func (s *Service) Suspend(ctx context.Context, actor domain.Actor, id string, reason moddomain.Reason) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionSuspend, TargetID: id, Reason: reason})
}

// Activate lifts a suspension.
func (s *Service) Activate(ctx context.Context, actor domain.Actor, id string) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionActivate, TargetID: id})
}

// Softban hides the account without deleting the row.
func (s *Service) Softban(ctx context.Context, actor domain.Actor, id string, reason moddomain.Reason, policy *moddomain.Policy) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionSoftban, TargetID: id, Reason: reason, Policy: policy})
}

// Restore undoes a softban. Restoring an account that is not soft-banned changes nothing.
func (s *Service) Restore(ctx context.Context, actor domain.Actor, id string) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionRestore, TargetID: id})
}

// Purge irreversibly anonymizes a soft-banned account.
func (s *Service) Purge(ctx context.Context, actor domain.Actor, id string) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionPurge, TargetID: id})
}

// Promote makes a user an approved admin.
func (s *Service) Promote(ctx context.Context, actor domain.Actor, id string) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionPromote, TargetID: id})
}

// Demote turns an admin back into a user.
func (s *Service) Demote(ctx context.Context, actor domain.Actor, id string, reason moddomain.Reason) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionDemote, TargetID: id, Reason: reason})
}

// Reapprove grants admin access to an account whose approval was rejected.
func (s *Service) Reapprove(ctx context.Context, actor domain.Actor, id string) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionReapprove, TargetID: id})
}

// Approve grants a pending admin request.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, id string) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionApprove, TargetID: id})
}

// Reject turns down a pending admin request, or withdraws the access of an approved admin.
func (s *Service) Reject(ctx context.Context, actor domain.Actor, id string, reason moddomain.Reason) (*Result, error) {
	return s.Transition(ctx, actor, Command{Action: moddomain.ActionReject, TargetID: id, Reason: reason})
}

// RequestAdmin records the caller's request for admin access and tells the admins about it.
func (s *Service) RequestAdmin(ctx context.Context, actor domain.Actor) (*Result, error) {
	var res Result
	err := s.tx.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		locked, err := r.Accounts.LockForUpdate(ctx, actor.ID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if len(locked) == 0 || !locked[0].Visible() {
			return apperr.New(apperr.ErrNotFound, "account not found")
		}
		a := locked[0]
		switch {
		case a.Role.IsAdmin():
			return apperr.New(apperr.ErrConflict, "account is already an admin")
		case a.Status == domain.StatusSuspended:
			return apperr.New(apperr.ErrInvalidState, "suspended accounts cannot request admin access")
		case a.AdminApprovalStatus == domain.ApprovalPending:
			return apperr.New(apperr.ErrInvalidState, "an admin request is already pending")
		}
		now := s.now().UTC()
		rec := newRecord(a, moddomain.ActionRequestAdmin, actor.ID, moddomain.Reason{}, now)
		a.AdminApprovalStatus = domain.ApprovalPending
		a.UpdatedAt = now
		if err := r.Accounts.Update(ctx, a); err != nil {
			if errors.Is(err, accountrepo.ErrVersionConflict) {
				return apperr.New(apperr.ErrConflict, "account changed concurrently; retry")
			}
			return fmt.Errorf("update account: %w", err)
		}
		if err := r.Moderation.Append(ctx, rec); err != nil {
			return fmt.Errorf("append ledger record: %w", err)
		}
		res.Account, res.Record = a, rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.delta(res.Account.Role, broadcast.DeltaUpdate, res.Account, actor.ID)
	s.notifyTransition(ctx, actor, res.Account, res.Record)
	s.emit(ctx, actor, res.Record)
	s.log.Info().Str("account_id", actor.ID).Msg("account: admin access requested")
	return &res, nil
}

// Transition applies cmd as one unit of work, then pushes the outcome to live sessions.
func (s *Service) Transition(ctx context.Context, actor domain.Actor, cmd Command) (*Result, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	var (
		res     Result
		oldRole domain.Role
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		locked, err := r.Accounts.LockForUpdate(ctx, cmd.TargetID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if len(locked) == 0 {
			return apperr.New(apperr.ErrNotFound, "account not found")
		}
		a := locked[0]
		if err := precheck(a, cmd); err != nil {
			return err
		}
		if err := s.authorize(ctx, actor, a, cmd.Action); err != nil {
			return err
		}

		now := s.now().UTC()
		rec := newRecord(a, cmd.Action, actor.ID, cmd.Reason, now)
		rec.Policy = cmd.Policy
		oldRole = a.Role
		changed, err := apply(a, cmd.Action)
		if err != nil {
			return err
		}
		if !changed {
			res.Account = a
			return nil
		}
		a.UpdatedAt = now
		if err := r.Accounts.Update(ctx, a); err != nil {
			if errors.Is(err, accountrepo.ErrVersionConflict) {
				return apperr.New(apperr.ErrConflict, "account changed concurrently; refresh and retry")
			}
			return fmt.Errorf("update account: %w", err)
		}
		if cmd.Action == moddomain.ActionPurge {
			if err := stampSoftban(ctx, r.Moderation, a.ID, actor.ID, now); err != nil {
				return err
			}
		}
		if err := r.Moderation.Append(ctx, rec); err != nil {
			return fmt.Errorf("append ledger record: %w", err)
		}
		if revokes(cmd.Action, oldRole) {
			if _, err := r.Sessions.RevokeAllByAccount(ctx, a.ID, now); err != nil {
				return fmt.Errorf("revoke sessions: %w", err)
			}
		}
		res.Account, res.Record = a, rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Record != nil {
		s.afterTransition(ctx, actor, oldRole, res)
		s.log.Info().Str("account_id", res.Account.ID).Str("actor_id", actor.ID).
			Str("action", string(cmd.Action)).Int64("version", res.Account.Version).Msg("account: transition committed")
	}
	return &res, nil
}

// precheck enforces the caller's expected version, terminal states and visibility.
func precheck(a *domain.Account, cmd Command) error {
	if cmd.IfVersion != 0 && cmd.IfVersion != a.Version {
		return apperr.Newf(apperr.ErrConflict, "account is at version %d, not %d; refresh", a.Version, cmd.IfVersion)
	}
	switch cmd.Action {
	case moddomain.ActionRestore, moddomain.ActionPurge, moddomain.ActionSoftban:
		if a.BanState == domain.BanPurged {
			return apperr.New(apperr.ErrGone, "account has been purged")
		}
	default:
		if !a.Visible() {
			return apperr.New(apperr.ErrNotFound, "account may have been soft-banned or moved; refresh")
		}
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, actor domain.Actor, target *domain.Account, action moddomain.Action) error {
	ok, err := s.authz.Allow(ctx, actor, target, string(action))
	if err != nil {
		s.log.Error().Err(err).Str("actor_id", actor.ID).Str("action", string(action)).Msg("account: policy evaluation failed")
		return apperr.New(apperr.ErrForbidden, "not permitted")
	}
	if !ok {
		return apperr.Newf(apperr.ErrForbidden, "not permitted to %s this account", action)
	}
	return nil
}

// apply mutates a for action. It reports false when the account is already in the target state
// and the action is defined as a no-op there.
func apply(a *domain.Account, action moddomain.Action) (bool, error) {
	switch action {
	case moddomain.ActionSuspend:
		if a.Status == domain.StatusSuspended {
			return false, apperr.New(apperr.ErrInvalidState, "account is already suspended")
		}
		a.Status = domain.StatusSuspended
	case moddomain.ActionActivate:
		if a.Status == domain.StatusActive {
			return false, apperr.New(apperr.ErrInvalidState, "account is already active")
		}
		a.Status = domain.StatusActive
	case moddomain.ActionSoftban:
		if a.BanState == domain.BanSoftbanned {
			return false, apperr.New(apperr.ErrInvalidState, "account is already soft-banned")
		}
		if a.IsDefaultAdmin {
			return false, apperr.New(apperr.ErrInvalidState, "transfer default admin rights first")
		}
		a.BanState = domain.BanSoftbanned
	case moddomain.ActionRestore:
		if a.BanState != domain.BanSoftbanned {
			return false, nil
		}
		a.BanState = domain.BanNone
		a.Status = domain.StatusActive
	case moddomain.ActionPurge:
		if a.BanState != domain.BanSoftbanned {
			return false, apperr.New(apperr.ErrInvalidState, "only soft-banned accounts can be purged")
		}
		anonymize(a)
	case moddomain.ActionPromote:
		if a.Status == domain.StatusSuspended {
			return false, apperr.New(apperr.ErrInvalidState, "activate the account before promoting it")
		}
		if a.Role != domain.RoleUser {
			return false, apperr.New(apperr.ErrConflict, "account is already an admin")
		}
		a.Role = domain.RoleAdmin
		a.AdminApprovalStatus = domain.ApprovalApproved
	case moddomain.ActionDemote:
		if a.IsDefaultAdmin {
			return false, apperr.New(apperr.ErrInvalidState, "transfer default admin rights first")
		}
		if a.Status == domain.StatusSuspended {
			return false, apperr.New(apperr.ErrInvalidState, "activate the account before demoting it")
		}
		if !a.Role.IsAdmin() {
			return false, apperr.New(apperr.ErrInvalidState, "account is not an admin")
		}
		a.Role = domain.RoleUser
		a.AdminApprovalStatus = domain.ApprovalNone
	case moddomain.ActionReapprove:
		if a.AdminApprovalStatus != domain.ApprovalRejected {
			return false, apperr.New(apperr.ErrInvalidState, "only rejected admins can be reapproved")
		}
		if a.Status == domain.StatusSuspended {
			return false, apperr.New(apperr.ErrInvalidState, "activate the account before reapproving it")
		}
		a.Role = domain.RoleAdmin
		a.AdminApprovalStatus = domain.ApprovalApproved
	case moddomain.ActionApprove:
		if a.Role != domain.RoleUser || a.AdminApprovalStatus != domain.ApprovalPending {
			return false, apperr.New(apperr.ErrInvalidState, "no pending admin request")
		}
		if a.Status == domain.StatusSuspended {
			return false, apperr.New(apperr.ErrInvalidState, "activate the account before approving it")
		}
		a.Role = domain.RoleAdmin
		a.AdminApprovalStatus = domain.ApprovalApproved
	case moddomain.ActionReject:
		if a.IsDefaultAdmin {
			return false, apperr.New(apperr.ErrInvalidState, "transfer default admin rights first")
		}
		pending := a.Role == domain.RoleUser && a.AdminApprovalStatus == domain.ApprovalPending
		if !pending && !(a.Role.IsAdmin() && a.AdminApprovalStatus == domain.ApprovalApproved) {
			return false, apperr.New(apperr.ErrInvalidState, "nothing to reject")
		}
		a.Role = domain.RoleUser
		a.AdminApprovalStatus = domain.ApprovalRejected
	default:
		return false, apperr.Newf(apperr.ErrValidation, "unknown action %q", action)
	}
	return true, nil
}

// anonymize clears personal data. The email keeps the unique index satisfied.
func anonymize(a *domain.Account) {
	a.Email = "purged+" + a.ID + "@invalid"
	a.Name = ""
	a.Phone = ""
	a.PasswordHash = ""
	a.Role = domain.RoleUser
	a.AdminApprovalStatus = domain.ApprovalNone
	a.BanState = domain.BanPurged
}

func stampSoftban(ctx context.Context, ledger modrepo.Repository, accountID, actorID string, at time.Time) error {
	latest, err := ledger.LatestByAction(ctx, accountID, moddomain.ActionSoftban)
	if err != nil {
		return fmt.Errorf("load softban record: %w", err)
	}
	if latest == nil {
		return nil
	}
	if err := ledger.StampPurged(ctx, latest.ID, at, actorID); err != nil {
		if errors.Is(err, modrepo.ErrAlreadyPurged) {
			return apperr.New(apperr.ErrGone, "account has been purged")
		}
		return fmt.Errorf("stamp softban record: %w", err)
	}
	return nil
}

// revokes reports whether the transition ends the target's sessions. Rejecting a pending request
// leaves a plain user signed in; rejecting an admin takes privileges away.
func revokes(action moddomain.Action, oldRole domain.Role) bool {
	if action == moddomain.ActionReject {
		return oldRole.IsAdmin()
	}
	return punitive[action]
}

var signoutMessages = map[moddomain.Action]string{
	moddomain.ActionSuspend:   "Your account has been suspended.",
	moddomain.ActionSoftban:   "Your account has been removed.",
	moddomain.ActionPurge:     "Your account has been permanently deleted.",
	moddomain.ActionDemote:    "Your administrator access has been removed.",
	moddomain.ActionPromote:   "Sign in again to pick up new privileges.",
	moddomain.ActionReapprove: "Sign in again to pick up new privileges.",
	moddomain.ActionApprove:   "Sign in again to pick up new privileges.",
	moddomain.ActionReject:    "Your administrator access has been withdrawn.",
	moddomain.ActionActivate:  "Your account has been reactivated. Sign in again.",
	moddomain.ActionRestore:   "Your account has been restored. Sign in again.",
}

// afterTransition pushes list deltas, the sign-out directive and the ledger event.
func (s *Service) afterTransition(ctx context.Context, actor domain.Actor, oldRole domain.Role, res Result) {
	a, action := res.Account, res.Record.Action
	switch action {
	case moddomain.ActionSoftban, moddomain.ActionPurge:
		s.delta(oldRole, broadcast.DeltaDelete, a, actor.ID)
	case moddomain.ActionRestore:
		s.delta(a.Role, broadcast.DeltaAdd, a, actor.ID)
	default:
		if oldRole != a.Role {
			s.delta(oldRole, broadcast.DeltaDelete, a, actor.ID)
			s.delta(a.Role, broadcast.DeltaAdd, a, actor.ID)
		} else {
			s.delta(a.Role, broadcast.DeltaUpdate, a, actor.ID)
		}
	}
	// force_signout closes the account's subscriptions, so it goes last.
	if action == moddomain.ActionSuspend {
		s.publish(broadcast.AccountTopic(a.ID), broadcast.NewEvent(broadcast.TypeAccountSuspended, a.ID, actor.ID,
			map[string]string{"userId": a.ID}))
	}
	s.notifyTransition(ctx, actor, a, res.Record)
	// A rejected request leaves a signed-in user with nothing new to pick up.
	if s.announcer != nil && (action != moddomain.ActionReject || oldRole.IsAdmin()) {
		s.announcer.Announce(a.ID, string(action), signoutMessages[action], !revokes(action, oldRole))
	}
	s.emit(ctx, actor, res.Record)
}
