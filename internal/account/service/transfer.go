package service

import (
	"context"
	"errors"
	"fmt"

	"account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/broadcast"
	moddomain "account-lifecycle/internal/moderation/domain"
	otcdomain "account-lifecycle/internal/otc/domain"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/store"
)

// TransferDefaultAdmin moves the default admin flag from the caller to candidateID. Both rows are
// locked in id order, the holder is cleared before the candidate is set, and the flag is re-counted
// before commit. Any failure leaves both accounts untouched.
func (s *Service) TransferDefaultAdmin(ctx context.Context, actor domain.Actor, currentID, candidateID, grant string) error {
	if actor.ID != currentID || !actor.IsDefaultAdmin {
		return apperr.New(apperr.ErrForbidden, "only the default admin can transfer default admin rights")
	}
	if candidateID == "" || candidateID == currentID {
		return apperr.New(apperr.ErrValidation, "choose another admin as successor")
	}
	if err := s.grants.ConsumeGrant(ctx, actor.ID, grant, otcdomain.PurposeRightsTransfer); err != nil {
		return err
	}

	var holder, candidate *domain.Account
	var records []*moddomain.Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		locked, err := r.Accounts.LockForUpdate(ctx, currentID, candidateID)
		if err != nil {
			return fmt.Errorf("lock accounts: %w", err)
		}
		for _, a := range locked {
			switch a.ID {
			case currentID:
				holder = a
			case candidateID:
				candidate = a
			}
		}
		if holder == nil || !holder.IsDefaultAdmin {
			return apperr.New(apperr.ErrConflict, "default admin rights have already moved; refresh")
		}
		if candidate == nil || !candidate.Visible() {
			return apperr.New(apperr.ErrNotFound, "candidate may have been soft-banned or moved; refresh")
		}
		if candidate.Role != domain.RoleAdmin || candidate.AdminApprovalStatus != domain.ApprovalApproved ||
			candidate.Status != domain.StatusActive {
			return apperr.New(apperr.ErrInvalidState, "candidate must be an approved, active admin")
		}

		now := s.now().UTC()
		demote := newRecord(holder, moddomain.ActionDemote, actor.ID, moddomain.CategoryReason(moddomain.ReasonRightsTransfer, ""), now)
		promote := newRecord(candidate, moddomain.ActionPromote, actor.ID, moddomain.CategoryReason(moddomain.ReasonRightsTransfer, ""), now)

		holder.IsDefaultAdmin = false
		holder.Role = domain.RoleAdmin
		holder.UpdatedAt = now
		if err := r.Accounts.Update(ctx, holder); err != nil {
			return transferWriteErr(err)
		}
		candidate.IsDefaultAdmin = true
		candidate.Role = domain.RoleRootAdmin
		candidate.UpdatedAt = now
		if err := r.Accounts.Update(ctx, candidate); err != nil {
			return transferWriteErr(err)
		}

		n, err := r.Accounts.CountDefaultAdmins(ctx)
		if err != nil {
			return fmt.Errorf("count default admins: %w", err)
		}
		if n != 1 {
			return apperr.Newf(apperr.ErrInvariantViolation, "expected exactly one default admin, found %d", n)
		}
		for _, rec := range []*moddomain.Record{promote, demote} {
			if err := r.Moderation.Append(ctx, rec); err != nil {
				return fmt.Errorf("append ledger record: %w", err)
			}
		}
		records = []*moddomain.Record{promote, demote}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("actor_id", actor.ID).Str("candidate_id", candidateID).Msg("account: default admin transfer rolled back")
		return err
	}

	for _, a := range []*domain.Account{candidate, holder} {
		s.delta(domain.RoleAdmin, broadcast.DeltaUpdate, a, actor.ID)
		if s.announcer != nil {
			s.announcer.Announce(a.ID, "rights_transfer", "Default admin rights changed. Sign in again to pick up new privileges.", true)
		}
	}
	for _, rec := range records {
		s.emit(ctx, actor, rec)
	}
	s.log.Info().Str("from", holder.ID).Str("to", candidate.ID).Msg("account: default admin transferred")
	return nil
}

func transferWriteErr(err error) error {
	if errors.Is(err, accountrepo.ErrVersionConflict) {
		return apperr.New(apperr.ErrConflict, "account changed concurrently; refresh and retry")
	}
	return fmt.Errorf("transfer default admin: %w", err)
}
