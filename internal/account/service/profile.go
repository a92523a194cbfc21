package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/broadcast"
	moddomain "account-lifecycle/internal/moderation/domain"
	otcdomain "account-lifecycle/internal/otc/domain"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/store"
)

// ProfileUpdate carries the fields to change; nil means unchanged. Grant is required when Email
// or Phone changes.
type ProfileUpdate struct {
	Name  *string
	Email *string
	Phone *string
	Grant string
}

// Validate checks the supplied fields.
func (u ProfileUpdate) Validate() error {
	var name, email, phone string
	if u.Name != nil {
		name = *u.Name
	}
	if u.Email != nil {
		email = *u.Email
	}
	if u.Phone != nil {
		phone = *u.Phone
	}
	errs := validation.Errors{
		"name":  validation.Validate(name, validation.Length(0, 200)),
		"phone": validation.Validate(phone, validation.Length(0, 32)),
	}
	if u.Email != nil {
		errs["email"] = validation.Validate(email, validation.Required, is.Email)
	}
	return errs.Filter()
}

// UpdateProfile changes the caller's own profile.
func (s *Service) UpdateProfile(ctx context.Context, actor domain.Actor, u ProfileUpdate) (*domain.Account, error) {
	if err := u.Validate(); err != nil {
		return nil, apperr.New(apperr.ErrValidation, err.Error())
	}
	var updated *domain.Account
	sensitive := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		locked, err := r.Accounts.LockForUpdate(ctx, actor.ID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if len(locked) == 0 || !locked[0].Visible() {
			return apperr.New(apperr.ErrNotFound, "account not found")
		}
		a := locked[0]
		if u.Email != nil && domain.NormalizeEmail(*u.Email) != domain.NormalizeEmail(a.Email) {
			a.Email = domain.NormalizeEmail(*u.Email)
			sensitive = true
		}
		if u.Phone != nil && strings.TrimSpace(*u.Phone) != a.Phone {
			a.Phone = strings.TrimSpace(*u.Phone)
			sensitive = true
		}
		if u.Name != nil {
			a.Name = strings.TrimSpace(*u.Name)
		}
		if sensitive {
			if err := s.grants.ConsumeGrant(ctx, actor.ID, u.Grant, otcdomain.PurposeProfileUpdate); err != nil {
				return err
			}
		}
		a.UpdatedAt = s.now().UTC()
		if err := r.Accounts.Update(ctx, a); err != nil {
			switch {
			case errors.Is(err, accountrepo.ErrDuplicateEmail):
				return apperr.New(apperr.ErrConflict, "email already in use")
			case errors.Is(err, accountrepo.ErrVersionConflict):
				return apperr.New(apperr.ErrConflict, "account changed concurrently; refresh and retry")
			}
			return fmt.Errorf("update profile: %w", err)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.delta(updated.Role, broadcast.DeltaUpdate, updated, actor.ID)
	s.log.Info().Str("account_id", actor.ID).Bool("sensitive", sensitive).Msg("account: profile updated")
	return updated, nil
}

// DeleteOwnAccount soft-bans the caller with reason self_deleted. The default admin must hand
// over the role first.
func (s *Service) DeleteOwnAccount(ctx context.Context, actor domain.Actor, grant string) error {
	if actor.IsDefaultAdmin {
		return apperr.New(apperr.ErrInvalidState, "select a successor first")
	}
	if err := s.grants.ConsumeGrant(ctx, actor.ID, grant, otcdomain.PurposeAccountDeletion); err != nil {
		return err
	}
	var res Result
	var oldRole domain.Role
	err := s.tx.WithinTx(ctx, func(ctx context.Context, r store.Repos) error {
		locked, err := r.Accounts.LockForUpdate(ctx, actor.ID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if len(locked) == 0 || !locked[0].Visible() {
			return apperr.New(apperr.ErrNotFound, "account not found")
		}
		a := locked[0]
		if a.IsDefaultAdmin {
			return apperr.New(apperr.ErrInvalidState, "select a successor first")
		}
		now := s.now().UTC()
		rec := newRecord(a, moddomain.ActionSoftban, actor.ID, moddomain.CategoryReason(moddomain.ReasonSelfDeleted, ""), now)
		oldRole = a.Role
		a.BanState = domain.BanSoftbanned
		a.UpdatedAt = now
		if err := r.Accounts.Update(ctx, a); err != nil {
			if errors.Is(err, accountrepo.ErrVersionConflict) {
				return apperr.New(apperr.ErrConflict, "account changed concurrently; retry")
			}
			return fmt.Errorf("soft-ban own account: %w", err)
		}
		if err := r.Moderation.Append(ctx, rec); err != nil {
			return fmt.Errorf("append ledger record: %w", err)
		}
		if _, err := r.Sessions.RevokeAllByAccount(ctx, a.ID, now); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
		res = Result{Account: a, Record: rec}
		return nil
	})
	if err != nil {
		return err
	}
	s.delta(oldRole, broadcast.DeltaDelete, res.Account, actor.ID)
	if s.announcer != nil {
		s.announcer.Announce(actor.ID, "self_deleted", "Your account has been deleted.", false)
	}
	s.emit(ctx, actor, res.Record)
	return nil
}
