// Package service answers ledger queries, restricted to what the viewer may see.
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/moderation/domain"
	"account-lifecycle/internal/moderation/repository"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/policy/engine"
)

// Service lists ledger records.
type Service struct {
	repo  repository.Repository
	authz engine.Authorizer
	log   zerolog.Logger
}

// NewService returns a ledger query Service.
func NewService(repo repository.Repository, authz engine.Authorizer, log zerolog.Logger) *Service {
	return &Service{repo: repo, authz: authz, log: log}
}

// ListSoftbanned returns the latest softban record of each currently soft-banned account.
func (s *Service) ListSoftbanned(ctx context.Context, viewer accountdomain.Actor, f domain.Filter) ([]*domain.Record, error) {
	if err := s.scope(ctx, viewer, &f); err != nil {
		return nil, err
	}
	recs, err := s.repo.ListSoftbanned(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list soft-banned: %w", err)
	}
	return recs, nil
}

// ListPurged returns softban records carrying a purge stamp.
func (s *Service) ListPurged(ctx context.Context, viewer accountdomain.Actor, f domain.Filter) ([]*domain.Record, error) {
	if err := s.scope(ctx, viewer, &f); err != nil {
		return nil, err
	}
	recs, err := s.repo.ListPurged(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list purged: %w", err)
	}
	return recs, nil
}

// History returns every record of one account that the viewer may see, newest first.
func (s *Service) History(ctx context.Context, viewer accountdomain.Actor, accountID string) ([]*domain.Record, error) {
	roles, err := s.visibleRoles(ctx, viewer)
	if err != nil {
		return nil, err
	}
	recs, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	out := recs[:0]
	for _, rec := range recs {
		if allowed[rec.SubjectRole] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// scope normalizes f and restricts it to the viewer's visible roles. Asking for a role outside
// them is forbidden rather than silently empty.
func (s *Service) scope(ctx context.Context, viewer accountdomain.Actor, f *domain.Filter) error {
	if err := f.Normalize(); err != nil {
		return apperr.New(apperr.ErrValidation, err.Error())
	}
	roles, err := s.visibleRoles(ctx, viewer)
	if err != nil {
		return err
	}
	if f.Role != "" {
		found := false
		for _, r := range roles {
			if r == f.Role {
				found = true
				break
			}
		}
		if !found {
			return apperr.Newf(apperr.ErrForbidden, "records of role %q are not visible to you", f.Role)
		}
	}
	f.Roles = roles
	return nil
}

func (s *Service) visibleRoles(ctx context.Context, viewer accountdomain.Actor) ([]string, error) {
	roles, err := s.authz.VisibleRoles(ctx, viewer)
	if err != nil {
		s.log.Error().Err(err).Str("actor_id", viewer.ID).Msg("moderation: policy evaluation failed")
		return nil, apperr.New(apperr.ErrForbidden, "not permitted")
	}
	if len(roles) == 0 {
		return nil, apperr.New(apperr.ErrForbidden, "admin role required")
	}
	return roles, nil
}
