// Package service implements the account state machine, default admin transfer, self-service
// profile changes and self-deletion.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/broadcast"
	moddomain "account-lifecycle/internal/moderation/domain"
	otcdomain "account-lifecycle/internal/otc/domain"
	"account-lifecycle/internal/policy/engine"
	"account-lifecycle/internal/store"
	"account-lifecycle/internal/telemetry"
)

// GrantConsumer spends a step-up grant.
type GrantConsumer interface {
	ConsumeGrant(ctx context.Context, accountID, token string, purpose otcdomain.Purpose) error
}

// Announcer pushes force_signout to an account's live connections.
type Announcer interface {
	Announce(accountID, action, message string, reauth bool)
}

// Service runs account transitions. Each transition is one unit of work: the version
// compare-and-swap, the ledger append and any session revocation commit together. Pushes and
// telemetry happen after commit and never fail the operation.
type Service struct {
	tx        store.UnitOfWork
	authz     engine.Authorizer
	grants    GrantConsumer
	pub       broadcast.Publisher
	announcer Announcer
	notifier  Notifier
	events    telemetry.EventEmitter
	log       zerolog.Logger
	now       func() time.Time
}

// NewService returns an account Service. pub, notifier and events may be nil.
func NewService(
	tx store.UnitOfWork,
	authz engine.Authorizer,
	grants GrantConsumer,
	pub broadcast.Publisher,
	announcer Announcer,
	notifier Notifier,
	events telemetry.EventEmitter,
	log zerolog.Logger,
) *Service {
	return &Service{
		tx:        tx,
		authz:     authz,
		grants:    grants,
		pub:       pub,
		announcer: announcer,
		notifier:  notifier,
		events:    events,
		log:       log,
		now:       time.Now,
	}
}

func (s *Service) publish(topic string, ev broadcast.Event) {
	if s.pub != nil {
		s.pub.Publish(topic, ev)
	}
}

// delta pushes a user_update or admin_update on the moderation topic, chosen by role.
func (s *Service) delta(role domain.Role, kind string, a *domain.Account, actorID string) {
	typ := broadcast.TypeUserUpdate
	if role.IsAdmin() {
		typ = broadcast.TypeAdminUpdate
	}
	s.publish(broadcast.TopicModeration, broadcast.NewEvent(typ, a.ID, actorID, broadcast.Delta{Type: kind, Account: a.View()}))
}

// emit sends the ledger record to the telemetry pipeline.
func (s *Service) emit(ctx context.Context, actor domain.Actor, rec *moddomain.Record) {
	meta, err := json.Marshal(map[string]any{
		"record_id":    rec.ID,
		"reason":       rec.Reason,
		"policy":       rec.Policy,
		"subject_role": rec.SubjectRole,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("account: marshal ledger event")
		return
	}
	telemetry.EmitAsync(ctx, s.events, &telemetry.Event{
		ID:        uuid.New().String(),
		EventType: "moderation." + string(rec.Action),
		Source:    telemetry.Source,
		AccountID: rec.AccountID,
		ActorID:   rec.ActorID,
		SessionID: actor.SessionID,
		Metadata:  meta,
		CreatedAt: rec.CreatedAt,
	})
}

// newRecord snapshots the subject before the transition mutates it.
func newRecord(a *domain.Account, action moddomain.Action, actorID string, reason moddomain.Reason, at time.Time) *moddomain.Record {
	return &moddomain.Record{
		ID:           uuid.New().String(),
		AccountID:    a.ID,
		Action:       action,
		ActorID:      actorID,
		Reason:       reason,
		SubjectEmail: a.Email,
		SubjectName:  a.Name,
		SubjectRole:  string(a.Role),
		CreatedAt:    at,
	}
}
