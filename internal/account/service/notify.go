package service

import (
	"context"
	"fmt"

	"account-lifecycle/internal/account/domain"
	moddomain "account-lifecycle/internal/moderation/domain"
	notifdomain "account-lifecycle/internal/notification/domain"
)

// Notifier writes inbox entries and pushes them to the recipient. The notification service
// implements it.
type Notifier interface {
	Create(ctx context.Context, n *notifdomain.Notification) (*notifdomain.Notification, error)
	NotifyAdmins(ctx context.Context, senderID, title, message string, except ...string) (int, error)
}

type notice struct {
	title, message string
}

// targetNotices are the inbox entries a transition leaves for its target. Punitive transitions
// end the target's sessions instead.
var targetNotices = map[moddomain.Action]notice{
	moddomain.ActionRestore:   {"Account restored", "Your account has been restored. You can sign in again."},
	moddomain.ActionPromote:   {"Administrator access granted", "You are now an administrator."},
	moddomain.ActionApprove:   {"Admin request approved", "Your request for administrator access was approved."},
	moddomain.ActionReapprove: {"Administrator access restored", "Your administrator access was approved again."},
	moddomain.ActionReject:    {"Administrator access rejected", "Your administrator access was rejected."},
}

// notifyTransition leaves an inbox entry for the target where one applies and an admin-type entry
// for every other admin. Failures are logged; the transition has already committed.
func (s *Service) notifyTransition(ctx context.Context, actor domain.Actor, a *domain.Account, rec *moddomain.Record) {
	if s.notifier == nil {
		return
	}
	if n, ok := targetNotices[rec.Action]; ok {
		_, err := s.notifier.Create(ctx, &notifdomain.Notification{
			RecipientAccountID: a.ID,
			SenderAccountID:    actor.ID,
			Title:              n.title,
			Message:            n.message,
			Type:               notifdomain.TypeSecurity,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("account_id", a.ID).Str("action", string(rec.Action)).Msg("account: notify target")
		}
	}
	title, message := adminNotice(rec)
	if _, err := s.notifier.NotifyAdmins(ctx, actor.ID, title, message, actor.ID, a.ID); err != nil {
		s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("account: notify admins")
	}
}

func adminNotice(rec *moddomain.Record) (string, string) {
	if rec.Action == moddomain.ActionRequestAdmin {
		return "Admin access requested", rec.SubjectEmail + " asked for administrator access."
	}
	msg := fmt.Sprintf("%s: %s by %s", rec.Action, rec.SubjectEmail, rec.ActorID)
	if !rec.Reason.IsZero() {
		msg += " (" + rec.Reason.String() + ")"
	}
	return "Account " + string(rec.Action), msg
}
