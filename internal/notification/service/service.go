// Package service manages account inboxes and pushes inbox changes to live sessions.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/broadcast"
	"account-lifecycle/internal/notification/domain"
	"account-lifecycle/internal/notification/repository"
	"account-lifecycle/internal/platform/apperr"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service implements notification operations. Only the recipient may read, mark or delete.
type Service struct {
	repo     repository.Repository
	accounts accountrepo.Repository
	pub      broadcast.Publisher
	log      zerolog.Logger
	now      func() time.Time
}

// NewService returns a notification Service. pub may be nil.
func NewService(repo repository.Repository, accounts accountrepo.Repository, pub broadcast.Publisher, log zerolog.Logger) *Service {
	return &Service{repo: repo, accounts: accounts, pub: pub, log: log, now: time.Now}
}

// Create stores n and announces it to the recipient.
func (s *Service) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.IsRead = false
	n.ReadAt = nil
	n.CreatedAt = s.now().UTC()
	if err := n.Validate(); err != nil {
		return nil, apperr.New(apperr.ErrValidation, err.Error())
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	s.publish(n.RecipientAccountID, broadcast.TypeNotificationCreated, n)
	s.announceUnread(ctx, n.RecipientAccountID)
	return n, nil
}

// List returns the caller's notifications, newest first.
func (s *Service) List(ctx context.Context, actor accountdomain.Actor, accountID string, limit, offset int) ([]*domain.Notification, error) {
	if err := owner(actor, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByRecipient(ctx, accountID, limit, offset)
}

// UnreadCount returns the caller's unread count.
func (s *Service) UnreadCount(ctx context.Context, actor accountdomain.Actor, accountID string) (int, error) {
	if err := owner(actor, accountID); err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, accountID)
}

// MarkRead marks one of the caller's notifications read.
func (s *Service) MarkRead(ctx context.Context, actor accountdomain.Actor, id string) error {
	n, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	changed, err := s.repo.MarkRead(ctx, n.ID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if changed {
		s.announceUnread(ctx, n.RecipientAccountID)
	}
	return nil
}

// MarkAllRead marks every notification of the caller read and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, actor accountdomain.Actor, accountID string) (int64, error) {
	if err := owner(actor, accountID); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, accountID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	if n > 0 {
		s.announceUnread(ctx, accountID)
	}
	return n, nil
}

// MarkAllReadForAdmins marks the admin-type notifications of every admin read and tells each admin
// who cleared them.
func (s *Service) MarkAllReadForAdmins(ctx context.Context, actor accountdomain.Actor) (int64, error) {
	if !actor.IsAdmin() {
		return 0, apperr.New(apperr.ErrForbidden, "admin role required")
	}
	admins, err := s.accounts.ListAdmins(ctx)
	if err != nil {
		return 0, fmt.Errorf("list admins: %w", err)
	}
	ids := make([]string, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	n, err := s.repo.MarkAllReadByType(ctx, ids, domain.TypeAdmin, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark admin notifications read: %w", err)
	}
	for _, id := range ids {
		if s.pub != nil {
			s.pub.Publish(broadcast.AccountTopic(id), broadcast.NewEvent(broadcast.TypeAllNotificationsRead, "", id,
				map[string]string{"adminId": id, "markedBy": actor.ID}))
		}
		s.announceUnread(ctx, id)
	}
	return n, nil
}

// Delete removes one of the caller's notifications.
func (s *Service) Delete(ctx context.Context, actor accountdomain.Actor, id string) error {
	n, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, n.ID); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if !n.IsRead {
		s.announceUnread(ctx, n.RecipientAccountID)
	}
	return nil
}

// DeleteAll empties the caller's inbox.
func (s *Service) DeleteAll(ctx context.Context, actor accountdomain.Actor, accountID string) (int64, error) {
	if err := owner(actor, accountID); err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteAllByRecipient(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	s.announceUnread(ctx, accountID)
	return n, nil
}

// BroadcastToAll sends one notification to every active account and returns how many were created.
// Delivery continues past individual failures.
func (s *Service) BroadcastToAll(ctx context.Context, actor accountdomain.Actor, title, message, typ string) (int, error) {
	if !actor.IsAdmin() {
		return 0, apperr.New(apperr.ErrForbidden, "admin role required")
	}
	if typ == "" {
		typ = domain.TypeBroadcast
	}
	sample := &domain.Notification{RecipientAccountID: actor.ID, Title: title, Message: message, Type: typ}
	if err := sample.Validate(); err != nil {
		return 0, apperr.New(apperr.ErrValidation, err.Error())
	}
	ids, err := s.accounts.ListActiveIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recipients: %w", err)
	}
	sent := 0
	for _, id := range ids {
		_, err := s.Create(ctx, &domain.Notification{
			RecipientAccountID: id, SenderAccountID: actor.ID, Title: title, Message: message, Type: typ,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("recipient_id", id).Msg("notification: broadcast delivery failed")
			continue
		}
		sent++
	}
	s.log.Info().Str("actor_id", actor.ID).Int("recipients", sent).Msg("notification: broadcast sent")
	return sent, nil
}

// NotifyAdmins creates an admin-type notification for every visible admin except the listed ids.
func (s *Service) NotifyAdmins(ctx context.Context, senderID, title, message string, except ...string) (int, error) {
	admins, err := s.accounts.ListAdmins(ctx)
	if err != nil {
		return 0, fmt.Errorf("list admins: %w", err)
	}
	skip := make(map[string]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}
	sent := 0
	for _, a := range admins {
		if skip[a.ID] {
			continue
		}
		_, err := s.Create(ctx, &domain.Notification{
			RecipientAccountID: a.ID, SenderAccountID: senderID, Title: title, Message: message, Type: domain.TypeAdmin,
		})
		if err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (s *Service) load(ctx context.Context, actor accountdomain.Actor, id string) (*domain.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load notification: %w", err)
	}
	if n == nil {
		return nil, apperr.New(apperr.ErrNotFound, "notification not found")
	}
	if n.RecipientAccountID != actor.ID {
		return nil, apperr.New(apperr.ErrForbidden, "not your notification")
	}
	return n, nil
}

func owner(actor accountdomain.Actor, accountID string) error {
	if actor.ID != accountID {
		return apperr.New(apperr.ErrForbidden, "not your inbox")
	}
	return nil
}

func (s *Service) publish(accountID, typ string, data any) {
	if s.pub != nil {
		s.pub.Publish(broadcast.AccountTopic(accountID), broadcast.NewEvent(typ, accountID, "", data))
	}
}

// announceUnread pushes the current unread count. Count failures are logged and skipped.
func (s *Service) announceUnread(ctx context.Context, accountID string) {
	if s.pub == nil {
		return
	}
	n, err := s.repo.CountUnread(ctx, accountID)
	if err != nil {
		s.log.Warn().Err(err).Str("account_id", accountID).Msg("notification: count unread")
		return
	}
	s.publish(accountID, broadcast.TypeUnreadCountChanged, map[string]any{"userId": accountID, "count": n})
}
