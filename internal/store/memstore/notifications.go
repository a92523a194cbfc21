package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"account-lifecycle/internal/notification/domain"
)

type notificationRepo struct {
	s     *Store
	mu    sync.Mutex
	items map[string]*domain.Notification
}

func newNotificationRepo(s *Store) *notificationRepo {
	return &notificationRepo{s: s, items: map[string]*domain.Notification{}}
}

func (r *notificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if err := r.s.inject("notifications.Create"); err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[n.ID] = n.Clone()
	return nil
}

func (r *notificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id].Clone(), nil
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Notification
	for _, n := range r.items {
		if n.RecipientAccountID == recipientID {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *notificationRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := 0
	for _, n := range r.items {
		if n.RecipientAccountID == recipientID && !n.IsRead {
			c++
		}
	}
	return c, nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.IsRead {
		return false, nil
	}
	markRead(n, at)
	return true, nil
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c int64
	for _, n := range r.items {
		if n.RecipientAccountID == recipientID && !n.IsRead {
			markRead(n, at)
			c++
		}
	}
	return c, nil
}

func (r *notificationRepo) MarkAllReadByType(ctx context.Context, recipientIDs []string, typ string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c int64
	for _, n := range r.items {
		if n.Type == typ && !n.IsRead && slices.Contains(recipientIDs, n.RecipientAccountID) {
			markRead(n, at)
			c++
		}
	}
	return c, nil
}

func (r *notificationRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *notificationRepo) DeleteAllByRecipient(ctx context.Context, recipientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c int64
	for id, n := range r.items {
		if n.RecipientAccountID == recipientID {
			delete(r.items, id)
			c++
		}
	}
	return c, nil
}

func markRead(n *domain.Notification, at time.Time) {
	n.IsRead = true
	t := at
	n.ReadAt = &t
}
