// Package handler exposes account inboxes over HTTP.
package handler

import (
	"context"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/notification/domain"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/server/interceptors"
)

// Notifications is implemented by notification/service.Service.
type Notifications interface {
	List(ctx context.Context, actor accountdomain.Actor, accountID string, limit, offset int) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, actor accountdomain.Actor, accountID string) (int, error)
	MarkRead(ctx context.Context, actor accountdomain.Actor, id string) error
	MarkAllRead(ctx context.Context, actor accountdomain.Actor, accountID string) (int64, error)
	MarkAllReadForAdmins(ctx context.Context, actor accountdomain.Actor) (int64, error)
	Delete(ctx context.Context, actor accountdomain.Actor, id string) error
	DeleteAll(ctx context.Context, actor accountdomain.Actor, accountID string) (int64, error)
	BroadcastToAll(ctx context.Context, actor accountdomain.Actor, title, message, typ string) (int, error)
}

// Handler serves /notifications.
type Handler struct {
	notifications Notifications
}

// NewHandler returns a Handler.
func NewHandler(notifications Notifications) *Handler {
	return &Handler{notifications: notifications}
}

type broadcastRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func (r broadcastRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Message, validation.Required, validation.Length(1, 4000)),
	)
}

// List handles GET /notifications/:accountId.
func (h *Handler) List(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return err
	}
	list, err := h.notifications.List(c.UserContext(), interceptors.GetActor(c), c.Params("accountId"), limit, offset)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Notification{}
	}
	return c.JSON(fiber.Map{"notifications": list})
}

// UnreadCount handles GET /notifications/:accountId/unread-count.
func (h *Handler) UnreadCount(c *fiber.Ctx) error {
	n, err := h.notifications.UnreadCount(c.UserContext(), interceptors.GetActor(c), c.Params("accountId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": n})
}

// MarkRead handles PUT /notifications/:id/read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	if err := h.notifications.MarkRead(c.UserContext(), interceptors.GetActor(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllRead handles PUT /notifications/:accountId/read-all.
func (h *Handler) MarkAllRead(c *fiber.Ctx) error {
	n, err := h.notifications.MarkAllRead(c.UserContext(), interceptors.GetActor(c), c.Params("accountId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"updated": n})
}

// MarkAllReadForAdmins handles PUT /notifications/admins/read-all.
func (h *Handler) MarkAllReadForAdmins(c *fiber.Ctx) error {
	n, err := h.notifications.MarkAllReadForAdmins(c.UserContext(), interceptors.GetActor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"updated": n})
}

// Delete handles DELETE /notifications/:id.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.notifications.Delete(c.UserContext(), interceptors.GetActor(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteAll handles DELETE /notifications/:accountId/all.
func (h *Handler) DeleteAll(c *fiber.Ctx) error {
	n, err := h.notifications.DeleteAll(c.UserContext(), interceptors.GetActor(c), c.Params("accountId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": n})
}

// Broadcast handles POST /notifications/broadcast.
func (h *Handler) Broadcast(c *fiber.Ctx) error {
	var req broadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return apperr.New(apperr.ErrValidation, err.Error())
	}
	n, err := h.notifications.BroadcastToAll(c.UserContext(), interceptors.GetActor(c), req.Title, req.Message, req.Type)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"recipients": n})
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.ErrValidation, "%s must be an integer", key)
	}
	return n, nil
}
