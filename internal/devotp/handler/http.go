// Package handler serves GET /dev/otc. It is mounted only when dev code mode is on outside production.
package handler

import (
	"github.com/gofiber/fiber/v2"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/devotp"
	"account-lifecycle/internal/platform/apperr"
)

const devOTCNote = "DEV MODE ONLY"

// Handler reads codes from the dev store.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a Handler over store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

// GetOTC returns the latest code for email and purpose, or NotFound if missing or expired.
func (h *Handler) GetOTC(c *fiber.Ctx) error {
	email := accountdomain.NormalizeEmail(c.Query("email"))
	purpose := c.Query("purpose")
	if email == "" || purpose == "" {
		return apperr.New(apperr.ErrValidation, "email and purpose are required")
	}
	code, ok := h.store.Get(c.UserContext(), email, purpose)
	if !ok {
		return apperr.New(apperr.ErrNotFound, "code not found or expired")
	}
	return c.JSON(fiber.Map{"code": code, "note": devOTCNote})
}
