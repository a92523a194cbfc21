// Package handler exposes sign-in and sign-out over HTTP.
package handler

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/identity/service"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/server/interceptors"
)

// AuthService is implemented by service.AuthService.
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (*service.AuthResult, error)
	SignOut(ctx context.Context, actor accountdomain.Actor) error
}

// Handler serves /auth/signin and /auth/signout.
type Handler struct {
	auth AuthService
}

// NewHandler returns a Handler over auth.
func NewHandler(auth AuthService) *Handler {
	return &Handler{auth: auth}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r signInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// SignIn handles POST /auth/signin.
func (h *Handler) SignIn(c *fiber.Ctx) error {
	var req signInRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return apperr.New(apperr.ErrValidation, err.Error())
	}
	res, err := h.auth.SignIn(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// SignOut handles POST /auth/signout. Only the calling session ends.
func (h *Handler) SignOut(c *fiber.Ctx) error {
	if err := h.auth.SignOut(c.UserContext(), interceptors.GetActor(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
