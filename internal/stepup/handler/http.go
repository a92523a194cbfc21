// Package handler exposes step-up verification, password reset, the management gate and the
// lockout list over HTTP.
package handler

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/lockout"
	otcdomain "account-lifecycle/internal/otc/domain"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/server/interceptors"
	"account-lifecycle/internal/stepup"
)

// StepUp is implemented by stepup.Service.
type StepUp interface {
	VerifyPassword(ctx context.Context, actor accountdomain.Actor, password string) error
	SendOTC(ctx context.Context, actor accountdomain.Actor, req stepup.SendRequest) (*stepup.SendResult, error)
	VerifyOTC(ctx context.Context, actor accountdomain.Actor, email, code string) (*otcdomain.Grant, error)
	SendResetOTC(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	Unlock(ctx context.Context, actor accountdomain.Actor, password string) (*stepup.GateStatus, error)
	Status(ctx context.Context, actor accountdomain.Actor) (*stepup.GateStatus, error)
}

// Lockouts is implemented by lockout.Tracker.
type Lockouts interface {
	List(ctx context.Context) ([]lockout.Entry, error)
}

// Handler serves the step-up routes under /auth.
type Handler struct {
	stepUp   StepUp
	lockouts Lockouts
}

// NewHandler returns a Handler.
func NewHandler(stepUp StepUp, lockouts Lockouts) *Handler {
	return &Handler{stepUp: stepUp, lockouts: lockouts}
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (r passwordRequest) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.Password, validation.Required))
}

type sendOTCRequest struct {
	Email    string `json:"email"`
	Purpose  string `json:"purpose"`
	Password string `json:"password,omitempty"`
}

func (r sendOTCRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Purpose, validation.Required),
	)
}

type verifyOTCRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r verifyOTCRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

type resetSendRequest struct {
	Email string `json:"email"`
}

func (r resetSendRequest) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.Email, validation.Required, is.Email))
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

func (r resetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

// grantResponse is returned once; the token is never stored in plaintext.
type grantResponse struct {
	Grant     string    `json:"grant"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type validatable interface {
	Validate() error
}

func parse(c *fiber.Ctx, req validatable) error {
	if err := c.BodyParser(req); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return apperr.New(apperr.ErrValidation, err.Error())
	}
	return nil
}

// VerifyPassword handles POST /auth/verify-password.
func (h *Handler) VerifyPassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.stepUp.VerifyPassword(c.UserContext(), interceptors.GetActor(c), req.Password); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"verified": true})
}

// SendOTC handles POST /auth/send-otc.
func (h *Handler) SendOTC(c *fiber.Ctx) error {
	var req sendOTCRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	purpose, err := otcdomain.ParsePurpose(req.Purpose)
	if err != nil {
		return apperr.New(apperr.ErrValidation, err.Error())
	}
	res, err := h.stepUp.SendOTC(c.UserContext(), interceptors.GetActor(c), stepup.SendRequest{
		Email: req.Email, Purpose: purpose, Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

// VerifyOTC handles POST /auth/verify-otc.
func (h *Handler) VerifyOTC(c *fiber.Ctx) error {
	var req verifyOTCRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	g, err := h.stepUp.VerifyOTC(c.UserContext(), interceptors.GetActor(c), req.Email, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(grantResponse{Grant: g.Token, Purpose: string(g.Purpose), ExpiresAt: g.ExpiresAt})
}

// SendResetOTC handles POST /auth/password-reset/send. The answer is the same whether or not the
// email belongs to an account.
func (h *Handler) SendResetOTC(c *fiber.Ctx) error {
	var req resetSendRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.stepUp.SendResetOTC(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"sent": true})
}

// ResetPassword handles POST /auth/password-reset.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req resetRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.stepUp.ResetPassword(c.UserContext(), req.Email, req.Code, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListLockouts handles GET /auth/lockouts.
func (h *Handler) ListLockouts(c *fiber.Ctx) error {
	entries, err := h.lockouts.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"lockouts": entries})
}

// UnlockManagement handles POST /auth/management/unlock.
func (h *Handler) UnlockManagement(c *fiber.Ctx) error {
	var req passwordRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	st, err := h.stepUp.Unlock(c.UserContext(), interceptors.GetActor(c), req.Password)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

// ManagementStatus handles GET /auth/management/status.
func (h *Handler) ManagementStatus(c *fiber.Ctx) error {
	st, err := h.stepUp.Status(c.UserContext(), interceptors.GetActor(c))
	if err != nil {
		return err
	}
	return c.JSON(st)
}
