// Package handler exposes account moderation, default-admin transfer and self-service profile
// routes over HTTP.
package handler

import (
	"context"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"

	"account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/account/service"
	moddomain "account-lifecycle/internal/moderation/domain"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/server/interceptors"
)

// Accounts is implemented by service.Service.
type Accounts interface {
	Transition(ctx context.Context, actor domain.Actor, cmd service.Command) (*service.Result, error)
	TransferDefaultAdmin(ctx context.Context, actor domain.Actor, currentID, candidateID, grant string) error
	UpdateProfile(ctx context.Context, actor domain.Actor, u service.ProfileUpdate) (*domain.Account, error)
	DeleteOwnAccount(ctx context.Context, actor domain.Actor, grant string) error
	RequestAdmin(ctx context.Context, actor domain.Actor) (*service.Result, error)
}

// Handler serves /accounts.
type Handler struct {
	accounts Accounts
}

// NewHandler returns a Handler.
func NewHandler(accounts Accounts) *Handler {
	return &Handler{accounts: accounts}
}

type transitionRequest struct {
	Reason *moddomain.Reason `json:"reason,omitempty"`
	Policy *moddomain.Policy `json:"policy,omitempty"`
}

type transitionResponse struct {
	Account domain.View       `json:"account"`
	Record  *moddomain.Record `json:"record,omitempty"`
	// Changed is false when the command was a no-op (restore of an account that is not soft-banned).
	Changed bool `json:"changed"`
}

type transferRequest struct {
	CurrentAdminID   string `json:"currentAdminId"`
	CandidateAdminID string `json:"candidateAdminId"`
	Grant            string `json:"grant"`
}

func (r transferRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentAdminID, validation.Required),
		validation.Field(&r.CandidateAdminID, validation.Required),
		validation.Field(&r.Grant, validation.Required),
	)
}

type profileRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Grant string  `json:"grant,omitempty"`
}

type deleteSelfRequest struct {
	Grant string `json:"grant"`
}

// Transition returns the handler for one moderation action on /accounts/:id. The optional
// If-Match header carries the account version the caller last saw.
func (h *Handler) Transition(action moddomain.Action) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req transitionRequest
		if err := parseOptional(c, &req); err != nil {
			return err
		}
		version, err := ifMatch(c)
		if err != nil {
			return err
		}
		cmd := service.Command{Action: action, TargetID: c.Params("id"), Policy: req.Policy, IfVersion: version}
		if req.Reason != nil {
			cmd.Reason = *req.Reason
		}
		res, err := h.accounts.Transition(c.UserContext(), interceptors.GetActor(c), cmd)
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderETag, strconv.FormatInt(res.Account.Version, 10))
		return c.JSON(transitionResponse{Account: res.Account.View(), Record: res.Record, Changed: res.Record != nil})
	}
}

// TransferDefaultAdmin handles POST /accounts/transfer-default-admin.
func (h *Handler) TransferDefaultAdmin(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return apperr.New(apperr.ErrValidation, err.Error())
	}
	err := h.accounts.TransferDefaultAdmin(c.UserContext(), interceptors.GetActor(c), req.CurrentAdminID, req.CandidateAdminID, req.Grant)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transferred": true, "defaultAdminId": req.CandidateAdminID})
}

// UpdateProfile handles PATCH /accounts/me.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid request body")
	}
	a, err := h.accounts.UpdateProfile(c.UserContext(), interceptors.GetActor(c), service.ProfileUpdate{
		Name: req.Name, Email: req.Email, Phone: req.Phone, Grant: req.Grant,
	})
	if err != nil {
		return err
	}
	return c.JSON(a.View())
}

// DeleteSelf handles DELETE /accounts/me.
func (h *Handler) DeleteSelf(c *fiber.Ctx) error {
	var req deleteSelfRequest
	if err := parseOptional(c, &req); err != nil {
		return err
	}
	if err := h.accounts.DeleteOwnAccount(c.UserContext(), interceptors.GetActor(c), req.Grant); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RequestAdmin handles POST /accounts/me/admin-request.
func (h *Handler) RequestAdmin(c *fiber.Ctx) error {
	res, err := h.accounts.RequestAdmin(c.UserContext(), interceptors.GetActor(c))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderETag, strconv.FormatInt(res.Account.Version, 10))
	return c.Status(fiber.StatusAccepted).JSON(transitionResponse{Account: res.Account.View(), Record: res.Record, Changed: true})
}

// parseOptional decodes the body when one is present; bodiless PATCH and DELETE requests are valid.
func parseOptional(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid request body")
	}
	return nil
}

// ifMatch parses If-Match as an account version. Weak and quoted forms are accepted.
func ifMatch(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Get(fiber.HeaderIfMatch))
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.New(apperr.ErrValidation, "If-Match must be an account version")
	}
	return v, nil
}
