// Package handler exposes moderation ledger queries over HTTP.
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/moderation/domain"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/server/interceptors"
)

// Ledger is implemented by moderation/service.Service.
type Ledger interface {
	ListSoftbanned(ctx context.Context, viewer accountdomain.Actor, f domain.Filter) ([]*domain.Record, error)
	ListPurged(ctx context.Context, viewer accountdomain.Actor, f domain.Filter) ([]*domain.Record, error)
	History(ctx context.Context, viewer accountdomain.Actor, accountID string) ([]*domain.Record, error)
}

// Handler serves /moderation.
type Handler struct {
	ledger Ledger
}

// NewHandler returns a Handler.
func NewHandler(ledger Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type listResponse struct {
	Records []*domain.Record `json:"records"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListSoftbanned handles GET /moderation/softbanned.
func (h *Handler) ListSoftbanned(c *fiber.Ctx) error {
	return h.list(c, h.ledger.ListSoftbanned)
}

// ListPurged handles GET /moderation/purged.
func (h *Handler) ListPurged(c *fiber.Ctx) error {
	return h.list(c, h.ledger.ListPurged)
}

// History handles GET /moderation/accounts/:id/history.
func (h *Handler) History(c *fiber.Ctx) error {
	recs, err := h.ledger.History(c.UserContext(), interceptors.GetActor(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"records": nonNil(recs)})
}

func (h *Handler) list(c *fiber.Ctx, query func(context.Context, accountdomain.Actor, domain.Filter) ([]*domain.Record, error)) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	recs, err := query(c.UserContext(), interceptors.GetActor(c), f)
	if err != nil {
		return err
	}
	_ = f.Normalize()
	return c.JSON(listResponse{Records: nonNil(recs), Limit: f.Limit, Offset: f.Offset})
}

// parseFilter reads q, role, actor, from, to (RFC 3339 or YYYY-MM-DD), limit and offset.
func parseFilter(c *fiber.Ctx) (domain.Filter, error) {
	f := domain.Filter{Q: c.Query("q"), Role: c.Query("role"), Actor: c.Query("actor")}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		return f, apperr.New(apperr.ErrValidation, "from: "+err.Error())
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		return f, apperr.New(apperr.ErrValidation, "to: "+err.Error())
	}
	if f.Limit, err = parseInt(c.Query("limit")); err != nil {
		return f, apperr.New(apperr.ErrValidation, "limit must be an integer")
	}
	if f.Offset, err = parseInt(c.Query("offset")); err != nil {
		return f, apperr.New(apperr.ErrValidation, "offset must be an integer")
	}
	return f, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func nonNil(recs []*domain.Record) []*domain.Record {
	if recs == nil {
		return []*domain.Record{}
	}
	return recs
}
