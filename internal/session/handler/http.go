// Package handler serves the live event stream and the session poll endpoint.
package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/broadcast"
	"account-lifecycle/internal/server/interceptors"
	sessionservice "account-lifecycle/internal/session/service"
	"account-lifecycle/internal/stepup"
)

const keepAliveInterval = 15 * time.Second

// Subscriber is implemented by broadcast.Hub.
type Subscriber interface {
	Subscribe(ctx context.Context, s broadcast.Subscriber) *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
}

// Validator is implemented by session/service.Validator.
type Validator interface {
	Validate(ctx context.Context, sessionID string) (*sessionservice.Principal, error)
}

// GateStatus is implemented by the step-up service. It may be nil.
type GateStatus interface {
	Status(ctx context.Context, actor accountdomain.Actor) (*stepup.GateStatus, error)
}

// Handler serves GET /events and GET /sessions/validate.
type Handler struct {
	hub          Subscriber
	validator    Validator
	gate         GateStatus
	log          zerolog.Logger
	pollInterval time.Duration
}

// NewHandler returns a Handler. pollInterval is how often an open stream re-validates its session.
func NewHandler(hub Subscriber, validator Validator, gate GateStatus, log zerolog.Logger, pollInterval time.Duration) *Handler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Handler{hub: hub, validator: validator, gate: gate, log: log, pollInterval: pollInterval}
}

// Validate handles GET /sessions/validate. Authenticate already ran the same check the push path
// uses, so reaching the handler means the session is valid.
func (h *Handler) Validate(c *fiber.Ctx) error {
	p := interceptors.GetPrincipal(c)
	return c.JSON(fiber.Map{"valid": true, "account": p.Account.View(), "sessionId": p.Session.ID})
}

// Events handles GET /events as a Server-Sent Events stream.
func (h *Handler) Events(c *fiber.Ctx) error {
	actor := interceptors.GetActor(c)
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(context.Background())
	sub := h.hub.Subscribe(ctx, broadcast.Subscriber{AccountID: actor.ID, SessionID: actor.SessionID, Admin: actor.IsAdmin()})
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer h.hub.Unsubscribe(sub)
		h.stream(ctx, w, actor, sub)
	})
	return nil
}

// stream writes events until the subscription ends, the client goes away, or the session stops
// validating. A failed re-validation ends the stream with a synthetic force_signout.
func (h *Handler) stream(ctx context.Context, w *bufio.Writer, actor accountdomain.Actor, sub *broadcast.Subscription) {
	log := h.log.With().Str("account_id", actor.ID).Str("session_id", actor.SessionID).Logger()
	if err := writeEvent(w, "ready", map[string]string{"userId": actor.ID}); err != nil {
		return
	}
	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	gateWarned := false

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				log.Debug().Msg("events: subscription closed")
				return
			}
			if err := writeEvent(w, ev.Type, ev); err != nil {
				return
			}
		case <-poll.C:
			if _, err := h.validator.Validate(ctx, actor.SessionID); err != nil {
				ev := broadcast.NewEvent(broadcast.TypeForceSignout, actor.ID, "", broadcast.ForceSignout{
					UserID: actor.ID, Action: "session_invalid", Message: "Your session is no longer valid. Please sign in again.",
				})
				_ = writeEvent(w, ev.Type, ev)
				log.Info().Err(err).Msg("events: session failed re-validation")
				return
			}
			gateWarned = h.checkGate(ctx, w, actor, gateWarned)
		case <-keepAlive.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

// checkGate pushes management_gate_warning once per unlock period when the gate is about to re-lock.
func (h *Handler) checkGate(ctx context.Context, w *bufio.Writer, actor accountdomain.Actor, warned bool) bool {
	if h.gate == nil || !actor.IsAdmin() {
		return warned
	}
	st, err := h.gate.Status(ctx, actor)
	if err != nil || st.Locked {
		return false
	}
	if !st.Warning {
		return false
	}
	if warned {
		return true
	}
	ev := broadcast.NewEvent(broadcast.TypeManagementGateWarning, "", actor.ID, st)
	_ = writeEvent(w, ev.Type, ev)
	return true
}

func writeEvent(w *bufio.Writer, name string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	return w.Flush()
}
