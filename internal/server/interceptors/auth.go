package interceptors

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/platform/apperr"
	sessionservice "account-lifecycle/internal/session/service"
)

const bearerPrefix = "bearer "

// TokenValidator is implemented by security.TokenProvider.
type TokenValidator interface {
	ValidateAccess(token string) (sessionID, accountID string, err error)
}

// SessionValidator is implemented by session/service.Validator.
type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) (*sessionservice.Principal, error)
}

// GateToucher is implemented by the step-up service's management gate.
type GateToucher interface {
	Touch(ctx context.Context, actor accountdomain.Actor) error
}

// Authenticate validates the Bearer access token, then re-validates the session and account it
// names on every request. A revoked session, a suspended or soft-banned account, or a token
// whose subject no longer matches all yield ErrUnauthorized.
// The access_token query parameter is accepted for EventSource clients, which cannot set headers.
func Authenticate(tokens TokenValidator, sessions SessionValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c)
		if token == "" {
			return apperr.New(apperr.ErrUnauthorized, "missing or invalid authorization")
		}
		sessionID, accountID, err := tokens.ValidateAccess(token)
		if err != nil {
			return apperr.New(apperr.ErrUnauthorized, "missing or invalid authorization")
		}
		p, err := sessions.Validate(c.UserContext(), sessionID)
		if err != nil {
			return err
		}
		if p.Actor.ID != accountID {
			return apperr.New(apperr.ErrUnauthorized, "token does not match session")
		}
		SetPrincipal(c, p)
		return c.Next()
	}
}

// RequireAdmin rejects callers without an admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !GetActor(c).IsAdmin() {
			return apperr.New(apperr.ErrForbidden, "admin role required")
		}
		return c.Next()
	}
}

// ManagementGate requires an unlocked management gate and extends it.
func ManagementGate(gate GateToucher) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := gate.Touch(c.UserContext(), GetActor(c)); err != nil {
			return err
		}
		return c.Next()
	}
}

// extractBearer returns the Bearer token from the Authorization header or the access_token query
// parameter, or "" if missing or malformed.
func extractBearer(c *fiber.Ctx) string {
	v := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if v == "" {
		return strings.TrimSpace(c.Query("access_token"))
	}
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
