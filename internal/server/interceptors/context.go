package interceptors

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/audit"
	sessionservice "account-lifecycle/internal/session/service"
)

const principalKey = "principal"

// SetPrincipal stores the validated principal on the request.
func SetPrincipal(c *fiber.Ctx, p *sessionservice.Principal) {
	c.Locals(principalKey, p)
}

// GetPrincipal returns the principal set by Authenticate, or nil on public routes.
func GetPrincipal(c *fiber.Ctx) *sessionservice.Principal {
	p, _ := c.Locals(principalKey).(*sessionservice.Principal)
	return p
}

// GetActor returns the acting account, or the zero Actor when unauthenticated.
func GetActor(c *fiber.Ctx) accountdomain.Actor {
	if p := GetPrincipal(c); p != nil {
		return p.Actor
	}
	return accountdomain.Actor{}
}

// ClientIP returns the client IP from X-Forwarded-For, X-Real-IP or the peer address, or "unknown".
func ClientIP(c *fiber.Ctx) string {
	if v := strings.TrimSpace(c.Get(fiber.HeaderXForwardedFor)); v != "" {
		if i := strings.Index(v, ","); i > 0 {
			v = strings.TrimSpace(v[:i])
		}
		return v
	}
	if v := strings.TrimSpace(c.Get("X-Real-IP")); v != "" {
		return v
	}
	if ip := c.IP(); ip != "" {
		return ip
	}
	return "unknown"
}

// RequestIP stores the client IP on the request's user context, where audit entries and new
// sessions pick it up.
func RequestIP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.SetUserContext(audit.WithIP(c.UserContext(), ClientIP(c)))
		return c.Next()
	}
}
