package interceptors

import (
	"github.com/gofiber/fiber/v2"

	"account-lifecycle/internal/audit"
)

// Audit records one entry per authenticated mutating request after the handler ran. Safe methods
// and unauthenticated requests are skipped; sign-in writes its own entries. LogEvent is
// best-effort, so failures never change the response.
func Audit(logger audit.AuditLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if logger == nil {
			return err
		}
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return err
		}
		p := GetPrincipal(c)
		if p == nil {
			return err
		}
		ar := audit.ParseRoute(c.Method(), c.Route().Path)
		meta := `{"status":"ok"}`
		if err != nil {
			meta = `{"status":"error"}`
		}
		logger.LogEvent(c.UserContext(), p.Actor.ID, p.Actor.SessionID, ar.Action, ar.Resource, meta)
		return err
	}
}
