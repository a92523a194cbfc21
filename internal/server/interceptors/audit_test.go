package interceptors

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/audit"
	"account-lifecycle/internal/platform/apperr"
)

type auditCall struct {
	accountID, sessionID, action, resource, metadata, ip string
}

type captureAudit struct {
	calls []auditCall
}

func (c *captureAudit) LogEvent(ctx context.Context, accountID, sessionID, action, resource, metadata string) {
	c.calls = append(c.calls, auditCall{accountID, sessionID, action, resource, metadata, audit.IPFromContext(ctx)})
}

func newAuditApp(logger audit.AuditLogger, authenticated bool) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zerolog.Nop())})
	app.Use(RequestIP())
	if authenticated {
		app.Use(func(c *fiber.Ctx) error {
			SetPrincipal(c, principal("a1", "s1", accountdomain.RoleAdmin))
			return c.Next()
		})
	}
	app.Use(Audit(logger))
	app.Patch("/accounts/:id/suspend", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Delete("/accounts/:id", func(c *fiber.Ctx) error { return apperr.New(apperr.ErrNotFound, "gone") })
	app.Get("/accounts/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func TestAudit_RecordsMutatingRequests(t *testing.T) {
	logger := &captureAudit{}
	app := newAuditApp(logger, true)

	req := httptest.NewRequest(fiber.MethodPatch, "/accounts/u1/suspend", nil)
	req.Header.Set(fiber.HeaderXForwardedFor, "198.51.100.9, 10.0.0.1")
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if _, err := app.Test(httptest.NewRequest(fiber.MethodDelete, "/accounts/u1", nil)); err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if _, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/accounts/u1", nil)); err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	if len(logger.calls) != 2 {
		t.Fatalf("audit calls = %d, want 2 (GET is skipped)", len(logger.calls))
	}
	first := logger.calls[0]
	if first.action != "suspend" || first.resource != "account" || first.accountID != "a1" || first.sessionID != "s1" {
		t.Errorf("first entry = %+v", first)
	}
	if first.ip != "198.51.100.9" {
		t.Errorf("ip = %q, want first X-Forwarded-For hop", first.ip)
	}
	second := logger.calls[1]
	if second.action != "softban" || second.metadata != `{"status":"error"}` {
		t.Errorf("second entry = %+v", second)
	}
}

func TestAudit_SkipsUnauthenticated(t *testing.T) {
	logger := &captureAudit{}
	app := newAuditApp(logger, false)
	if _, err := app.Test(httptest.NewRequest(fiber.MethodPatch, "/accounts/u1/suspend", nil)); err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if len(logger.calls) != 0 {
		t.Errorf("audit calls = %d, want 0", len(logger.calls))
	}
}

func TestAudit_NilLogger(t *testing.T) {
	app := newAuditApp(nil, true)
	resp, err := app.Test(httptest.NewRequest(fiber.MethodPatch, "/accounts/u1/suspend", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
