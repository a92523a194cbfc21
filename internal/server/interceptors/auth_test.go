package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/security"
	sessiondomain "account-lifecycle/internal/session/domain"
	sessionservice "account-lifecycle/internal/session/service"
)

type fakeSessions struct {
	principals map[string]*sessionservice.Principal
}

func (f *fakeSessions) Validate(ctx context.Context, sessionID string) (*sessionservice.Principal, error) {
	if p, ok := f.principals[sessionID]; ok {
		return p, nil
	}
	return nil, apperr.New(apperr.ErrUnauthorized, "session revoked or expired")
}

func principal(id, sessionID string, role accountdomain.Role) *sessionservice.Principal {
	return &sessionservice.Principal{
		Actor:   accountdomain.Actor{ID: id, SessionID: sessionID, Role: role},
		Account: &accountdomain.Account{ID: id, Role: role},
		Session: &sessiondomain.Session{ID: sessionID, AccountID: id},
	}
}

func newAuthApp(t *testing.T) (*fiber.App, *security.TokenProvider) {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	sessions := &fakeSessions{principals: map[string]*sessionservice.Principal{
		"s-user":  principal("u1", "s-user", accountdomain.RoleUser),
		"s-admin": principal("a1", "s-admin", accountdomain.RoleAdmin),
	}}
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zerolog.Nop())})
	app.Use(Authenticate(tokens, sessions))
	app.Get("/me", func(c *fiber.Ctx) error { return c.SendString(GetActor(c).ID) })
	app.Get("/admin", RequireAdmin(), func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app, tokens
}

func issue(t *testing.T, tokens *security.TokenProvider, sessionID, accountID string) string {
	t.Helper()
	tok, _, err := tokens.IssueAccess(sessionID, accountID, time.Time{})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	return tok
}

func TestAuthenticate(t *testing.T) {
	app, tokens := newAuthApp(t)
	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/me", "", fiber.StatusUnauthorized},
		{"malformed header", "/me", "Token abc", fiber.StatusUnauthorized},
		{"garbage token", "/me", "Bearer abc", fiber.StatusUnauthorized},
		{"valid token", "/me", "Bearer " + issue(t, tokens, "s-user", "u1"), fiber.StatusOK},
		{"lowercase scheme", "/me", "bearer " + issue(t, tokens, "s-user", "u1"), fiber.StatusOK},
		{"revoked session", "/me", "Bearer " + issue(t, tokens, "s-gone", "u1"), fiber.StatusUnauthorized},
		{"subject mismatch", "/me", "Bearer " + issue(t, tokens, "s-user", "someone-else"), fiber.StatusUnauthorized},
		{"user on admin route", "/admin", "Bearer " + issue(t, tokens, "s-user", "u1"), fiber.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + issue(t, tokens, "s-admin", "a1"), fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAuthenticate_QueryTokenForEventSource(t *testing.T) {
	app, tokens := newAuthApp(t)
	req := httptest.NewRequest(fiber.MethodGet, "/me?access_token="+issue(t, tokens, "s-user", "u1"), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

type fakeGate struct {
	err     error
	touched []string
}

func (g *fakeGate) Touch(ctx context.Context, actor accountdomain.Actor) error {
	g.touched = append(g.touched, actor.SessionID)
	return g.err
}

func TestManagementGate(t *testing.T) {
	gate := &fakeGate{}
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zerolog.Nop())})
	app.Use(func(c *fiber.Ctx) error {
		SetPrincipal(c, principal("a1", "s-admin", accountdomain.RoleAdmin))
		return c.Next()
	})
	app.Get("/managed", ManagementGate(gate), func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/managed", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK || len(gate.touched) != 1 || gate.touched[0] != "s-admin" {
		t.Fatalf("status = %d, touched = %v", resp.StatusCode, gate.touched)
	}

	gate.err = apperr.New(apperr.ErrForbidden, "management gate locked")
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/managed", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("locked gate status = %d, want 403", resp.StatusCode)
	}
}

func TestErrorHandler_Body(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(zerolog.Nop())})
	app.Get("/signed-out", func(c *fiber.Ctx) error {
		return apperr.SignedOut(apperr.ErrInvalidOTC, "too many attempts")
	})
	app.Get("/rate", func(c *fiber.Ctx) error {
		return apperr.RateLimited("wait before resending", 2500*time.Millisecond)
	})
	app.Get("/wrapped", func(c *fiber.Ctx) error {
		return errors.Join(errors.New("ctx"), apperr.ErrGone)
	})
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("db exploded") })

	tests := []struct {
		path      string
		status    int
		kind      string
		signedOut bool
		retry     int
	}{
		{"/signed-out", fiber.StatusUnauthorized, "InvalidOTC", true, 0},
		{"/rate", fiber.StatusTooManyRequests, "RateLimited", false, 3},
		{"/wrapped", fiber.StatusGone, "Gone", false, 0},
		{"/boom", fiber.StatusInternalServerError, "Internal", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body ErrorBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.kind || body.SignedOut != tt.signedOut {
				t.Errorf("body = %+v", body)
			}
			if tt.retry > 0 && (body.RetryAfterSeconds == nil || *body.RetryAfterSeconds != tt.retry) {
				t.Errorf("retryAfterSeconds = %v, want %d", body.RetryAfterSeconds, tt.retry)
			}
			if tt.path == "/boom" && body.Message != "internal error" {
				t.Errorf("internal message leaked: %q", body.Message)
			}
		})
	}
}

func TestStatusFor_TaxonomyTable(t *testing.T) {
	for kind, want := range kindStatus {
		if got := StatusFor(apperr.New(kind, "x")); got != want {
			t.Errorf("%v -> %d, want %d", kind, got, want)
		}
	}
	if got := StatusFor(fiber.ErrNotFound); got != fiber.StatusNotFound {
		t.Errorf("fiber error -> %d", got)
	}
}
