package handler

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"account-lifecycle/internal/health"
)

func TestHealthz(t *testing.T) {
	tests := []struct {
		name    string
		checker Checker
		want    int
	}{
		{"no checker", nil, fiber.StatusOK},
		{"healthy", health.NewChecker(&mockPinger{}, &mockPolicyChecker{}), fiber.StatusOK},
		{"database down", health.NewChecker(&mockPinger{pingErr: errors.New("refused")}, nil), fiber.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/healthz", Healthz(tt.checker))
			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
