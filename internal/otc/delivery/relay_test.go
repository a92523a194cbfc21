package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-lifecycle/internal/otc/domain"
)

func TestRelayClient_Send(t *testing.T) {
	var got relayPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer relay-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	exp := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	c := NewRelayClient(server.URL, "relay-token")
	err := c.Send(context.Background(), Message{Email: "u@example.com", Purpose: domain.PurposeRightsTransfer, Code: "123456", ExpiresAt: exp})
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", got.To)
	assert.Equal(t, "123456", got.Code)
	assert.Equal(t, "Confirm default administrator transfer", got.Subject)
	assert.True(t, got.ExpiresAt.Equal(exp))
}

func TestRelayClient_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("mailer down"))
	}))
	defer server.Close()

	err := NewRelayClient(server.URL, "").Send(context.Background(), Message{Email: "u@example.com", Code: "999999"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
	assert.Contains(t, err.Error(), "mailer down")
	assert.False(t, strings.Contains(err.Error(), "999999"), "error must not leak the code")
}

func TestRelayClient_NotConfigured(t *testing.T) {
	err := NewRelayClient("", "").Send(context.Background(), Message{})
	require.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Reset your password", Subject(domain.PurposePasswordReset))
	assert.Equal(t, "Your verification code", Subject("other"))
}
