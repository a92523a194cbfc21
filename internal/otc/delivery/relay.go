package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultTimeout = 15 * time.Second

// RelayClient posts codes to an HTTP mail relay as JSON.
type RelayClient struct {
	URL    string
	Token  string
	Client *fasthttp.Client
}

// NewRelayClient returns a client that posts to url, authenticating with a bearer token when set.
func NewRelayClient(url, token string) *RelayClient {
	return &RelayClient{
		URL:   url,
		Token: token,
		Client: &fasthttp.Client{
			ReadTimeout:  defaultTimeout,
			WriteTimeout: defaultTimeout,
		},
	}
}

type relayPayload struct {
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Purpose   string    `json:"purpose"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Send delivers m through the relay. A non-2xx response is an error; the body is included
// for diagnostics but the code is not.
func (c *RelayClient) Send(ctx context.Context, m Message) error {
	if c.URL == "" {
		return fmt.Errorf("otc relay: URL not configured")
	}
	raw, err := json.Marshal(relayPayload{
		To: m.Email, Subject: Subject(m.Purpose), Purpose: string(m.Purpose), Code: m.Code, ExpiresAt: m.ExpiresAt,
	})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.SetBodyRaw(raw)

	timeout := defaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if err := c.Client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("otc relay: %w", err)
	}
	if sc := resp.StatusCode(); sc < 200 || sc >= 300 {
		return fmt.Errorf("otc relay: request failed status=%d body=%s", sc, string(resp.Body()))
	}
	return nil
}
