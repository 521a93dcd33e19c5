// Package fundx is the REST client for the fundx configuration and
// provisioning services.
package fundx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/crypto"
	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// HeaderWalletSignature carries the trader's personal_sign signature over the
// transaction hash on provisioning requests.
const HeaderWalletSignature = "X-Fundx-Wallet-Signature"

// MessageSigner signs arbitrary messages with the trader's wallet key.
type MessageSigner interface {
	SignMessage(msg []byte) (string, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	ConfigURL       string
	ProvisioningURL string
	Timeout         time.Duration
	// HMAC is optional; when set every request carries signing headers.
	HMAC *crypto.HMACAuth
	// Wallet is optional; when set provisioning requests carry a wallet
	// signature over the transaction hash.
	Wallet     MessageSigner
	HTTPClient *http.Client
}

// Client talks to the configuration and provisioning services.
type Client struct {
	configURL       string
	provisioningURL string
	httpClient      *http.Client
	hmacAuth        *crypto.HMACAuth
	wallet          MessageSigner
}

// New creates a Client. Base URLs are used without a trailing slash.
func New(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		configURL:       strings.TrimRight(cfg.ConfigURL, "/"),
		provisioningURL: strings.TrimRight(cfg.ProvisioningURL, "/"),
		httpClient:      hc,
		hmacAuth:        cfg.HMAC,
		wallet:          cfg.Wallet,
	}
}

// envelope is the response wrapper shared by all fundx endpoints.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (e envelope) errText() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return "unspecified error"
}

// do performs a request and returns the raw response body and status. Non-2xx
// statuses are returned as errors wrapping the matching domain sentinel,
// together with the body so callers can still decode an error envelope.
func (c *Client) do(ctx context.Context, method, baseURL, path string, body any, extra map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.hmacAuth != nil {
		for k, v := range c.hmacAuth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, checkHTTPStatus(resp.StatusCode, respBody)
}

// checkHTTPStatus maps non-2xx HTTP status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrBadRequest, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
