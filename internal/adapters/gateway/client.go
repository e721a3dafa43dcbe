// Package gateway is the client for the remote orchestration service, the
// highest-priority prompt provider. It authenticates with an OAuth2
// client-credentials token and retries transient failures.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

// ResolvePath is the resolution endpoint served by the gateway.
const ResolvePath = "/v1/resolve"

// TokenPath is the token endpoint served by the gateway.
const TokenPath = "/oauth/token"

const maxResponseBytes = 1 << 20

// Config describes how to reach the gateway.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   int
	Backoff      time.Duration
}

// Client implements ports.PromptProvider against the gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retryPolicy
}

// compile-time interface assertion
var _ ports.PromptProvider = (*Client)(nil)

// NewClient constructs a client. Without a client id requests go out unauthenticated.
// ctx governs token fetches for the lifetime of the client.
func NewClient(ctx context.Context, cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := &http.Client{}
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     baseURL + TokenPath,
			Scopes:       []string{"resolve"},
		}
		httpClient = cc.Client(ctx)
	}
	httpClient.Timeout = cfg.Timeout
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		retry:      newRetryPolicy(cfg.MaxRetries, cfg.Backoff),
	}
}

// Name identifies the provider in results and logs.
func (c *Client) Name() string { return "gateway" }

// ResolvePrompt forwards the request and returns the gateway's JSON result.
func (c *Client) ResolvePrompt(ctx context.Context, in domain.PromptRequest) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("gateway client: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ResolvePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.retry.do(c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway client: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway client: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
