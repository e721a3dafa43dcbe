// Package audiosvc is the HTTP client for the external audio-processing
// service: analysis, stem separation and rendering.
package audiosvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

// Config describes how to reach the service.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	Attempts          uint
	Delay             time.Duration
	RequestsPerSecond float64
}

// Client implements ports.Analyzer, ports.StemSeparator and ports.Renderer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   uint
	delay      time.Duration
}

var (
	_ ports.Analyzer      = (*Client)(nil)
	_ ports.StemSeparator = (*Client)(nil)
	_ ports.Renderer      = (*Client)(nil)
)

// NewClient builds a client from cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		attempts:   attempts,
		delay:      delay,
	}
}

type analyzeRequest struct {
	TrackRef string            `json:"trackRef"`
	Options  map[string]string `json:"options,omitempty"`
}

type separateRequest struct {
	TrackRef string             `json:"trackRef"`
	Quality  domain.StemQuality `json:"quality"`
}

type renderRequest struct {
	TrackRef string              `json:"trackRef"`
	Params   domain.RenderParams `json:"params"`
}

type renderResponse struct {
	Artifact domain.ArtifactRef `json:"artifact"`
}

// Analyze requests features for trackRef.
func (c *Client) Analyze(ctx context.Context, trackRef string, options map[string]string) (domain.AudioFeatures, error) {
	var out domain.AudioFeatures
	if err := c.post(ctx, "/analyze", analyzeRequest{TrackRef: trackRef, Options: options}, &out); err != nil {
		return domain.AudioFeatures{}, err
	}
	return out, nil
}

// Separate requests stems for trackRef.
func (c *Client) Separate(ctx context.Context, trackRef string, quality domain.StemQuality) (domain.SeparatedStems, error) {
	var out domain.SeparatedStems
	if err := c.post(ctx, "/separate", separateRequest{TrackRef: trackRef, Quality: quality}, &out); err != nil {
		return domain.SeparatedStems{}, err
	}
	out.Cached = false
	return out, nil
}

// Render requests one render and returns the produced artifact.
func (c *Client) Render(ctx context.Context, trackRef string, params domain.RenderParams) (domain.ArtifactRef, error) {
	var out renderResponse
	if err := c.post(ctx, "/render", renderRequest{TrackRef: trackRef, Params: params}, &out); err != nil {
		return "", err
	}
	if out.Artifact == "" {
		return "", &domain.ProviderError{Provider: "audio service", Err: errors.New("render returned no artifact")}
	}
	return out.Artifact, nil
}

// Health checks the service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("audiosvc: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("audiosvc: health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audiosvc: health: status %d", resp.StatusCode)
	}
	return nil
}

// statusError is a non-2xx answer. 429 and 5xx are transient.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
	}
	var de *decodeError
	return !errors.As(err, &de)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("audiosvc: marshal request: %w", err)
	}

	err = retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			return c.once(ctx, path, body, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("WARN audiosvc: %s attempt %d failed: %v", path, n+1, err)
		}),
	)
	if err != nil {
		return &domain.ProviderError{Provider: "audio service", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return nil
}

func (c *Client) once(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}
