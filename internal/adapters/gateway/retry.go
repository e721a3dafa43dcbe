package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
	maxBackoff        = 10 * time.Second
)

// retryPolicy retries transport errors, 429 and gateway-side 502/503/504 with
// exponential backoff. A Retry-After header overrides the computed delay.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

func newRetryPolicy(attempts int, backoff time.Duration) retryPolicy {
	if attempts <= 0 {
		attempts = defaultMaxRetries
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return retryPolicy{attempts: attempts, backoff: backoff}
}

func (p retryPolicy) delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, maxBackoff)
	}
	return min(p.backoff*time.Duration(1<<attempt), maxBackoff)
}

func (p retryPolicy) do(client *http.Client, req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("gateway client: read request body: %w", err)
		}
		_ = req.Body.Close()
		body = b
	}

	ctx := req.Context()
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gateway client: request canceled: %w", err)
		}
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := client.Do(req)
		retryAfter, retry := retryable(resp, err)
		if !retry {
			return resp, err
		}

		if err != nil {
			lastErr = err
			log.Printf("WARN gateway client: attempt %d/%d failed: %v", attempt+1, p.attempts, err)
		} else {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			log.Printf("WARN gateway client: attempt %d/%d got status %d", attempt+1, p.attempts, resp.StatusCode)
			_ = resp.Body.Close()
		}

		if attempt < p.attempts-1 {
			if err := sleepWithContext(ctx, p.delay(attempt, retryAfter)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("gateway client: request failed after %d attempts: %w", p.attempts, lastErr)
}

func retryable(resp *http.Response, err error) (time.Duration, bool) {
	if err != nil {
		return 0, true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return parseRetryAfter(resp.Header.Get("Retry-After")), true
	}
	return 0, false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("gateway client: request canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
