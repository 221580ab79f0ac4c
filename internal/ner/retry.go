package ner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig controls how failed requests are retried.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig retries three times starting at 500ms, capped at 10s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// retryable reports whether a response status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout ||
		status == http.StatusInternalServerError
}

// calculateBackoff doubles the initial backoff per attempt up to the cap.
func calculateBackoff(attempt int, cfg *RetryConfig) time.Duration {
	d := cfg.InitialBackoff
	for i := 0; i < attempt && d < cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, cfg.MaxBackoff)
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response, cfg *RetryConfig) (time.Duration, bool) {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, cfg.MaxBackoff), true
}

// retryWithBackoff calls send until it returns 200, a non-retryable status,
// or the retries run out. Non-retryable responses are returned unread.
func (c *Client) retryWithBackoff(ctx context.Context, send func() (*http.Response, error)) (*http.Response, error) {
	cfg := c.retry
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait := calculateBackoff(attempt, cfg)
		resp, err := send()
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusOK || !retryable(resp.StatusCode):
			return resp, nil
		default:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			if d, ok := retryAfter(resp, cfg); ok {
				wait = d
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
		}

		if attempt >= cfg.MaxRetries {
			return nil, fmt.Errorf("request failed after %d retries: %w", cfg.MaxRetries, lastErr)
		}

		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Dur("backoff", wait).
			Err(lastErr).
			Msg("ner request failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
