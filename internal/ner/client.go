// Package ner provides named-entity engines for full-mode PII redaction.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/observability"
)

// Client talks to an HTTP named-entity service. The service accepts
// {"texts": [...]} and answers {"results": [[entity, ...], ...]} with one
// entity list per input text and rune offsets.
type Client struct {
	endpoint   string
	httpClient *http.Client
	retry      *RetryConfig
	logger     *observability.Logger
}

// Request is the wire request.
type Request struct {
	Texts []string `json:"texts"`
}

// Response is the wire response.
type Response struct {
	Results [][]domain.Entity `json:"results"`
}

// NewClient creates a new named-entity client
func NewClient(endpoint string, timeout time.Duration, maxRetries int, logger *observability.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retry := DefaultRetryConfig()
	if maxRetries >= 0 {
		retry.MaxRetries = maxRetries
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		logger:     observability.OrNop(logger).WithOperation("ner"),
	}
}

// WithRetryConfig replaces the retry policy.
func (c *Client) WithRetryConfig(cfg *RetryConfig) *Client {
	c.retry = cfg
	return c
}

// Check sends an empty batch to confirm the service answers.
func (c *Client) Check(ctx context.Context) error {
	if _, err := c.BatchRecognize(ctx, []string{}); err != nil {
		return domain.NERUnavailableError("named-entity service check failed", err)
	}
	return nil
}

// BatchRecognize sends all texts in one request.
func (c *Client) BatchRecognize(ctx context.Context, texts []string) ([][]domain.Entity, error) {
	body, err := json.Marshal(Request{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ner service returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Results) != len(texts) {
		return nil, fmt.Errorf("ner service returned %d results for %d texts", len(out.Results), len(texts))
	}

	c.logger.Debug().
		Int("texts", len(texts)).
		Dur("latency", time.Since(start)).
		Msg("batch recognized")
	return out.Results, nil
}
