package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ExchangeError is a well-formed response carrying a non-empty error array.
type ExchangeError struct {
	Messages []string
}

func (e *ExchangeError) Error() string {
	return "exchange error: " + strings.Join(e.Messages, "; ")
}

// IsRetryable always returns false: an error array is a hard failure for the page.
func (e *ExchangeError) IsRetryable() bool {
	return false
}

type retryable interface {
	IsRetryable() bool
}

// envelope is the common response wrapper.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// doRequest performs an HTTP request with the given method and path.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// get performs a paced GET with retries and returns the envelope's result.
// Transport failures, 5xx/429 responses and undecodable bodies are retried;
// exchange errors are returned immediately.
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.pacer.wait(ctx); err != nil {
			return nil, err
		}
		if attempt > 0 {
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"path", path,
				"error", lastErr,
			)
		}

		result, err := c.attempt(ctx, path, query)
		if err == nil {
			c.pacer.success()
			c.metrics.RESTRequest("ok")
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		var r retryable
		if errors.As(err, &r) && !r.IsRetryable() {
			c.metrics.RESTRequest("error")
			return nil, err
		}

		c.pacer.failure()
		c.metrics.RESTRequest("retry")
	}

	c.metrics.RESTRequest("error")
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) attempt(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	body, err := c.doRequest(ctx, http.MethodGet, path, query)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(env.Error) > 0 {
		return nil, &ExchangeError{Messages: env.Error}
	}
	return env.Result, nil
}
