// Package gateway talks to the wallet backend: transaction submission
// with bounded retry, confirmation polling, account synchronization and
// guarantor-group membership resolution.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/capsulepay/walletd/internal/config"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

type Client struct {
	baseURL       string
	retry         int
	retryInterval time.Duration
	timeout       time.Duration

	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		baseURL:       config.AppConfig.GatewayURL,
		retry:         config.AppConfig.SubmitRetry,
		retryInterval: config.AppConfig.SubmitRetryInterval,
		timeout:       config.AppConfig.SubmitTimeout,
		httpClient:    &http.Client{},
	}
}

// NewClientWithBase is used by tests to point the client at a local
// server with tight retry timing.
func NewClientWithBase(baseURL string, retry int, retryInterval, timeout time.Duration) *Client {
	return &Client{
		baseURL:       baseURL,
		retry:         retry,
		retryInterval: retryInterval,
		timeout:       timeout,
		httpClient:    &http.Client{},
	}
}

// statusError marks a response that may be retried (5xx) or not (4xx).
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code >= 500
}

// postJSON posts body and decodes the JSON response into dest, retrying
// network errors and 5xx responses with linearly increasing backoff.
// A 4xx response fails immediately.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * c.retryInterval
			log.Debugf("Gateway retry %d for %s after %v, last error: %v", attempt, path, backoff, lastErr)
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), 0)
			case <-time.After(backoff):
			}
		}

		lastErr = c.doJSON(ctx, http.MethodPost, path, payload, dest)
		if lastErr == nil {
			return nil
		}
		var se *statusError
		if errors.As(lastErr, &se) && !se.retryable() {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) getJSON(ctx context.Context, path string, dest interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, dest)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload []byte, dest interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Wrap(&statusError{code: resp.StatusCode, body: string(data)}, 0)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}
