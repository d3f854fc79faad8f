// Package backend is the JSON REST client for the port-logistics platform
// API. The orchestrator treats that API as an external collaborator: this
// client owns the wire contract (bearer credential, JSON bodies, status
// classification) and nothing else.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/circuitbreaker"
	"github.com/quayline/orchestrator/internal/errclass"
	"github.com/quayline/orchestrator/internal/metrics"
)

// ErrUnauthorized is returned on a 401 response. The caller must invalidate
// the session credential; the call is never retried.
var ErrUnauthorized = errors.New("backend rejected credential")

// Client talks to the port-logistics backend through a circuit breaker.
type Client struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

// New creates a Client.
func New(baseURL string, timeout time.Duration, breakerCfg circuitbreaker.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: circuitbreaker.NewHTTPWrapper(
			&http.Client{Timeout: timeout}, "backend", breakerCfg, logger),
		logger: logger,
	}
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// doJSON performs one request. Transport errors, 429 and 5xx are transient;
// 401 maps to ErrUnauthorized; other 4xx are permanent.
func (c *Client) doJSON(ctx context.Context, method, path, credential string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errclass.Permanent(fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errclass.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BackendRequests.WithLabelValues(method, "error").Inc()
		return errclass.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()
	metrics.BackendRequests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusUnauthorized {
		return errclass.Permanent(ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ae)
		msg := ae.Message
		if msg == "" {
			msg = ae.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return errclass.FromStatus(resp.StatusCode,
			fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errclass.Transient(fmt.Errorf("decode %s %s response: %w", method, path, err))
		}
	}
	return nil
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
