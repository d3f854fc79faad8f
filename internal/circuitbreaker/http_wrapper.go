package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker. Transport errors
// and 5xx responses count as breaker failures; 4xx responses do not trip it,
// since the dependency itself is healthy.
type HTTPWrapper struct {
	client *http.Client
	cb     *CircuitBreaker
}

// NewHTTPWrapper creates a breaker-guarded HTTP client.
func NewHTTPWrapper(client *http.Client, name string, config Config, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPWrapper{
		client: client,
		cb:     New(name, config, logger),
	}
}

// Do executes req through the breaker. A 5xx response is returned to the
// caller as a normal response even though it was counted as a failure.
func (w *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := w.cb.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = w.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// State exposes the breaker state for health checks.
func (w *HTTPWrapper) State() State {
	return w.cb.State()
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
