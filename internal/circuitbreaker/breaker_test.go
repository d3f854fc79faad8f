package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

var errBoom = errors.New("boom")

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errBoom })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}
	if err := cb.Execute(ctx, func() error { return nil }); err != ErrOpen {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := New("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	_ = cb.Execute(ctx, func() error { return errBoom })
	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errBoom })
	if cb.State() != StateClosed {
		t.Fatalf("breaker tripped despite reset, state=%v", cb.State())
	}
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	cb := New("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errBoom })
	}
	time.Sleep(60 * time.Millisecond) // open -> half-open

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success threshold, got %v", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New("test", testConfig(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errBoom })
	}
	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(ctx, func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("expected reopen, got %v", cb.State())
	}
}

func TestHTTPWrapperCountsServerErrors(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewHTTPWrapper(srv.Client(), "http-test", testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := w.Do(req)
		if err != nil {
			t.Fatalf("5xx must still be returned: %v", err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Breaker is open now; requests don't reach the server.
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := w.Do(req); err != ErrOpen {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestHTTPWrapperClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewHTTPWrapper(srv.Client(), "http-4xx", testConfig(), zap.NewNop())
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := w.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if w.State() != StateClosed {
		t.Fatalf("4xx must not trip the breaker, state=%v", w.State())
	}
}
