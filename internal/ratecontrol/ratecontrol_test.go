package ratecontrol

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestBurstThenThrottle(t *testing.T) {
	p := New(1, 3, zap.NewNop())

	for i := 0; i < 3; i++ {
		if !p.Allow("caller-1") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if p.Allow("caller-1") {
		t.Fatal("request over burst allowed")
	}
}

func TestCallersAreIndependent(t *testing.T) {
	p := New(1, 1, zap.NewNop())

	if !p.Allow("a") {
		t.Fatal("first caller denied")
	}
	if !p.Allow("b") {
		t.Fatal("second caller throttled by first caller's bucket")
	}
}

func TestWrapReturns429(t *testing.T) {
	p := New(1, 1, zap.NewNop())
	handler := p.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status %d", rec.Code)
	}
}
