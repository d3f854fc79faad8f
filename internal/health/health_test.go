package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func probe(t *testing.T, m *Manager, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	mux := http.NewServeMux()
	m.Mount(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	var body map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestLivenessAlwaysOK(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(CheckerFunc{CheckerName: "broken", Fn: func(context.Context) error {
		return errors.New("down")
	}})

	resp, _ := probe(t, m, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestReadinessAggregatesCheckers(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(CheckerFunc{CheckerName: "store", Fn: func(context.Context) error { return nil }})

	resp, body := probe(t, m, "/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ready, _ := body["ready"].(bool); !ready {
		t.Fatalf("body = %v", body)
	}

	m.Register(CheckerFunc{CheckerName: "backend", Fn: func(context.Context) error {
		return errors.New("connection refused")
	}})

	resp, body = probe(t, m, "/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["store"] != "ok" || checks["backend"] != "connection refused" {
		t.Fatalf("checks = %v", checks)
	}
}
