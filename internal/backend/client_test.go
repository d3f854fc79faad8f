package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/circuitbreaker"
	"github.com/quayline/orchestrator/internal/errclass"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second, circuitbreaker.DefaultConfig(), zap.NewNop())
}

func TestGetBookingSendsBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("missing bearer header: %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/api/v1/bookings/5432" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Booking{ID: "5432", Status: "CONFIRMED"})
	})

	b, err := c.GetBooking(context.Background(), "tok-123", "5432")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != "CONFIRMED" {
		t.Fatalf("unexpected booking %+v", b)
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"token expired"}`, http.StatusUnauthorized)
	})

	_, err := c.GetBooking(context.Background(), "stale", "1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if errclass.IsTransient(err) {
		t.Fatal("401 must never be retried")
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"booking not found"}`, http.StatusNotFound)
	})

	_, err := c.GetBooking(context.Background(), "tok", "9999")
	if err == nil || !errclass.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusServiceUnavailable)
	})

	_, err := c.ListTerminals(context.Background(), "tok")
	if err == nil || !errclass.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSlotAvailabilityQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("terminal") != "North" || q.Get("date_from") != "2026-09-01" {
			t.Errorf("unexpected query %v", q)
		}
		_ = json.NewEncoder(w).Encode(SlotAvailability{
			Terminal: "North",
			DateFrom: "2026-09-01",
			Slots:    []Slot{{Time: "08:00", Available: 4}},
		})
	})

	av, err := c.GetSlotAvailability(context.Background(), "tok", "North", "2026-09-01", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(av.Slots) != 1 || av.Slots[0].Available != 4 {
		t.Fatalf("unexpected availability %+v", av)
	}
}

func TestCancelUsesDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(Booking{ID: "7", Status: "CANCELLED"})
	})

	b, err := c.CancelBooking(context.Background(), "tok", "7")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != "CANCELLED" {
		t.Fatalf("unexpected status %q", b.Status)
	}
}
