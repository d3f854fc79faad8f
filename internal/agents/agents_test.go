package agents

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/backend"
	"github.com/quayline/orchestrator/internal/errclass"
	"github.com/quayline/orchestrator/internal/llm"
	"github.com/quayline/orchestrator/internal/models"
	"github.com/quayline/orchestrator/internal/plan"
)

type stubBackend struct {
	booking    *backend.Booking
	bookings   []backend.Booking
	terminals  []backend.Terminal
	avail      *backend.SlotAvailability
	capacity   *backend.Capacity
	err        error
	lastCred   string
	lastID     string
	lastCreate backend.CreateBookingRequest
}

func (s *stubBackend) GetBooking(_ context.Context, cred, id string) (*backend.Booking, error) {
	s.lastCred, s.lastID = cred, id
	return s.booking, s.err
}

func (s *stubBackend) ListBookings(_ context.Context, cred string) ([]backend.Booking, error) {
	s.lastCred = cred
	return s.bookings, s.err
}

func (s *stubBackend) CreateBooking(_ context.Context, cred string, req backend.CreateBookingRequest) (*backend.Booking, error) {
	s.lastCred, s.lastCreate = cred, req
	return s.booking, s.err
}

func (s *stubBackend) UpdateBooking(_ context.Context, cred, id string, _ backend.UpdateBookingRequest) (*backend.Booking, error) {
	s.lastCred, s.lastID = cred, id
	return s.booking, s.err
}

func (s *stubBackend) CancelBooking(_ context.Context, cred, id string) (*backend.Booking, error) {
	s.lastCred, s.lastID = cred, id
	return s.booking, s.err
}

func (s *stubBackend) ApproveBooking(_ context.Context, cred, id string) (*backend.Booking, error) {
	s.lastCred, s.lastID = cred, id
	return s.booking, s.err
}

func (s *stubBackend) ListTerminals(_ context.Context, cred string) ([]backend.Terminal, error) {
	s.lastCred = cred
	return s.terminals, s.err
}

func (s *stubBackend) GetSlotAvailability(_ context.Context, cred, terminal, from, to string) (*backend.SlotAvailability, error) {
	s.lastCred = cred
	return s.avail, s.err
}

func (s *stubBackend) GetCapacity(_ context.Context, cred, terminal, date string) (*backend.Capacity, error) {
	s.lastCred = cred
	return s.capacity, s.err
}

type stubChatter struct {
	answer string
	tools  []string
	err    error
	called bool
}

func (s *stubChatter) ChatWithTools(_ context.Context, _ []llm.Message, _ []llm.Tool, _ llm.ToolResolver) (string, []string, error) {
	s.called = true
	return s.answer, s.tools, s.err
}

func TestBookingAgentGetBooking(t *testing.T) {
	be := &stubBackend{booking: &backend.Booking{
		ID: "5432", Status: "CONFIRMED", TerminalID: "North", Date: "2026-09-01",
		PaymentRef: "PAY-88", InternalNotes: "vip carrier",
	}}
	a := NewBookingAgent(be, nil, zap.NewNop())

	data, err := a.Invoke(context.Background(), models.SubTask{
		ID:         "t1",
		Capability: models.CapabilityBooking,
		ToolName:   plan.ToolGetBooking,
		Args:       map[string]string{"booking_id": "5432"},
	}, "cred-1")
	if err != nil {
		t.Fatal(err)
	}
	if be.lastCred != "cred-1" || be.lastID != "5432" {
		t.Fatalf("backend called with cred=%q id=%q", be.lastCred, be.lastID)
	}
	if data["status"] != "CONFIRMED" {
		t.Errorf("status = %q", data["status"])
	}
	// Sensitive fields must reach the result; redaction is the guard's job.
	if data["payment_ref"] != "PAY-88" || data["internal_notes"] != "vip carrier" {
		t.Errorf("sensitive fields missing from %v", data)
	}
}

func TestBookingAgentMissingIDIsPermanent(t *testing.T) {
	a := NewBookingAgent(&stubBackend{}, nil, zap.NewNop())

	_, err := a.Invoke(context.Background(), models.SubTask{
		ID: "t1", ToolName: plan.ToolCancelBooking,
	}, "cred")
	if err == nil || !errclass.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestBookingAgentUnknownTool(t *testing.T) {
	a := NewBookingAgent(&stubBackend{}, nil, zap.NewNop())

	_, err := a.Invoke(context.Background(), models.SubTask{
		ID: "t1", ToolName: "dropTables",
	}, "cred")
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestBookingAgentDelegatesUnderspecifiedCreate(t *testing.T) {
	chatter := &stubChatter{answer: "Booked terminal North for tomorrow.", tools: []string{plan.ToolListTerminals, plan.ToolCreateBooking}}
	a := NewBookingAgent(&stubBackend{}, chatter, zap.NewNop())

	data, err := a.Invoke(context.Background(), models.SubTask{
		ID: "t1", ToolName: plan.ToolCreateBooking,
	}, "cred")
	if err != nil {
		t.Fatal(err)
	}
	if !chatter.called {
		t.Fatal("expected delegation to the tool-use loop")
	}
	if data["answer"] == "" || data["tools_used"] != "listTerminals,createBooking" {
		t.Fatalf("unexpected delegate result %v", data)
	}
}

func TestBookingAgentCreateDirectWhenArgsComplete(t *testing.T) {
	be := &stubBackend{booking: &backend.Booking{ID: "9", Status: "PENDING", TerminalID: "North", Date: "2026-09-02"}}
	chatter := &stubChatter{}
	a := NewBookingAgent(be, chatter, zap.NewNop())

	data, err := a.Invoke(context.Background(), models.SubTask{
		ID:       "t1",
		ToolName: plan.ToolCreateBooking,
		Args:     map[string]string{"terminal": "North", "date_from": "2026-09-02", "containers": "3"},
	}, "cred")
	if err != nil {
		t.Fatal(err)
	}
	if chatter.called {
		t.Fatal("fully specified sub-task must not be delegated")
	}
	if be.lastCreate.TerminalID != "North" || be.lastCreate.Containers != 3 {
		t.Fatalf("create request %+v", be.lastCreate)
	}
	if data["booking_id"] != "9" {
		t.Fatalf("unexpected result %v", data)
	}
}

func TestSlotAgentListTerminals(t *testing.T) {
	be := &stubBackend{terminals: []backend.Terminal{{ID: "T1", Name: "North"}, {ID: "T2", Name: "South"}}}
	a := NewSlotAgent(be, nil, zap.NewNop())

	data, err := a.Invoke(context.Background(), models.SubTask{
		ID: "t1", ToolName: plan.ToolListTerminals,
	}, "cred")
	if err != nil {
		t.Fatal(err)
	}
	if data["count"] != "2" {
		t.Errorf("count = %q", data["count"])
	}
	if data["terminals"] != "North (T1), South (T2)" {
		t.Errorf("terminals = %q", data["terminals"])
	}
}

func TestSlotAgentAvailability(t *testing.T) {
	be := &stubBackend{avail: &backend.SlotAvailability{
		Terminal: "North", DateFrom: "2026-09-01",
		Slots: []backend.Slot{{Time: "08:00", Available: 4}, {Time: "10:00", Available: 1}},
	}}
	a := NewSlotAgent(be, nil, zap.NewNop())

	data, err := a.Invoke(context.Background(), models.SubTask{
		ID:       "t1",
		ToolName: plan.ToolSlotAvailability,
		Args:     map[string]string{"terminal": "North", "date_from": "2026-09-01"},
	}, "cred")
	if err != nil {
		t.Fatal(err)
	}
	if data["slots"] != "08:00 x4, 10:00 x1" {
		t.Errorf("slots = %q", data["slots"])
	}
}

func TestSlotAgentPropagatesBackendError(t *testing.T) {
	be := &stubBackend{err: errclass.Transientf("backend unavailable")}
	a := NewSlotAgent(be, nil, zap.NewNop())

	_, err := a.Invoke(context.Background(), models.SubTask{
		ID: "t1", ToolName: plan.ToolListTerminals,
	}, "cred")
	if err == nil || !errclass.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	booking := NewBookingAgent(&stubBackend{}, nil, zap.NewNop())
	slots := NewSlotAgent(&stubBackend{}, nil, zap.NewNop())
	r := NewRegistry(booking, slots)

	b, err := r.For(models.CapabilityBooking)
	if err != nil || b.Capability() != models.CapabilityBooking {
		t.Fatalf("booking lookup: %v", err)
	}
	if _, err := r.For(models.CapabilityForbidden); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}
