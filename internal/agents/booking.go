package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/backend"
	"github.com/quayline/orchestrator/internal/llm"
	"github.com/quayline/orchestrator/internal/models"
	"github.com/quayline/orchestrator/internal/plan"
)

// BookingBackend is the slice of the backend client the booking agent uses.
type BookingBackend interface {
	GetBooking(ctx context.Context, credential, id string) (*backend.Booking, error)
	ListBookings(ctx context.Context, credential string) ([]backend.Booking, error)
	CreateBooking(ctx context.Context, credential string, req backend.CreateBookingRequest) (*backend.Booking, error)
	UpdateBooking(ctx context.Context, credential, id string, req backend.UpdateBookingRequest) (*backend.Booking, error)
	CancelBooking(ctx context.Context, credential, id string) (*backend.Booking, error)
	ApproveBooking(ctx context.Context, credential, id string) (*backend.Booking, error)
}

// BookingAgent serves the booking capability. When a sub-task carries the
// arguments its tool needs it dispatches straight to the backend; otherwise
// it delegates to the tool-use loop so the model can fill the gaps with the
// same catalog.
type BookingAgent struct {
	backend  BookingBackend
	delegate ToolChatter
	logger   *zap.Logger
}

// NewBookingAgent builds the booking agent. delegate may be nil, in which
// case underspecified sub-tasks fail permanently instead of being delegated.
func NewBookingAgent(b BookingBackend, delegate ToolChatter, logger *zap.Logger) *BookingAgent {
	return &BookingAgent{backend: b, delegate: delegate, logger: logger}
}

func (a *BookingAgent) Capability() models.Capability { return models.CapabilityBooking }

func (a *BookingAgent) Invoke(ctx context.Context, task models.SubTask, credential string) (map[string]string, error) {
	switch task.ToolName {
	case plan.ToolGetBooking:
		id, ok := task.Args["booking_id"]
		if !ok {
			return nil, missingArg(task.ToolName, "booking_id")
		}
		b, err := a.backend.GetBooking(ctx, credential, id)
		if err != nil {
			return nil, err
		}
		return bookingData(b), nil

	case plan.ToolListBookings:
		bookings, err := a.backend.ListBookings(ctx, credential)
		if err != nil {
			return nil, err
		}
		return bookingListData(bookings), nil

	case plan.ToolCreateBooking:
		req := backend.CreateBookingRequest{
			TerminalID: task.Args["terminal"],
			Date:       task.Args["date_from"],
			Containers: atoiOrZero(task.Args["containers"]),
		}
		if req.TerminalID == "" || req.Date == "" {
			return a.delegateOrFail(ctx, task, credential, "terminal and date")
		}
		b, err := a.backend.CreateBooking(ctx, credential, req)
		if err != nil {
			return nil, err
		}
		return bookingData(b), nil

	case plan.ToolUpdateBooking:
		id, ok := task.Args["booking_id"]
		if !ok {
			return nil, missingArg(task.ToolName, "booking_id")
		}
		req := backend.UpdateBookingRequest{
			TerminalID: task.Args["terminal"],
			Date:       task.Args["date_from"],
			TimeSlot:   task.Args["time_slot"],
			Containers: atoiOrZero(task.Args["containers"]),
		}
		if req == (backend.UpdateBookingRequest{}) {
			return a.delegateOrFail(ctx, task, credential, "at least one field to change")
		}
		b, err := a.backend.UpdateBooking(ctx, credential, id, req)
		if err != nil {
			return nil, err
		}
		return bookingData(b), nil

	case plan.ToolCancelBooking:
		id, ok := task.Args["booking_id"]
		if !ok {
			return nil, missingArg(task.ToolName, "booking_id")
		}
		b, err := a.backend.CancelBooking(ctx, credential, id)
		if err != nil {
			return nil, err
		}
		return bookingData(b), nil

	case plan.ToolApproveBooking:
		id, ok := task.Args["booking_id"]
		if !ok {
			return nil, missingArg(task.ToolName, "booking_id")
		}
		b, err := a.backend.ApproveBooking(ctx, credential, id)
		if err != nil {
			return nil, err
		}
		return bookingData(b), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, task.ToolName)
}

func (a *BookingAgent) delegateOrFail(ctx context.Context, task models.SubTask, credential, need string) (map[string]string, error) {
	if a.delegate == nil {
		return nil, missingArg(task.ToolName, need)
	}
	a.logger.Debug("delegating underspecified sub-task",
		zap.String("sub_task", task.ID),
		zap.String("tool", task.ToolName))
	answer, used, err := runDelegate(ctx, a.delegate, task, bookingToolCatalog(), a.resolver(credential))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"answer":     answer,
		"tools_used": strings.Join(used, ","),
	}, nil
}

// resolver executes the catalog tools the model requests during delegation.
func (a *BookingAgent) resolver(credential string) llm.ToolResolver {
	return func(ctx context.Context, name, arguments string) (string, error) {
		var args struct {
			BookingID  string `json:"booking_id"`
			TerminalID string `json:"terminal_id"`
			Date       string `json:"date"`
			TimeSlot   string `json:"time_slot"`
			Containers int    `json:"containers"`
		}
		if arguments != "" {
			if err := json.Unmarshal([]byte(arguments), &args); err != nil {
				return "", fmt.Errorf("parse tool arguments: %w", err)
			}
		}
		switch name {
		case plan.ToolGetBooking:
			b, err := a.backend.GetBooking(ctx, credential, args.BookingID)
			if err != nil {
				return "", err
			}
			return marshalData(bookingData(b))
		case plan.ToolListBookings:
			bookings, err := a.backend.ListBookings(ctx, credential)
			if err != nil {
				return "", err
			}
			return marshalData(bookingListData(bookings))
		case plan.ToolCreateBooking:
			b, err := a.backend.CreateBooking(ctx, credential, backend.CreateBookingRequest{
				TerminalID: args.TerminalID,
				Date:       args.Date,
				TimeSlot:   args.TimeSlot,
				Containers: args.Containers,
			})
			if err != nil {
				return "", err
			}
			return marshalData(bookingData(b))
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func bookingToolCatalog() []llm.Tool {
	return []llm.Tool{
		toolSpec(plan.ToolGetBooking, "Fetch one booking by id.", map[string]interface{}{
			"booking_id": prop("string", "Booking id"),
		}, "booking_id"),
		toolSpec(plan.ToolListBookings, "List the caller's bookings.", map[string]interface{}{}),
		toolSpec(plan.ToolCreateBooking, "Create a booking.", map[string]interface{}{
			"terminal_id": prop("string", "Terminal id"),
			"date":        prop("string", "Date, YYYY-MM-DD"),
			"time_slot":   prop("string", "Preferred slot, HH:MM"),
			"containers":  prop("integer", "Container count"),
		}, "terminal_id", "date"),
	}
}

// bookingData flattens a booking for the synthesizer. Sensitive fields ride
// along here; the output guard decides per role whether they survive.
func bookingData(b *backend.Booking) map[string]string {
	data := map[string]string{
		"booking_id": b.ID,
		"status":     b.Status,
		"terminal":   b.TerminalID,
		"date":       b.Date,
	}
	if b.TimeSlot != "" {
		data["time_slot"] = b.TimeSlot
	}
	if b.Containers > 0 {
		data["containers"] = strconv.Itoa(b.Containers)
	}
	if b.CarrierID != "" {
		data["carrier_id"] = b.CarrierID
	}
	if b.CustomerID != "" {
		data["customer_id"] = b.CustomerID
	}
	if b.DriverName != "" {
		data["driver_name"] = b.DriverName
	}
	if b.DriverPhone != "" {
		data["driver_phone"] = b.DriverPhone
	}
	if b.PaymentRef != "" {
		data["payment_ref"] = b.PaymentRef
	}
	if b.InternalNotes != "" {
		data["internal_notes"] = b.InternalNotes
	}
	if b.AuditTrail != "" {
		data["audit_trail"] = b.AuditTrail
	}
	return data
}

func bookingListData(bookings []backend.Booking) map[string]string {
	summaries := make([]string, len(bookings))
	for i, b := range bookings {
		summaries[i] = fmt.Sprintf("%s %s %s %s", b.ID, b.Status, b.TerminalID, b.Date)
	}
	return map[string]string{
		"count":    strconv.Itoa(len(bookings)),
		"bookings": strings.Join(summaries, "; "),
	}
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
