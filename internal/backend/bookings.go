package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Booking is the backend's booking resource. InternalNotes, PaymentRef and
// AuditTrail are operator-facing fields; the synthesizer and guard decide
// which roles ever see them.
type Booking struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	TerminalID    string `json:"terminal_id"`
	CarrierID     string `json:"carrier_id"`
	CustomerID    string `json:"customer_id"`
	Date          string `json:"date"`
	TimeSlot      string `json:"time_slot"`
	Containers    int    `json:"containers"`
	DriverName    string `json:"driver_name,omitempty"`
	DriverPhone   string `json:"driver_phone,omitempty"`
	PaymentRef    string `json:"payment_ref,omitempty"`
	InternalNotes string `json:"internal_notes,omitempty"`
	AuditTrail    string `json:"audit_trail,omitempty"`
}

// CreateBookingRequest is the payload for a new booking.
type CreateBookingRequest struct {
	TerminalID string `json:"terminal_id"`
	Date       string `json:"date"`
	TimeSlot   string `json:"time_slot,omitempty"`
	Containers int    `json:"containers,omitempty"`
}

// UpdateBookingRequest carries the mutable booking fields.
type UpdateBookingRequest struct {
	TerminalID string `json:"terminal_id,omitempty"`
	Date       string `json:"date,omitempty"`
	TimeSlot   string `json:"time_slot,omitempty"`
	Containers int    `json:"containers,omitempty"`
}

// GetBooking fetches one booking by id.
func (c *Client) GetBooking(ctx context.Context, credential, id string) (*Booking, error) {
	var b Booking
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/bookings/"+url.PathEscape(id), credential, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookings lists the bookings visible to the credential's owner. The
// backend applies role scoping; this client does not widen it.
func (c *Client) ListBookings(ctx context.Context, credential string) ([]Booking, error) {
	var out struct {
		Bookings []Booking `json:"bookings"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/bookings", credential, nil, &out); err != nil {
		return nil, err
	}
	return out.Bookings, nil
}

// CreateBooking creates a booking.
func (c *Client) CreateBooking(ctx context.Context, credential string, req CreateBookingRequest) (*Booking, error) {
	var b Booking
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/bookings", credential, req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBooking updates a booking.
func (c *Client) UpdateBooking(ctx context.Context, credential, id string, req UpdateBookingRequest) (*Booking, error) {
	var b Booking
	if err := c.doJSON(ctx, http.MethodPut, "/api/v1/bookings/"+url.PathEscape(id), credential, req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CancelBooking cancels a booking.
func (c *Client) CancelBooking(ctx context.Context, credential, id string) (*Booking, error) {
	var b Booking
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/bookings/"+url.PathEscape(id), credential, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ApproveBooking approves a pending booking (operator action; the backend
// enforces the role server-side as well).
func (c *Client) ApproveBooking(ctx context.Context, credential, id string) (*Booking, error) {
	var b Booking
	path := fmt.Sprintf("/api/v1/bookings/%s/approve", url.PathEscape(id))
	if err := c.doJSON(ctx, http.MethodPost, path, credential, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
