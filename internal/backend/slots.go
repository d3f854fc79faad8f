package backend

import (
	"context"
	"net/http"
	"net/url"
)

// Terminal is one terminal in the port.
type Terminal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Slot is one bookable time window.
type Slot struct {
	Time      string `json:"time"`
	Available int    `json:"available"`
}

// SlotAvailability is the availability answer for one terminal and window.
type SlotAvailability struct {
	Terminal string `json:"terminal"`
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to,omitempty"`
	Slots    []Slot `json:"slots"`
}

// Capacity summarizes utilization for one terminal and date.
type Capacity struct {
	Terminal string `json:"terminal"`
	Date     string `json:"date"`
	Total    int    `json:"total"`
	Booked   int    `json:"booked"`
}

// ListTerminals lists all terminals.
func (c *Client) ListTerminals(ctx context.Context, credential string) ([]Terminal, error) {
	var out struct {
		Terminals []Terminal `json:"terminals"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/terminals", credential, nil, &out); err != nil {
		return nil, err
	}
	return out.Terminals, nil
}

// GetSlotAvailability returns free slots for a terminal within a window.
func (c *Client) GetSlotAvailability(ctx context.Context, credential, terminal, dateFrom, dateTo string) (*SlotAvailability, error) {
	q := url.Values{}
	if terminal != "" {
		q.Set("terminal", terminal)
	}
	if dateFrom != "" {
		q.Set("date_from", dateFrom)
	}
	if dateTo != "" {
		q.Set("date_to", dateTo)
	}
	var out SlotAvailability
	path := "/api/v1/slots/availability"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.doJSON(ctx, http.MethodGet, path, credential, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCapacity returns capacity utilization for a terminal and date.
func (c *Client) GetCapacity(ctx context.Context, credential, terminal, date string) (*Capacity, error) {
	q := url.Values{}
	if terminal != "" {
		q.Set("terminal", terminal)
	}
	if date != "" {
		q.Set("date", date)
	}
	var out Capacity
	path := "/api/v1/capacity"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.doJSON(ctx, http.MethodGet, path, credential, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
