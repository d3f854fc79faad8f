package plan

import (
	"regexp"
	"strings"
)

// Entity extraction pulls tool arguments out of sanitized text. The backend
// validates values; this layer only finds and normalizes them.

var (
	bookingIDRe  = regexp.MustCompile(`(?i)\bbooking\s*#?\s*(\d+)`)
	bareIDRe     = regexp.MustCompile(`#(\d+)\b`)
	terminalRe   = regexp.MustCompile(`(?i)\bterminal\s+([A-Za-z][A-Za-z0-9-]*)`)
	isoDateRe    = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	containersRe = regexp.MustCompile(`(?i)\b(\d+)\s+containers?\b`)
	relativeDays = []string{"today", "tomorrow", "next week"}
)

type entities struct {
	BookingID  string
	Terminal   string
	DateFrom   string
	DateTo     string
	Containers string
}

func extractEntities(text string) entities {
	var e entities

	if m := bookingIDRe.FindStringSubmatch(text); m != nil {
		e.BookingID = m[1]
	} else if m := bareIDRe.FindStringSubmatch(text); m != nil {
		e.BookingID = m[1]
	}

	if m := terminalRe.FindStringSubmatch(text); m != nil {
		e.Terminal = m[1]
	}

	dates := isoDateRe.FindAllString(text, 2)
	switch len(dates) {
	case 1:
		e.DateFrom = dates[0]
	case 2:
		e.DateFrom, e.DateTo = dates[0], dates[1]
	default:
		lower := strings.ToLower(text)
		for _, day := range relativeDays {
			if strings.Contains(lower, day) {
				e.DateFrom = day
				break
			}
		}
	}

	if m := containersRe.FindStringSubmatch(text); m != nil {
		e.Containers = m[1]
	}
	return e
}

// args renders the non-empty entities as tool arguments.
func (e entities) args() map[string]string {
	out := map[string]string{}
	if e.BookingID != "" {
		out["booking_id"] = e.BookingID
	}
	if e.Terminal != "" {
		out["terminal"] = e.Terminal
	}
	if e.DateFrom != "" {
		out["date_from"] = e.DateFrom
	}
	if e.DateTo != "" {
		out["date_to"] = e.DateTo
	}
	if e.Containers != "" {
		out["containers"] = e.Containers
	}
	return out
}
