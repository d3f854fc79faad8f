// Package synthesis turns executed plans into a single candidate response.
// Narration is template based and deterministic: the same plan and results
// always produce the same text. The output is a candidate only; the guard
// decides what is released.
package synthesis

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/models"
	"github.com/quayline/orchestrator/internal/plan"
)

const (
	deniedText = "I can't help with that. Booking approval is restricted to terminal operators."

	clarificationText = "I'm not sure what you need. I can check booking status, create, change or cancel bookings, and look up slot availability. Could you rephrase your request?"

	helpText = "I can help you with terminal bookings and slot availability. Ask me to check a booking's status, create or cancel a booking, or find free slots at a terminal."

	outOfScopeText = "That's outside what I can help with. I handle terminal bookings, slot availability and capacity questions."
)

// Synthesizer narrates tool results for the caller's role.
type Synthesizer struct {
	logger *zap.Logger
}

// New builds a Synthesizer.
func New(logger *zap.Logger) *Synthesizer {
	return &Synthesizer{logger: logger}
}

// Synthesize builds the candidate response. Every result is accounted for:
// successes are narrated, failures acknowledged with their reason, skipped
// sub-tasks explained. Operator-only detail is appended only for operators.
func (s *Synthesizer) Synthesize(role models.Role, intent models.IntentClassification, p models.TaskPlan, results []models.ToolResult) models.SynthesizedOutput {
	switch p.Tag {
	case models.PlanForbidden:
		return models.SynthesizedOutput{Text: deniedText}
	case models.PlanClarification:
		return models.SynthesizedOutput{Text: clarificationText}
	case models.PlanNoTool:
		if intent.Category == models.CategoryOutOfScope {
			return models.SynthesizedOutput{Text: outOfScopeText}
		}
		return models.SynthesizedOutput{Text: helpText}
	}

	var (
		sentences []string
		usedTools []string
		payload   = make(map[string]string)
	)
	for _, res := range results {
		switch {
		case res.Skipped:
			sentences = append(sentences, fmt.Sprintf("I didn't attempt %s because %s.", describeTool(res.ToolName), res.SkipReason))
		case !res.Success:
			sentences = append(sentences, fmt.Sprintf("I couldn't complete %s: %s.", describeTool(res.ToolName), res.Err))
		default:
			usedTools = append(usedTools, res.ToolName)
			sentences = append(sentences, s.narrate(role, res))
			for k, v := range res.Data {
				payload[res.SubTaskID+"."+k] = v
			}
		}
	}
	if len(sentences) == 0 {
		sentences = append(sentences, helpText)
	}

	return models.SynthesizedOutput{
		Text:              strings.Join(sentences, " "),
		StructuredPayload: payload,
		UsedTools:         usedTools,
	}
}

func (s *Synthesizer) narrate(role models.Role, res models.ToolResult) string {
	d := res.Data
	if answer := d["answer"]; answer != "" {
		return answer
	}

	var text string
	switch res.ToolName {
	case plan.ToolGetBooking:
		text = fmt.Sprintf("Booking %s is %s at terminal %s on %s.", d["booking_id"], d["status"], d["terminal"], d["date"])
		if d["time_slot"] != "" {
			text += fmt.Sprintf(" Slot %s.", d["time_slot"])
		}
	case plan.ToolListBookings:
		if d["count"] == "0" {
			text = "You have no bookings."
		} else {
			text = fmt.Sprintf("You have %s booking(s): %s.", d["count"], d["bookings"])
		}
	case plan.ToolCreateBooking:
		text = fmt.Sprintf("Created booking %s at terminal %s on %s, status %s.", d["booking_id"], d["terminal"], d["date"], d["status"])
	case plan.ToolUpdateBooking:
		text = fmt.Sprintf("Updated booking %s, status %s.", d["booking_id"], d["status"])
	case plan.ToolCancelBooking:
		text = fmt.Sprintf("Booking %s has been cancelled.", d["booking_id"])
	case plan.ToolApproveBooking:
		text = fmt.Sprintf("Booking %s approved, status %s.", d["booking_id"], d["status"])
	case plan.ToolListTerminals:
		text = fmt.Sprintf("Available terminals: %s.", d["terminals"])
	case plan.ToolSlotAvailability:
		text = fmt.Sprintf("Free slots at %s on %s: %s.", d["terminal"], d["date_from"], d["slots"])
	case plan.ToolGetCapacity:
		text = fmt.Sprintf("Terminal %s on %s: %s of %s slots booked.", d["terminal"], d["date"], d["booked"], d["total"])
	default:
		s.logger.Warn("no narration template for tool", zap.String("tool", res.ToolName))
		text = fmt.Sprintf("%s completed.", describeTool(res.ToolName))
	}

	if role == models.RoleOperator {
		text += operatorDetail(d)
	}
	return text
}

// operatorDetail appends backoffice fields operators are entitled to see.
func operatorDetail(d map[string]string) string {
	var parts []string
	if v := d["carrier_id"]; v != "" {
		parts = append(parts, "carrier "+v)
	}
	if v := d["customer_id"]; v != "" {
		parts = append(parts, "customer "+v)
	}
	if v := d["payment_ref"]; v != "" {
		parts = append(parts, "payment "+v)
	}
	if v := d["internal_notes"]; v != "" {
		parts = append(parts, "notes: "+v)
	}
	if v := d["audit_trail"]; v != "" {
		parts = append(parts, "audit: "+v)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

var toolDescriptions = map[string]string{
	plan.ToolGetBooking:       "the booking lookup",
	plan.ToolListBookings:     "the booking list",
	plan.ToolCreateBooking:    "the booking creation",
	plan.ToolUpdateBooking:    "the booking update",
	plan.ToolCancelBooking:    "the cancellation",
	plan.ToolApproveBooking:   "the approval",
	plan.ToolListTerminals:    "the terminal list",
	plan.ToolSlotAvailability: "the slot lookup",
	plan.ToolGetCapacity:      "the capacity check",
}

func describeTool(tool string) string {
	if d, ok := toolDescriptions[tool]; ok {
		return d
	}
	return tool
}
