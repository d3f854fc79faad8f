// Package plan expands a classified request into an ordered, acyclic plan of
// sub-tasks, each bound to one capability and one tool.
package plan

import (
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/models"
)

var (
	// ErrCyclicPlan is returned when a plan's dependency graph has a cycle.
	ErrCyclicPlan = errors.New("cyclic task plan")

	// ErrUnknownCategory is returned for a category outside the taxonomy.
	ErrUnknownCategory = errors.New("unknown category")
)

// Tool names must match the catalogs the agent bridges declare.
const (
	ToolGetBooking       = "getBooking"
	ToolListBookings     = "listBookings"
	ToolCreateBooking    = "createBooking"
	ToolUpdateBooking    = "updateBooking"
	ToolCancelBooking    = "cancelBooking"
	ToolApproveBooking   = "approveBooking"
	ToolListTerminals    = "listTerminals"
	ToolSlotAvailability = "getSlotAvailability"
	ToolGetCapacity      = "getCapacity"
)

// listTerminalsRe spots a secondary "list terminals" ask riding along with
// the primary intent, so compound requests become multi-task plans.
var listTerminalsRe = regexp.MustCompile(`(?i)\b(list|show|which|what)\b.{0,30}\bterminals\b`)

// Decomposer turns classifications into task plans.
type Decomposer struct {
	logger *zap.Logger
}

// NewDecomposer creates a Decomposer.
func NewDecomposer(logger *zap.Logger) *Decomposer {
	return &Decomposer{logger: logger}
}

// Decompose builds the plan for one classified message. Empty plans are valid
// and carry a tag telling the synthesizer how to respond. The returned plan
// is always acyclic; a cycle in a built plan is a bug and is rejected here,
// never passed to the executor.
func (d *Decomposer) Decompose(classification models.IntentClassification, in *models.SanitizedInput, role models.Role) (*models.TaskPlan, error) {
	switch classification.TargetCapability {
	case models.CapabilityForbidden:
		return &models.TaskPlan{Tag: models.PlanForbidden}, nil
	case models.CapabilityClarification:
		return &models.TaskPlan{Tag: models.PlanClarification}, nil
	}

	ents := extractEntities(in.SanitizedText)
	next := newIDSequence()

	var subtasks []models.SubTask
	switch classification.Category {
	case models.CategoryBookingStatus:
		if ents.BookingID != "" {
			subtasks = append(subtasks, models.SubTask{
				ID: next(), Capability: models.CapabilityBooking,
				ToolName: ToolGetBooking, Args: ents.args(),
			})
		} else {
			subtasks = append(subtasks, models.SubTask{
				ID: next(), Capability: models.CapabilityBooking,
				ToolName: ToolListBookings, Args: ents.args(),
			})
		}

	case models.CategoryBookingCreate:
		subtasks = append(subtasks, models.SubTask{
			ID: next(), Capability: models.CapabilityBooking,
			ToolName: ToolCreateBooking, Args: ents.args(),
		})

	case models.CategoryBookingUpdate:
		subtasks = d.lookupThen(ToolUpdateBooking, ents, next)

	case models.CategoryBookingCancel:
		subtasks = d.lookupThen(ToolCancelBooking, ents, next)

	case models.CategoryBookingApprove:
		subtasks = d.lookupThen(ToolApproveBooking, ents, next)

	case models.CategorySlotQuery:
		subtasks = append(subtasks, models.SubTask{
			ID: next(), Capability: models.CapabilitySlots,
			ToolName: ToolSlotAvailability, Args: ents.args(),
		})

	case models.CategoryCapacityQuery:
		subtasks = append(subtasks, models.SubTask{
			ID: next(), Capability: models.CapabilitySlots,
			ToolName: ToolGetCapacity, Args: ents.args(),
		})

	case models.CategoryGeneralHelp, models.CategoryOutOfScope:
		return &models.TaskPlan{Tag: models.PlanNoTool}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, classification.Category)
	}

	// Compound request: an independent terminal listing rides along in its
	// own sub-task unless the primary task already lists terminals.
	if listTerminalsRe.MatchString(in.SanitizedText) && !hasTool(subtasks, ToolListTerminals) {
		subtasks = append(subtasks, models.SubTask{
			ID: next(), Capability: models.CapabilitySlots,
			ToolName: ToolListTerminals,
		})
	}

	if _, err := TopologicalOrder(subtasks); err != nil {
		return nil, err
	}

	d.logger.Debug("Decomposed request",
		zap.String("session_id", in.SessionMeta.SessionID),
		zap.String("category", string(classification.Category)),
		zap.Int("sub_tasks", len(subtasks)),
	)
	return &models.TaskPlan{Tag: models.PlanExecute, SubTasks: subtasks}, nil
}

// lookupThen builds the two-step "look up the booking, then act on it" shape
// shared by update, cancel and approve. Without a booking id there is nothing
// to look up, so the action runs alone and the backend reports the missing
// argument.
func (d *Decomposer) lookupThen(actionTool string, ents entities, next func() string) []models.SubTask {
	if ents.BookingID == "" {
		return []models.SubTask{{
			ID: next(), Capability: models.CapabilityBooking,
			ToolName: actionTool, Args: ents.args(),
		}}
	}
	lookup := models.SubTask{
		ID: next(), Capability: models.CapabilityBooking,
		ToolName: ToolGetBooking, Args: ents.args(),
	}
	action := models.SubTask{
		ID: next(), Capability: models.CapabilityBooking,
		ToolName: actionTool, Args: ents.args(),
		DependsOn: []string{lookup.ID},
	}
	return []models.SubTask{lookup, action}
}

func hasTool(subtasks []models.SubTask, tool string) bool {
	for _, st := range subtasks {
		if st.ToolName == tool {
			return true
		}
	}
	return false
}

// newIDSequence returns deterministic sub-task ids (t1, t2, ...) so plans for
// identical input are identical.
func newIDSequence() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}
}
