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

// SlotBackend is the slice of the backend client the slot agent uses.
type SlotBackend interface {
	ListTerminals(ctx context.Context, credential string) ([]backend.Terminal, error)
	GetSlotAvailability(ctx context.Context, credential, terminal, dateFrom, dateTo string) (*backend.SlotAvailability, error)
	GetCapacity(ctx context.Context, credential, terminal, date string) (*backend.Capacity, error)
}

// SlotAgent serves the slots capability: terminal listing, slot availability
// and capacity queries.
type SlotAgent struct {
	backend  SlotBackend
	delegate ToolChatter
	logger   *zap.Logger
}

// NewSlotAgent builds the slot agent. delegate may be nil.
func NewSlotAgent(b SlotBackend, delegate ToolChatter, logger *zap.Logger) *SlotAgent {
	return &SlotAgent{backend: b, delegate: delegate, logger: logger}
}

func (a *SlotAgent) Capability() models.Capability { return models.CapabilitySlots }

func (a *SlotAgent) Invoke(ctx context.Context, task models.SubTask, credential string) (map[string]string, error) {
	switch task.ToolName {
	case plan.ToolListTerminals:
		terminals, err := a.backend.ListTerminals(ctx, credential)
		if err != nil {
			return nil, err
		}
		return terminalData(terminals), nil

	case plan.ToolSlotAvailability:
		terminal := task.Args["terminal"]
		dateFrom := task.Args["date_from"]
		if terminal == "" && dateFrom == "" && a.delegate != nil {
			a.logger.Debug("delegating underspecified sub-task",
				zap.String("sub_task", task.ID),
				zap.String("tool", task.ToolName))
			answer, used, err := runDelegate(ctx, a.delegate, task, slotToolCatalog(), a.resolver(credential))
			if err != nil {
				return nil, err
			}
			return map[string]string{
				"answer":     answer,
				"tools_used": strings.Join(used, ","),
			}, nil
		}
		av, err := a.backend.GetSlotAvailability(ctx, credential, terminal, dateFrom, task.Args["date_to"])
		if err != nil {
			return nil, err
		}
		return availabilityData(av), nil

	case plan.ToolGetCapacity:
		usage, err := a.backend.GetCapacity(ctx, credential, task.Args["terminal"], task.Args["date_from"])
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"terminal": usage.Terminal,
			"date":     usage.Date,
			"total":    strconv.Itoa(usage.Total),
			"booked":   strconv.Itoa(usage.Booked),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, task.ToolName)
}

func (a *SlotAgent) resolver(credential string) llm.ToolResolver {
	return func(ctx context.Context, name, arguments string) (string, error) {
		var args struct {
			Terminal string `json:"terminal"`
			DateFrom string `json:"date_from"`
			DateTo   string `json:"date_to"`
		}
		if arguments != "" {
			if err := json.Unmarshal([]byte(arguments), &args); err != nil {
				return "", fmt.Errorf("parse tool arguments: %w", err)
			}
		}
		switch name {
		case plan.ToolListTerminals:
			terminals, err := a.backend.ListTerminals(ctx, credential)
			if err != nil {
				return "", err
			}
			return marshalData(terminalData(terminals))
		case plan.ToolSlotAvailability:
			av, err := a.backend.GetSlotAvailability(ctx, credential, args.Terminal, args.DateFrom, args.DateTo)
			if err != nil {
				return "", err
			}
			return marshalData(availabilityData(av))
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func slotToolCatalog() []llm.Tool {
	return []llm.Tool{
		toolSpec(plan.ToolListTerminals, "List all terminals.", map[string]interface{}{}),
		toolSpec(plan.ToolSlotAvailability, "List free slots for a terminal within a date window.", map[string]interface{}{
			"terminal":  prop("string", "Terminal id or name"),
			"date_from": prop("string", "Window start, YYYY-MM-DD"),
			"date_to":   prop("string", "Window end, YYYY-MM-DD"),
		}, "terminal", "date_from"),
	}
}

func terminalData(terminals []backend.Terminal) map[string]string {
	names := make([]string, len(terminals))
	for i, t := range terminals {
		names[i] = fmt.Sprintf("%s (%s)", t.Name, t.ID)
	}
	return map[string]string{
		"count":     strconv.Itoa(len(terminals)),
		"terminals": strings.Join(names, ", "),
	}
}

func availabilityData(av *backend.SlotAvailability) map[string]string {
	slots := make([]string, len(av.Slots))
	for i, s := range av.Slots {
		slots[i] = fmt.Sprintf("%s x%d", s.Time, s.Available)
	}
	data := map[string]string{
		"terminal":  av.Terminal,
		"date_from": av.DateFrom,
		"slots":     strings.Join(slots, ", "),
	}
	if av.DateTo != "" {
		data["date_to"] = av.DateTo
	}
	return data
}
