package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quayline/orchestrator/internal/llm"
	"github.com/quayline/orchestrator/internal/models"
)

const delegatePrompt = `You are a port logistics assistant completing one planned task.
Use the provided tools to carry it out. If required details are missing,
derive them from the tools (for example list terminals to resolve a name).
Answer with a short factual summary of what you did or found.`

// runDelegate hands an underspecified sub-task to the tool-use loop with the
// agent's own catalog and resolver.
func runDelegate(ctx context.Context, chatter ToolChatter, task models.SubTask, tools []llm.Tool, resolve llm.ToolResolver) (string, []string, error) {
	payload, err := json.Marshal(struct {
		Tool string            `json:"tool"`
		Args map[string]string `json:"known_args,omitempty"`
	}{Tool: task.ToolName, Args: task.Args})
	if err != nil {
		return "", nil, fmt.Errorf("encode sub-task: %w", err)
	}
	messages := []llm.Message{
		{Role: "system", Content: delegatePrompt},
		{Role: "user", Content: string(payload)},
	}
	return chatter.ChatWithTools(ctx, messages, tools, resolve)
}

func toolSpec(name, description string, props map[string]interface{}, required ...string) llm.Tool {
	params := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return llm.Tool{
		Type: "function",
		Function: llm.ToolSpec{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func marshalData(data map[string]string) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
