// Package agents bridges planned sub-tasks to the capability agents that can
// execute them. Each agent owns one capability's tool catalog and talks to
// the logistics backend with the caller's credential.
package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/quayline/orchestrator/internal/errclass"
	"github.com/quayline/orchestrator/internal/llm"
	"github.com/quayline/orchestrator/internal/models"
)

var (
	// ErrNoAgent means no agent is registered for the sub-task's capability.
	ErrNoAgent = errors.New("no agent registered for capability")
	// ErrUnknownTool means the agent does not serve the requested tool.
	ErrUnknownTool = errors.New("unknown tool")
)

// Bridge executes one sub-task. Implementations must be safe for concurrent
// use; the executor invokes independent sub-tasks in parallel.
type Bridge interface {
	// Capability names the capability this bridge serves.
	Capability() models.Capability
	// Invoke runs the sub-task's tool and returns its flattened result data.
	Invoke(ctx context.Context, task models.SubTask, credential string) (map[string]string, error)
}

// ToolChatter is the bounded tool-use loop agents fall back to when a
// sub-task arrives without the arguments direct dispatch needs.
type ToolChatter interface {
	ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool, resolve llm.ToolResolver) (string, []string, error)
}

// Registry maps capabilities to their agents.
type Registry struct {
	agents map[models.Capability]Bridge
}

// NewRegistry builds a registry from the given agents.
func NewRegistry(bridges ...Bridge) *Registry {
	r := &Registry{agents: make(map[models.Capability]Bridge, len(bridges))}
	for _, b := range bridges {
		r.agents[b.Capability()] = b
	}
	return r
}

// For returns the agent serving the capability.
func (r *Registry) For(cap models.Capability) (Bridge, error) {
	b, ok := r.agents[cap]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAgent, cap)
	}
	return b, nil
}

func missingArg(tool, arg string) error {
	return errclass.Permanentf("%s requires %s", tool, arg)
}
