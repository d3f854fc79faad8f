// Package llm is the HTTP client for the language-model provider. It speaks
// the chat-completions wire shape: a system instruction, the running
// conversation, and a declared tool catalog; replies may request tool calls
// that the caller resolves before a final answer exists.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quayline/orchestrator/internal/errclass"
	"github.com/quayline/orchestrator/internal/metrics"
)

// Message is one chat message on the wire.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation the model requests.
type ToolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function FuncCall `json:"function"`
}

// FuncCall carries the requested function name and JSON-encoded arguments.
type FuncCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares one callable function in the request catalog.
type Tool struct {
	Type     string   `json:"type"`
	Function ToolSpec `json:"function"`
}

// ToolSpec describes a function and its JSON-schema parameters.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ToolResolver executes one requested tool call and returns its JSON result.
type ToolResolver func(ctx context.Context, name string, arguments string) (string, error)

// Config configures the client.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxToolSteps int
	RequestsPS   float64
	Burst        int
}

// Client is a rate-limited chat-completions client. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxToolSteps <= 0 {
		cfg.MaxToolSteps = 5
	}
	rps := cfg.RequestsPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// CompleteJSON sends one system+user exchange and returns the raw assistant
// text. Used by the classifier, which parses and validates the reply itself.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	msg, err := c.complete(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, nil)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// ChatWithTools runs the bounded tool-use loop: the model may request tool
// calls, resolve executes them, and the transcript grows until the model
// answers in plain text or the step budget runs out.
func (c *Client) ChatWithTools(ctx context.Context, messages []Message, tools []Tool, resolve ToolResolver) (string, []string, error) {
	transcript := make([]Message, len(messages))
	copy(transcript, messages)

	var usedTools []string
	for step := 0; step < c.cfg.MaxToolSteps; step++ {
		msg, err := c.complete(ctx, transcript, tools)
		if err != nil {
			return "", usedTools, err
		}
		if len(msg.ToolCalls) == 0 {
			return msg.Content, usedTools, nil
		}

		transcript = append(transcript, *msg)
		for _, call := range msg.ToolCalls {
			usedTools = append(usedTools, call.Function.Name)
			result, err := resolve(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				// The model gets the error text and may recover; the loop
				// only aborts on transport failure.
				result = fmt.Sprintf(`{"error":%q}`, err.Error())
			}
			transcript = append(transcript, Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	return "", usedTools, errclass.Permanentf("tool-use loop exceeded %d steps", c.cfg.MaxToolSteps)
}

func (c *Client) complete(ctx context.Context, messages []Message, tools []Tool) (*Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errclass.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, errclass.Permanent(fmt.Errorf("marshal chat request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errclass.Permanent(fmt.Errorf("build chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.LLMRequests.WithLabelValues("error").Inc()
		return nil, errclass.Transient(fmt.Errorf("llm request: %w", err))
	}
	defer resp.Body.Close()
	metrics.LLMRequestDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.LLMRequests.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return nil, errclass.FromStatus(resp.StatusCode,
			fmt.Errorf("llm returned %d: %s", resp.StatusCode, snippet))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.LLMRequests.WithLabelValues("decode_error").Inc()
		return nil, errclass.Transient(fmt.Errorf("decode llm response: %w", err))
	}
	if out.Error != nil {
		metrics.LLMRequests.WithLabelValues("api_error").Inc()
		return nil, errclass.Permanentf("llm error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues("empty").Inc()
		return nil, errclass.Transientf("llm returned no choices")
	}

	metrics.LLMRequests.WithLabelValues("ok").Inc()
	return &out.Choices[0].Message, nil
}
