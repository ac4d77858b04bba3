// Package llm provides the reasoning-model boundary: a wire client for
// the Gemini API plus a fallback wrapper that walks an ordered model
// list when a model is unavailable.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message is one provider-neutral conversation turn. Roles are
// "system", "user", "assistant", and "tool"; wire format conversion
// happens at the provider boundary (gemini.go).
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool responses
}

// FunctionCall names a tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model. Gemini
// correlates results by function name rather than an opaque id, so ID
// echoes the name.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// ChatResponse is the unified response from the provider.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int
}
