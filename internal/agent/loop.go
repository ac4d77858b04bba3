// Package agent runs the bounded orchestration loop between the
// reasoning model and the tool catalog: the model investigates in up to
// MaxRounds tool-calling rounds, then must answer in text.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvarela/b1agent/internal/llm"
)

// MaxRounds is the hard ceiling on model rounds per user message. A
// round that returns plain text ends the loop early; a model that is
// still calling tools after the last round gets cut off.
const MaxRounds = 5

// exhaustedMessage is returned when the model never produced a text
// answer within the round budget.
const exhaustedMessage = "I wasn't able to complete this analysis within the allowed number of steps. Try narrowing the question — a shorter date range or a more specific entity usually helps."

// Chatter is the reasoning-model boundary the loop drives. Satisfied
// by *llm.Fallback.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error)
}

// Executor is the tool catalog. Satisfied by *tools.Registry.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
	List() []map[string]any
}

// Agent owns one orchestration loop configuration.
type Agent struct {
	llm    Chatter
	tools  Executor
	logger *slog.Logger

	// maxRounds defaults to MaxRounds; tests shrink it.
	maxRounds int
}

// New creates an agent over a model boundary and tool catalog.
func New(chatter Chatter, executor Executor, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		llm:       chatter,
		tools:     executor,
		logger:    logger.With("component", "agent"),
		maxRounds: MaxRounds,
	}
}

// ToolLogEntry is one audited tool invocation.
type ToolLogEntry struct {
	Round     int            `json:"round"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ResultLen int            `json:"result_len"`
	Error     string         `json:"error,omitempty"`
}

// Result is the outcome of one orchestrated exchange.
type Result struct {
	Content   string         `json:"content"`
	Model     string         `json:"model"`
	Rounds    int            `json:"rounds"`
	Exhausted bool           `json:"exhausted,omitempty"`
	ToolLog   []ToolLogEntry `json:"tool_log,omitempty"`
}

// Respond answers one user message. history is the prior conversation
// window, oldest first, without system messages; the agent prepends its
// own system prompt. Tool failures become tool results the model can
// read and react to — only a model-boundary failure aborts the loop.
func (a *Agent) Respond(ctx context.Context, history []llm.Message, userMessage string) (*Result, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})

	toolDefs := a.tools.List()
	var toolLog []ToolLogEntry
	start := time.Now()

	for round := range a.maxRounds {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("agent cancelled: %w", err)
		}

		a.logger.Info("model call", "round", round+1, "messages", len(messages))

		resp, err := a.llm.Chat(ctx, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("model call failed (round %d): %w", round+1, err)
		}

		// Plain text means the model is done investigating.
		if len(resp.Message.ToolCalls) == 0 {
			content := resp.Message.Content
			if content == "" {
				content = exhaustedMessage
			}
			a.logger.Info("exchange complete",
				"rounds", round+1,
				"tool_calls", len(toolLog),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return &Result{
				Content: content,
				Model:   resp.Model,
				Rounds:  round + 1,
				ToolLog: toolLog,
			}, nil
		}

		messages = append(messages, resp.Message)

		// Tool calls run sequentially; each result goes straight back
		// into the transcript for the next round.
		for _, tc := range resp.Message.ToolCalls {
			a.logger.Info("tool exec", "round", round+1, "tool", tc.Function.Name)

			result, err := a.tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			entry := ToolLogEntry{
				Round:     round + 1,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			if err != nil {
				result = "Error: " + err.Error()
				entry.Error = err.Error()
				a.logger.Error("tool exec failed", "tool", tc.Function.Name, "error", err)
			}
			entry.ResultLen = len(result)
			toolLog = append(toolLog, entry)

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	a.logger.Warn("round budget exhausted",
		"rounds", a.maxRounds,
		"tool_calls", len(toolLog),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return &Result{
		Content:   exhaustedMessage,
		Rounds:    a.maxRounds,
		Exhausted: true,
		ToolLog:   toolLog,
	}, nil
}
