package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nvarela/b1agent/internal/llm"
)

// scriptedChatter replays a fixed sequence of responses and captures
// the messages of every call.
type scriptedChatter struct {
	responses []*llm.ChatResponse
	err       error
	calls     [][]llm.Message
}

func (s *scriptedChatter) Chat(_ context.Context, messages []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	s.calls = append(s.calls, append([]llm.Message(nil), messages...))
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.calls) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

// recordingExecutor returns canned results per tool name.
type recordingExecutor struct {
	results map[string]string
	errs    map[string]error
	calls   []string
}

func (r *recordingExecutor) Execute(_ context.Context, name string, _ map[string]any) (string, error) {
	r.calls = append(r.calls, name)
	if err := r.errs[name]; err != nil {
		return "", err
	}
	return r.results[name], nil
}

func (r *recordingExecutor) List() []map[string]any {
	return []map[string]any{{"type": "function", "function": map[string]any{"name": "t"}}}
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Model: "m", Message: llm.Message{Role: "assistant", Content: content}}
}

func toolResponse(name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{Model: "m", Message: llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{{
			ID:       name,
			Function: llm.FunctionCall{Name: name, Arguments: args},
		}},
	}}
}

func TestRespond_DirectAnswer(t *testing.T) {
	chatter := &scriptedChatter{responses: []*llm.ChatResponse{textResponse("42 widgets")}}
	a := New(chatter, &recordingExecutor{}, nil)

	res, err := a.Respond(context.Background(), nil, "how many widgets?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "42 widgets" || res.Rounds != 1 || res.Exhausted {
		t.Errorf("result = %+v", res)
	}

	// System prompt first, then the user message.
	msgs := chatter.calls[0]
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "business intelligence") {
		t.Error("first message must be the system prompt")
	}
	if msgs[len(msgs)-1].Role != "user" || msgs[len(msgs)-1].Content != "how many widgets?" {
		t.Error("last message must be the user turn")
	}
}

func TestRespond_ToolRoundTrip(t *testing.T) {
	chatter := &scriptedChatter{responses: []*llm.ChatResponse{
		toolResponse("get_top_selling_products", map[string]any{"date_from": "2025-01-01", "date_to": "2025-01-31"}),
		textResponse("Top product is A."),
	}}
	exec := &recordingExecutor{results: map[string]string{
		"get_top_selling_products": `{"success":true}`,
	}}
	a := New(chatter, exec, nil)

	res, err := a.Respond(context.Background(), nil, "best sellers?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Top product is A." || res.Rounds != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "get_top_selling_products" {
		t.Errorf("tool calls = %v", exec.calls)
	}
	if len(res.ToolLog) != 1 || res.ToolLog[0].Round != 1 || res.ToolLog[0].Error != "" {
		t.Errorf("tool log = %+v", res.ToolLog)
	}

	// The second model call must see the tool result.
	second := chatter.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.Content != `{"success":true}` {
		t.Errorf("tool result not fed back: %+v", last)
	}
	if last.ToolCallID != "get_top_selling_products" {
		t.Errorf("tool call id = %q", last.ToolCallID)
	}
}

func TestRespond_ToolErrorFedBack(t *testing.T) {
	chatter := &scriptedChatter{responses: []*llm.ChatResponse{
		toolResponse("query_service_layer", map[string]any{"entity": "Unicorns"}),
		textResponse("That entity does not exist."),
	}}
	exec := &recordingExecutor{errs: map[string]error{
		"query_service_layer": errors.New(`unknown entity "Unicorns"`),
	}}
	a := New(chatter, exec, nil)

	res, err := a.Respond(context.Background(), nil, "query unicorns")
	if err != nil {
		t.Fatal(err)
	}

	second := chatter.calls[1]
	last := second[len(second)-1]
	if !strings.HasPrefix(last.Content, "Error: ") {
		t.Errorf("tool failure must reach the model as an error result, got %q", last.Content)
	}
	if res.ToolLog[0].Error == "" {
		t.Error("tool log must record the failure")
	}
}

func TestRespond_RoundBudget(t *testing.T) {
	// A model that never stops calling tools gets cut off with the
	// canned message.
	chatter := &scriptedChatter{responses: []*llm.ChatResponse{
		toolResponse("t", nil),
	}}
	exec := &recordingExecutor{results: map[string]string{"t": "ok"}}
	a := New(chatter, exec, nil)

	res, err := a.Respond(context.Background(), nil, "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Exhausted {
		t.Error("result must be marked exhausted")
	}
	if res.Rounds != MaxRounds {
		t.Errorf("rounds = %d, want %d", res.Rounds, MaxRounds)
	}
	if len(chatter.calls) != MaxRounds {
		t.Errorf("model calls = %d, want %d", len(chatter.calls), MaxRounds)
	}
	if res.Content == "" {
		t.Error("exhaustion must still produce a user-facing message")
	}
	if len(res.ToolLog) != MaxRounds {
		t.Errorf("tool log = %d entries, want %d", len(res.ToolLog), MaxRounds)
	}
}

func TestRespond_ModelFailureAborts(t *testing.T) {
	chatter := &scriptedChatter{err: errors.New("all models unavailable")}
	a := New(chatter, &recordingExecutor{}, nil)

	_, err := a.Respond(context.Background(), nil, "hi")
	if err == nil {
		t.Fatal("model boundary failure must abort the exchange")
	}
	if !strings.Contains(err.Error(), "round 1") {
		t.Errorf("err = %v", err)
	}
}

func TestRespond_HistoryIncluded(t *testing.T) {
	chatter := &scriptedChatter{responses: []*llm.ChatResponse{textResponse("ok")}}
	a := New(chatter, &recordingExecutor{}, nil)

	history := []llm.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	if _, err := a.Respond(context.Background(), history, "follow-up"); err != nil {
		t.Fatal(err)
	}

	msgs := chatter.calls[0]
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want system + 2 history + user", len(msgs))
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Error("history must precede the new user turn")
	}
}

func TestRespond_EmptyTextFallsBack(t *testing.T) {
	chatter := &scriptedChatter{responses: []*llm.ChatResponse{textResponse("")}}
	a := New(chatter, &recordingExecutor{}, nil)

	res, err := a.Respond(context.Background(), nil, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content == "" {
		t.Error("empty model text must fall back to the canned message")
	}
}

func TestRespond_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chatter := &scriptedChatter{responses: []*llm.ChatResponse{textResponse("ok")}}
	a := New(chatter, &recordingExecutor{}, nil)

	if _, err := a.Respond(ctx, nil, "hi"); err == nil {
		t.Fatal("cancelled context must abort before calling the model")
	}
	if len(chatter.calls) != 0 {
		t.Error("no model calls after cancellation")
	}
}
