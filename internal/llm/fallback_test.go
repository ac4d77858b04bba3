package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

// scriptedClient returns a canned outcome per model.
type scriptedClient struct {
	outcomes map[string]error
	calls    []string
}

func (s *scriptedClient) Chat(_ context.Context, model string, _ []Message, _ []map[string]any) (*ChatResponse, error) {
	s.calls = append(s.calls, model)
	if err := s.outcomes[model]; err != nil {
		return nil, err
	}
	return &ChatResponse{Model: model, Message: Message{Role: "assistant", Content: "ok"}}, nil
}

func (s *scriptedClient) Ping(context.Context) error { return nil }

func TestFallback_FirstModelWins(t *testing.T) {
	sc := &scriptedClient{}
	f := NewFallback(sc, []string{"primary", "secondary"}, nil)

	resp, err := f.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "primary" {
		t.Errorf("model = %q, want primary", resp.Model)
	}
	if len(sc.calls) != 1 {
		t.Errorf("calls = %v, want just primary", sc.calls)
	}
}

func TestFallback_UnavailableAdvances(t *testing.T) {
	sc := &scriptedClient{outcomes: map[string]error{
		"primary":   &apiError{Status: http.StatusServiceUnavailable},
		"secondary": &apiError{Status: http.StatusTooManyRequests},
	}}
	f := NewFallback(sc, []string{"primary", "secondary", "tertiary"}, nil)

	resp, err := f.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "tertiary" {
		t.Errorf("model = %q, want tertiary", resp.Model)
	}
	if len(sc.calls) != 3 {
		t.Errorf("calls = %v", sc.calls)
	}
}

func TestFallback_RequestFaultStops(t *testing.T) {
	// A 400 means the request itself is broken; retrying on another
	// model would fail identically.
	sc := &scriptedClient{outcomes: map[string]error{
		"primary": &apiError{Status: http.StatusBadRequest, Body: "bad schema"},
	}}
	f := NewFallback(sc, []string{"primary", "secondary"}, nil)

	_, err := f.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("want error")
	}
	if len(sc.calls) != 1 {
		t.Errorf("calls = %v, want just primary", sc.calls)
	}
}

func TestFallback_AllUnavailable(t *testing.T) {
	sc := &scriptedClient{outcomes: map[string]error{
		"a": &apiError{Status: http.StatusServiceUnavailable},
		"b": &apiError{Status: http.StatusServiceUnavailable},
	}}
	f := NewFallback(sc, []string{"a", "b"}, nil)

	_, err := f.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("want error when every model fails")
	}
	var ae *apiError
	if !errors.As(err, &ae) {
		t.Errorf("final error should wrap the last model failure: %v", err)
	}
}

func TestFallback_NoModels(t *testing.T) {
	f := NewFallback(&scriptedClient{}, nil, nil)
	if _, err := f.Chat(context.Background(), nil, nil); err == nil {
		t.Fatal("want error with an empty model list")
	}
}

func TestFallback_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := &scriptedClient{outcomes: map[string]error{
		"a": context.Canceled,
	}}
	f := NewFallback(sc, []string{"a", "b"}, nil)

	_, err := f.Chat(ctx, []Message{{Role: "user", Content: "hi"}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(sc.calls) != 1 {
		t.Errorf("cancelled context must not advance to the next model, calls = %v", sc.calls)
	}
}
