package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Fallback walks an ordered model preference list, trying the next
// model whenever the current one is unavailable. Errors that are the
// request's fault (bad payloads, rejected content) stop the walk
// immediately — a different model would fail the same way.
type Fallback struct {
	client Client
	models []string
	logger *slog.Logger
}

// NewFallback wraps client with a model preference list. The list must
// not be empty.
func NewFallback(client Client, models []string, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		client: client,
		models: models,
		logger: logger.With("component", "fallback"),
	}
}

// Chat tries each configured model in order and returns the first
// successful response. The response carries the model that answered.
func (f *Fallback) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	if len(f.models) == 0 {
		return nil, fmt.Errorf("no models configured")
	}

	var lastErr error
	for _, model := range f.models {
		resp, err := f.client.Chat(ctx, model, messages, tools)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsUnavailable(err) {
			return nil, err
		}
		f.logger.Warn("model unavailable, trying next", "model", model, "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("all models unavailable: %w", lastErr)
}

// Ping checks the underlying provider.
func (f *Fallback) Ping(ctx context.Context) error {
	return f.client.Ping(ctx)
}
