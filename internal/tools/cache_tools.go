package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nvarela/b1agent/internal/cache"
)

func (r *Registry) registerCacheTools() {
	r.Register(&Tool{
		Name:        "get_cached_queries",
		Description: "List everything already retrieved in this session, in call order. Use this to consolidate earlier results into a final answer instead of re-querying. Summaries only by default; set summary_only to false for the raw payloads.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary_only": map[string]any{
					"type":        "boolean",
					"description": "Omit the full result payloads (default true; set false to include them, can be large)",
				},
			},
		},
		Handler: r.handleCachedQueries,
	})
}

type cachedQueriesResult struct {
	Success   bool          `json:"success"`
	SessionID string        `json:"session_id"`
	Count     int           `json:"count"`
	Queries   []cache.Entry `json:"queries"`
}

func (r *Registry) handleCachedQueries(ctx context.Context, args map[string]any) (string, error) {
	// Summaries unless the model explicitly asks for payloads.
	summaryOnly := true
	if v, ok := args["summary_only"].(bool); ok {
		summaryOnly = v
	}

	session := r.sessions.Current()
	entries, err := r.store.ListForSession(ctx, session, !summaryOnly)
	if err != nil {
		return "", fmt.Errorf("list cached queries: %w", err)
	}

	payload, err := json.Marshal(cachedQueriesResult{
		Success:   true,
		SessionID: session,
		Count:     len(entries),
		Queries:   entries,
	})
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(payload), nil
}
