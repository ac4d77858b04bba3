package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvarela/b1agent/internal/cache"
	"github.com/nvarela/b1agent/internal/servicelayer"
)

func (r *Registry) registerQueryTools() {
	r.Register(&Tool{
		Name:        "query_service_layer",
		Description: "Query a business entity with optional OData filter, field selection, and row cap. Without 'top' the query paginates and returns ALL matching rows. Use get_service_metadata first to discover entities and fields.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity": map[string]any{
					"type":        "string",
					"description": "Logical entity name (e.g., Items, Invoices, BusinessPartners)",
				},
				"filter": map[string]any{
					"type":        "string",
					"description": "OData $filter expression (e.g., \"DocDate ge '2025-01-01' and DocDate le '2025-01-31'\")",
				},
				"select": map[string]any{
					"type":        "string",
					"description": "Comma-separated $select field list to shrink the response",
				},
				"top": map[string]any{
					"type":        "integer",
					"description": "Maximum rows to return. Omit or 0 to fetch everything.",
				},
			},
			"required": []string{"entity"},
		},
		Handler: r.handleQuery,
	})

	r.Register(&Tool{
		Name:        "get_service_metadata",
		Description: "List the available business entities with their endpoints, descriptions, and common fields. Call this before querying an unfamiliar entity.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleMetadata,
	})
}

func (r *Registry) handleQuery(ctx context.Context, args map[string]any) (string, error) {
	entity := argString(args, "entity")
	if entity == "" {
		return "", fmt.Errorf("entity is required")
	}
	desc, ok := r.catalog.Describe(entity)
	if !ok {
		return "", fmt.Errorf("unknown entity %q (available: %s)", entity, strings.Join(r.catalog.Names(), ", "))
	}

	sl := r.newClient()
	defer sl.Logout(ctx)

	res := sl.Query(ctx, servicelayer.QueryRequest{
		Entity: entity,
		Path:   desc.Path,
		Filter: argString(args, "filter"),
		Select: argString(args, "select"),
		Top:    argInt(args, "top", 0),
	})

	payload, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}

	if res.Success {
		summary := fmt.Sprintf("%d records", res.Count)
		if res.Paginated {
			summary += " (paginated)"
		}
		description := "Query " + entity
		if res.Filter != "" {
			description += " where " + res.Filter
		}
		r.record(ctx, cache.Entry{
			Entity:      entity,
			Description: description,
			Params:      args,
			Result:      payload,
			Summary:     summary,
		})
	}

	return string(payload), nil
}

func (r *Registry) handleMetadata(context.Context, map[string]any) (string, error) {
	return r.catalog.Summary(), nil
}

// record appends a cache entry for the current session. Recording is
// best effort; a storage hiccup must not fail the tool call that
// produced a perfectly good result.
func (r *Registry) record(ctx context.Context, e cache.Entry) {
	if err := r.store.Record(ctx, r.sessions.Current(), e); err != nil {
		r.logger.Warn("cache record failed", "entity", e.Entity, "error", err)
	}
}
