// Package tools defines the tool catalog available to the agent: raw
// entity queries, catalog metadata, the net-sales aggregations, and the
// session's accumulated results.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nvarela/b1agent/internal/cache"
	"github.com/nvarela/b1agent/internal/config"
	"github.com/nvarela/b1agent/internal/servicelayer"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// ServiceClient is the slice of the service-layer client the tools use.
// Every tool invocation gets a fresh client so session tokens never
// cross invocations, and logs it out when done.
type ServiceClient interface {
	Query(ctx context.Context, q servicelayer.QueryRequest) servicelayer.Result
	Logout(ctx context.Context)
}

// Registry holds the available tools and the collaborators the
// handlers need.
type Registry struct {
	tools map[string]*Tool
	names []string // registration order, for a stable List

	newClient func() ServiceClient
	catalog   *servicelayer.Catalog
	store     *cache.Store
	sessions  *cache.Sessions
	logger    *slog.Logger
}

// NewRegistry creates the tool registry wired to the configured
// service layer and the accumulation store.
func NewRegistry(cfg *config.Config, store *cache.Store, sessions *cache.Sessions, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:    make(map[string]*Tool),
		catalog:  servicelayer.NewCatalog(cfg.Entities),
		store:    store,
		sessions: sessions,
		logger:   logger.With("component", "tools"),
		newClient: func() ServiceClient {
			return servicelayer.New(cfg.ServiceLayer, logger)
		},
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.registerQueryTools()
	r.registerAnalyticsTools()
	r.registerCacheTools()
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.names = append(r.names, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tool definitions for the LLM, in registration order.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with decoded arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool %q (available: %s)", name, strings.Join(r.names, ", "))
	}

	r.logger.Info("tool invoked", "tool", name, "session", r.sessions.Current())
	return tool.Handler(ctx, args)
}

// Argument coercion helpers. Arguments arrive as decoded JSON, so
// numbers are float64.

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string, fallback int) int {
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return fallback
}
