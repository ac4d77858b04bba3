package servicelayer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nvarela/b1agent/internal/config"
)

// Catalog maps logical entity names to their physical endpoints and
// descriptive metadata. It is read-only after construction.
type Catalog struct {
	entities map[string]config.EntityConfig
}

// NewCatalog builds a catalog from configured entity metadata.
func NewCatalog(entities map[string]config.EntityConfig) *Catalog {
	return &Catalog{entities: entities}
}

// Describe returns the descriptor for a logical entity name.
func (c *Catalog) Describe(name string) (config.EntityConfig, bool) {
	e, ok := c.entities[name]
	return e, ok
}

// Names returns all logical entity names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.entities))
	for name := range c.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary renders a deterministic human-readable listing of the
// catalog, one block per entity with endpoint path, description, and
// the first few common fields. It is meant as a tool result for the
// model to read, not for parsing.
func (c *Catalog) Summary() string {
	var b strings.Builder
	b.WriteString("=== Service Layer - Available Entities ===\n\n")

	for _, name := range c.Names() {
		e := c.entities[name]
		fields := e.CommonFields
		if len(fields) > 5 {
			fields = fields[:5]
		}
		fmt.Fprintf(&b, "• %s\n", name)
		fmt.Fprintf(&b, "  Endpoint: %s\n", e.Path)
		fmt.Fprintf(&b, "  Description: %s\n", e.Description)
		fmt.Fprintf(&b, "  Fields: %s...\n\n", strings.Join(fields, ", "))
	}

	return b.String()
}
