package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ToolDescriptor describes one tool in the catalog. Descriptors are
// immutable after startup; the catalog owns them exclusively.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    Category        `json:"category"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Required    []string        `json:"-"`
	Affinity    Affinity        `json:"-"`
}

// Catalog is the static tool registry. Read-only after construction, so
// no locking is required.
type Catalog struct {
	tools map[string]ToolDescriptor
	names []string
}

// New builds a catalog from the given descriptors. Duplicate names are a
// programming error.
func New(tools []ToolDescriptor) (*Catalog, error) {
	c := &Catalog{tools: make(map[string]ToolDescriptor, len(tools))}
	for _, t := range tools {
		if _, dup := c.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name)
		}
		c.tools[t.Name] = t
		c.names = append(c.names, t.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Get resolves a descriptor by exact name.
func (c *Catalog) Get(name string) (ToolDescriptor, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// All returns every descriptor in stable name order.
func (c *Catalog) All() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.tools[name])
	}
	return out
}

// Names returns every tool name in stable order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	return len(c.names)
}
