package connectors

import (
	"fmt"
)

// Registry holds one connector per integration type.
// It is populated once at startup and only read afterwards.
type Registry struct {
	byType    map[string]Connector
	order     []Connector
	toolOwner map[string]Connector
}

// NewRegistry creates a registry with the given connectors.
// Returns an error on a duplicate type or on a tool name declared twice.
func NewRegistry(connectors ...Connector) (*Registry, error) {
	r := &Registry{
		byType:    make(map[string]Connector),
		toolOwner: make(map[string]Connector),
	}
	for _, c := range connectors {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a connector. Tool names must be unique across all connectors,
// so a tool name alone always identifies its connector.
func (r *Registry) Register(c Connector) error {
	if c == nil {
		return fmt.Errorf("cannot register nil connector")
	}
	if c.Type() == "" {
		return fmt.Errorf("connector %q has an empty type", c.Name())
	}
	if _, exists := r.byType[c.Type()]; exists {
		return fmt.Errorf("connector type %q already registered", c.Type())
	}

	seen := make(map[string]bool)
	for _, tool := range c.Tools() {
		if tool.Name == "" {
			return fmt.Errorf("connector %q declares a tool with an empty name", c.Type())
		}
		if seen[tool.Name] {
			return fmt.Errorf("connector %q declares tool %q twice", c.Type(), tool.Name)
		}
		seen[tool.Name] = true
		if owner, taken := r.toolOwner[tool.Name]; taken {
			return fmt.Errorf("tool %q of connector %q is already declared by connector %q",
				tool.Name, c.Type(), owner.Type())
		}
	}

	for _, tool := range c.Tools() {
		r.toolOwner[tool.Name] = c
	}
	r.byType[c.Type()] = c
	r.order = append(r.order, c)
	return nil
}

// Get returns the connector for an integration type.
func (r *Registry) Get(integrationType string) (Connector, bool) {
	c, ok := r.byType[integrationType]
	return c, ok
}

// All returns every connector in registration order.
func (r *Registry) All() []Connector {
	out := make([]Connector, len(r.order))
	copy(out, r.order)
	return out
}

// SystemConnectors returns connectors that need no credentials.
func (r *Registry) SystemConnectors() []Connector {
	var out []Connector
	for _, c := range r.order {
		if !c.RequiresCredentials() {
			out = append(out, c)
		}
	}
	return out
}

// UserConnectors returns connectors that need per-instance credentials.
func (r *Registry) UserConnectors() []Connector {
	var out []Connector
	for _, c := range r.order {
		if c.RequiresCredentials() {
			out = append(out, c)
		}
	}
	return out
}

// FindTool resolves a tool name to its connector and definition.
func (r *Registry) FindTool(name string) (Connector, ToolDefinition, bool) {
	c, ok := r.toolOwner[name]
	if !ok {
		return nil, ToolDefinition{}, false
	}
	for _, t := range c.Tools() {
		if t.Name == name {
			return c, t, true
		}
	}
	return nil, ToolDefinition{}, false
}

// HasTool reports whether any connector declares the tool name.
func (r *Registry) HasTool(name string) bool {
	_, ok := r.toolOwner[name]
	return ok
}

// IsSystemTool reports whether the tool belongs to a credential-less connector.
func (r *Registry) IsSystemTool(name string) bool {
	c, ok := r.toolOwner[name]
	return ok && !c.RequiresCredentials()
}
