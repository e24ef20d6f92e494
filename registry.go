package pipeweaver

import "fmt"

// Registry is the static mapping from tool id to metadata. It is loaded
// once at construction and read-only afterwards.
type Registry struct {
	byID    map[string]ToolDefinition
	ordered []ToolDefinition
}

// NewRegistry builds a registry from a set of tool definitions. Duplicate
// or empty ids are rejected.
func NewRegistry(defs []ToolDefinition) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]ToolDefinition, len(defs)),
		ordered: make([]ToolDefinition, 0, len(defs)),
	}
	for _, def := range defs {
		if def.ID == "" {
			return nil, NewValidationError("registry", "tool definition with empty id", nil)
		}
		if _, exists := r.byID[def.ID]; exists {
			return nil, NewValidationError("registry", fmt.Sprintf("duplicate tool id '%s'", def.ID), nil)
		}
		switch def.Category {
		case CategoryMath, CategoryData, CategoryAnalysis, CategoryUtility:
		default:
			return nil, NewValidationError("registry", fmt.Sprintf("unknown category '%s' for tool '%s'", def.Category, def.ID), nil)
		}
		r.byID[def.ID] = def
		r.ordered = append(r.ordered, def)
	}
	return r, nil
}

// Resolve looks up a tool definition by id.
func (r *Registry) Resolve(id string) (ToolDefinition, bool) {
	def, ok := r.byID[id]
	return def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []ToolDefinition {
	defs := make([]ToolDefinition, len(r.ordered))
	copy(defs, r.ordered)
	return defs
}

// IDs returns all tool ids in registration order, suitable for
// enum-constraining the capability schema.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.ordered))
	for _, def := range r.ordered {
		ids = append(ids, def.ID)
	}
	return ids
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// DefaultToolSet returns the built-in tool definitions used by the mock
// invoker and the demo server.
func DefaultToolSet() []ToolDefinition {
	return []ToolDefinition{
		{ID: "matrix.add", Name: "Matrix Addition", Description: "Adds two matrices element-wise.", Category: CategoryMath},
		{ID: "matrix.multiply", Name: "Matrix Multiplication", Description: "Multiplies two matrices.", Category: CategoryMath},
		{ID: "data.normalize", Name: "Normalize Data", Description: "Scales numeric columns into the [0,1] range.", Category: CategoryData},
		{ID: "data.filter", Name: "Filter Rows", Description: "Drops rows that fail a predicate.", Category: CategoryData},
		{ID: "analysis.describe", Name: "Describe Statistics", Description: "Computes summary statistics for the working data.", Category: CategoryAnalysis},
		{ID: "utils.log", Name: "Log Context", Description: "Logs the current execution context.", Category: CategoryUtility},
		{ID: "utils.eval", Name: "Evaluate Expression", Description: "Evaluates an arithmetic expression from the context.", Category: CategoryUtility},
	}
}
