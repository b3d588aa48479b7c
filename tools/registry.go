package tools

import (
	"fmt"
	"sort"
)

// Registry maps tool names to implementations
type Registry map[string]Tool

// NewRegistry creates the dispatch table for the three menu tools, all bound
// to the same catalog.
func NewRegistry(catalog *Catalog) *Registry {
	tools := map[string]Tool{}
	for _, t := range []Tool{
		NewSearchMenu(catalog),
		NewFilterByDietaryNeed(catalog),
		NewCompareNutrition(catalog),
	} {
		tools[t.Name()] = t
	}

	registry := Registry(tools)
	return &registry
}

// GetTools returns all tools in the registry sorted by name
func (r *Registry) GetTools() []Tool {
	tools := make([]Tool, 0, len(*r))
	for _, tool := range *r {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetTool retrieves a tool by name from the registry
func (r Registry) GetTool(name string) (Tool, error) {
	tool, exists := r[name]
	if !exists {
		return nil, fmt.Errorf("tool %q not found in registry", name)
	}
	return tool, nil
}
