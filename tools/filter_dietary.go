package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"diningagent/menu"
)

// MaxFilterResults caps filter_by_dietary_need output.
const MaxFilterResults = 25

type FilterByDietaryNeed struct{ catalog *Catalog }

func NewFilterByDietaryNeed(catalog *Catalog) *FilterByDietaryNeed {
	return &FilterByDietaryNeed{catalog: catalog}
}

func (t *FilterByDietaryNeed) Name() string  { return "filter_by_dietary_need" }
func (t *FilterByDietaryNeed) Title() string { return "Filter by Dietary Need" }
func (t *FilterByDietaryNeed) Description() string {
	return "Lists menu items carrying a dietary label such as vegan, vegetarian, gluten-free, halal or kosher."
}

func (t *FilterByDietaryNeed) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"restriction": {
				Type:        "string",
				Description: "Dietary label, e.g. 'vegan', 'gluten-free', 'halal', 'vegetarian'",
			},
		},
		Required: []string{"restriction"},
	}
}

func (t *FilterByDietaryNeed) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"restriction": {Type: "string"},
			"total":       {Type: "integer"},
			"items":       {Type: "array", Items: itemSchema()},
		},
		Required: []string{"restriction", "total", "items"},
	}
}

type filterInput struct {
	Restriction string `json:"restriction"`
}

func (t *FilterByDietaryNeed) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	var in filterInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Restriction) == "" {
		return nil, fmt.Errorf("%w: restriction is required", ErrInvalidInput)
	}

	matches := t.catalog.WithFlag(in.Restriction)
	out := struct {
		Restriction string     `json:"restriction"`
		Total       int        `json:"total"`
		Items       []ItemView `json:"items"`
	}{
		Restriction: menu.NormalizeTag(in.Restriction),
		Total:       len(matches),
		Items:       make([]ItemView, 0, min(len(matches), MaxFilterResults)),
	}
	for i, it := range matches {
		if i == MaxFilterResults {
			break
		}
		out.Items = append(out.Items, newItemView(it))
	}

	return toOutput(out)
}
