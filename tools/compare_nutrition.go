package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

// MaxCompareItems bounds a single compare_nutrition request.
const MaxCompareItems = 10

type CompareNutrition struct{ catalog *Catalog }

func NewCompareNutrition(catalog *Catalog) *CompareNutrition {
	return &CompareNutrition{catalog: catalog}
}

func (t *CompareNutrition) Name() string  { return "compare_nutrition" }
func (t *CompareNutrition) Title() string { return "Compare Nutrition" }
func (t *CompareNutrition) Description() string {
	return "Looks up calories, protein, carbs, fat and fiber for named dishes so they can be compared side by side. " +
		"Partial names work."
}

func (t *CompareNutrition) InputSchema() *jsonschema.Schema {
	minItems, maxItems := 1, MaxCompareItems
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"item_names": {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string"},
				MinItems:    &minItems,
				MaxItems:    &maxItems,
				Description: "Dish names to compare",
			},
		},
		Required: []string{"item_names"},
	}
}

func (t *CompareNutrition) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"items":     {Type: "array", Items: itemSchema()},
			"not_found": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
		Required: []string{"items", "not_found"},
	}
}

type compareInput struct {
	ItemNames []string `json:"item_names"`
}

func (t *CompareNutrition) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	var in compareInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if len(in.ItemNames) == 0 {
		return nil, fmt.Errorf("%w: item_names must list at least one dish", ErrInvalidInput)
	}
	if len(in.ItemNames) > MaxCompareItems {
		return nil, fmt.Errorf("%w: at most %d item_names per call", ErrInvalidInput, MaxCompareItems)
	}

	out := struct {
		Items    []ItemView `json:"items"`
		NotFound []string   `json:"not_found"`
	}{Items: make([]ItemView, 0), NotFound: make([]string, 0)}

	seen := map[string]bool{}
	for _, name := range in.ItemNames {
		it, ok := t.catalog.Lookup(name)
		if !ok {
			out.NotFound = append(out.NotFound, strings.TrimSpace(name))
			continue
		}
		if seen[it.Key()] {
			continue
		}
		seen[it.Key()] = true
		out.Items = append(out.Items, newItemView(it))
	}

	return toOutput(out)
}
