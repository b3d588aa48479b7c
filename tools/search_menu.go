package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

const (
	DefaultSearchTopK = 10
	MaxSearchTopK     = 20
)

type SearchMenu struct{ catalog *Catalog }

func NewSearchMenu(catalog *Catalog) *SearchMenu { return &SearchMenu{catalog: catalog} }

func (t *SearchMenu) Name() string  { return "search_menu" }
func (t *SearchMenu) Title() string { return "Search Menu" }
func (t *SearchMenu) Description() string {
	return "Searches today's menu for dishes matching a query. Returns the top_k most relevant items " +
		"with nutrition and dietary flags. Only items the user can eat are searched."
}

func (t *SearchMenu) InputSchema() *jsonschema.Schema {
	minK, maxK := 1.0, float64(MaxSearchTopK)
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {
				Type:        "string",
				Description: "What to search for, e.g. 'grilled chicken', 'vegan pasta', 'high-protein'",
			},
			"top_k": {
				Type:        "integer",
				Description: "Number of results to return (default 10, max 20)",
				Minimum:     &minK,
				Maximum:     &maxK,
			},
		},
		Required: []string{"query"},
	}
}

func (t *SearchMenu) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query":   {Type: "string"},
			"count":   {Type: "integer"},
			"results": {Type: "array", Items: itemSchema()},
		},
		Required: []string{"query", "count", "results"},
	}
}

type searchMenuInput struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

func (t *SearchMenu) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	var in searchMenuInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}

	k := DefaultSearchTopK
	if in.TopK != nil {
		k = min(max(*in.TopK, 1), MaxSearchTopK)
	}

	out := struct {
		Query   string     `json:"query"`
		Count   int        `json:"count"`
		Results []ItemView `json:"results"`
	}{Query: query, Results: make([]ItemView, 0)}

	for _, hit := range t.catalog.Search(query, k) {
		v := newItemView(hit.Item)
		v.Score = hit.Score
		out.Results = append(out.Results, v)
	}
	out.Count = len(out.Results)

	return toOutput(out)
}
