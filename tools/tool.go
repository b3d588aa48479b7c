package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

// ErrInvalidInput marks tool arguments the model got wrong. The coordinator
// turns it into an error observation so the model can correct itself.
var ErrInvalidInput = errors.New("invalid tool input")

type Tool interface {
	Name() string
	Title() string
	Description() string
	InputSchema() *jsonschema.Schema
	OutputSchema() *jsonschema.Schema
	Run(ctx context.Context, input map[string]any) (output map[string]any, err error)
}

type Call struct {
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

// decodeInput converts loosely typed model arguments into a typed struct.
func decodeInput(input map[string]any, v any) error {
	if input == nil {
		input = map[string]any{}
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// marshal -> map[string]any to keep outputs uniform
func toOutput(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool output: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal tool output: %w", err)
	}
	return m, nil
}

func itemSchema() *jsonschema.Schema {
	minZero := 0.0
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":          {Type: "string"},
			"dining_hall":   {Type: "string"},
			"station":       {Type: "string"},
			"calories":      {Type: "number", Minimum: &minZero},
			"protein_g":     {Type: "number", Minimum: &minZero},
			"carbs_g":       {Type: "number", Minimum: &minZero},
			"fat_g":         {Type: "number", Minimum: &minZero},
			"fiber_g":       {Type: "number", Minimum: &minZero},
			"dietary_flags": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"allergens":     {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
		Required: []string{"name", "dining_hall", "station", "calories", "protein_g"},
	}
}
