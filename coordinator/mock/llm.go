// Package mock provides a deterministic model client for local runs and
// demos. It follows a fixed script: search the menu, compare the best hits,
// then write a plan from the comparison.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"diningagent/coordinator"
)

const (
	defaultQuery = "high protein"
	searchTopK   = 5
	comparePicks = 3
	moodMarker   = "in the mood for:"
)

type LLMClient struct{}

func NewLLMClient() *LLMClient {
	return &LLMClient{}
}

type itemView struct {
	Name       string  `json:"name"`
	DiningHall string  `json:"dining_hall"`
	Calories   float64 `json:"calories"`
	ProteinG   float64 `json:"protein_g"`
}

// Invoke decides the next step from the tool results already in the prompt.
// Tool calls are written into the text the way a model without native tool
// calling would, then extracted with ParseModelOutput.
func (m *LLMClient) Invoke(ctx context.Context, prompt coordinator.Prompt) (coordinator.Response, error) {
	slog.Info("LLM_CLIENT: Invoked", "messages_len", len(prompt.Messages))

	// Phase 1: nothing searched yet
	if !prompt.HasToolResult("search_menu") {
		slog.Info("LLM_CLIENT: Returning search_menu call")
		return toolCall("search_menu", map[string]any{"query": query(prompt), "top_k": searchTopK})
	}

	// Phase 2: compare the best hits
	if !prompt.HasToolResult("compare_nutrition") {
		hits, err := latest(prompt, "search_menu", "results")
		if err != nil {
			return coordinator.Response{}, err
		}
		if len(hits) == 0 {
			slog.Info("LLM_CLIENT: Search found nothing, returning empty plan")
			return coordinator.Response{Content: "I could not find a dish on today's menu that matches your request."}, nil
		}
		names := make([]string, 0, comparePicks)
		for _, h := range hits[:min(len(hits), comparePicks)] {
			names = append(names, h.Name)
		}
		slog.Info("LLM_CLIENT: Returning compare_nutrition call", "items", names)
		return toolCall("compare_nutrition", map[string]any{"item_names": names})
	}

	// Phase 3: final plan
	items, err := latest(prompt, "compare_nutrition", "items")
	if err != nil {
		return coordinator.Response{}, err
	}
	slog.Info("LLM_CLIENT: Returning final plan", "items_len", len(items))
	return coordinator.Response{Content: plan(items)}, nil
}

func toolCall(name string, input map[string]any) (coordinator.Response, error) {
	b, err := json.Marshal(map[string]any{
		"tool_calls": []map[string]any{{"name": name, "input": input}},
	})
	if err != nil {
		return coordinator.Response{}, fmt.Errorf("mock: marshal %s call: %w", name, err)
	}
	resp := coordinator.Response{Content: string(b)}
	if err := resp.ParseModelOutput(); err != nil {
		return coordinator.Response{}, err
	}
	return resp, nil
}

// query pulls the preference out of the user's task, if any.
func query(prompt coordinator.Prompt) string {
	for _, msg := range prompt.Messages {
		if msg.Role != coordinator.RoleUser {
			continue
		}
		text := msg.Content.Join()
		i := strings.Index(text, moodMarker)
		if i < 0 {
			continue
		}
		if q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text[i+len(moodMarker):]), ".")); q != "" {
			return q
		}
	}
	return defaultQuery
}

// latest decodes the list under key from the most recent successful result
// of tool.
func latest(prompt coordinator.Prompt, tool, key string) ([]itemView, error) {
	results := prompt.ToolResults(tool)
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].IsError {
			continue
		}
		b, err := json.Marshal(results[i].Data[key])
		if err != nil {
			return nil, fmt.Errorf("mock: read %s result: %w", tool, err)
		}
		var items []itemView
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, fmt.Errorf("mock: read %s result: %w", tool, err)
		}
		return items, nil
	}
	return nil, nil
}

func plan(items []itemView) string {
	if len(items) == 0 {
		return "I could not find a dish on today's menu that matches your request."
	}
	var b strings.Builder
	b.WriteString("Here is your plan:\n")
	var kcal, protein float64
	for _, it := range items {
		fmt.Fprintf(&b, "- %s, 1 serving (%s)\n", it.Name, it.DiningHall)
		kcal += it.Calories
		protein += it.ProteinG
	}
	fmt.Fprintf(&b, "Total: about %.0f kcal and %.0f g protein.", kcal, protein)
	return b.String()
}
