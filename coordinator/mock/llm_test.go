package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diningagent/coordinator"
	"diningagent/diet"
	"diningagent/menu"
)

var lunchDate = time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)

func testCorpus() menu.Corpus {
	return menu.NewCorpus(lunchDate, []menu.Item{
		{Name: "Grilled Chicken", Station: "Grill", DiningHall: "Commons", Calories: 320, ProteinG: 45,
			DietaryFlags: []string{"gluten-free", "halal"}, Meal: menu.Lunch, Date: lunchDate},
		{Name: "Veggie Wrap", Station: "Deli", DiningHall: "Commons", Calories: 280, ProteinG: 12,
			DietaryFlags: []string{"vegan", "vegetarian"}, Allergens: []string{"wheat"}, Meal: menu.Lunch, Date: lunchDate},
		{Name: "Tofu Stir Fry", Station: "Wok", DiningHall: "Berkeley", Calories: 410, ProteinG: 22,
			DietaryFlags: []string{"vegan", "vegetarian"}, Allergens: []string{"soy"}, Meal: menu.Lunch, Date: lunchDate},
		{Name: "Chicken Caesar Salad", Station: "Salad Bar", DiningHall: "Commons", Calories: 450, ProteinG: 30,
			Allergens: []string{"egg", "milk"}, Meal: menu.Lunch, Date: lunchDate},
	})
}

func TestMockLLMClient_Invoke(t *testing.T) {
	llm := NewLLMClient()
	ctx := context.Background()

	t.Run("phase 1: searches for the stated preference", func(t *testing.T) {
		prompt := coordinator.Prompt{}.Append(
			coordinator.NewTextMessage(coordinator.RoleUser, "Plan my lunch. I'm in the mood for: spicy tofu."),
		)
		resp, err := llm.Invoke(ctx, prompt)
		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "search_menu", resp.ToolCalls[0].Name)
		assert.Equal(t, "spicy tofu", resp.ToolCalls[0].Input["query"])
		assert.Empty(t, resp.Content)
	})

	t.Run("phase 1: default query", func(t *testing.T) {
		prompt := coordinator.Prompt{}.Append(coordinator.NewTextMessage(coordinator.RoleUser, "Plan my lunch."))
		resp, err := llm.Invoke(ctx, prompt)
		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, defaultQuery, resp.ToolCalls[0].Input["query"])
	})

	t.Run("phase 2: compares the top hits", func(t *testing.T) {
		prompt := coordinator.Prompt{}.Append(
			coordinator.NewTextMessage(coordinator.RoleUser, "Plan my lunch."),
			coordinator.NewToolResultMessage([]coordinator.ToolResult{{
				ToolUseID: "1",
				ToolName:  "search_menu",
				Data: map[string]any{"results": []any{
					map[string]any{"name": "A"}, map[string]any{"name": "B"},
					map[string]any{"name": "C"}, map[string]any{"name": "D"},
				}},
			}}),
		)
		resp, err := llm.Invoke(ctx, prompt)
		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "compare_nutrition", resp.ToolCalls[0].Name)
		assert.Equal(t, []any{"A", "B", "C"}, resp.ToolCalls[0].Input["item_names"])
	})

	t.Run("phase 2: empty search ends the run", func(t *testing.T) {
		prompt := coordinator.Prompt{}.Append(
			coordinator.NewToolResultMessage([]coordinator.ToolResult{{
				ToolUseID: "1", ToolName: "search_menu", Data: map[string]any{"results": []any{}},
			}}),
		)
		resp, err := llm.Invoke(ctx, prompt)
		require.NoError(t, err)
		assert.Empty(t, resp.ToolCalls)
		assert.Contains(t, resp.Content, "could not find")
	})

	t.Run("phase 3: writes the plan", func(t *testing.T) {
		prompt := coordinator.Prompt{}.Append(
			coordinator.NewToolResultMessage([]coordinator.ToolResult{
				{ToolUseID: "1", ToolName: "search_menu", Data: map[string]any{"results": []any{map[string]any{"name": "Grilled Chicken"}}}},
				{ToolUseID: "2", ToolName: "compare_nutrition", Data: map[string]any{"items": []any{
					map[string]any{"name": "Grilled Chicken", "dining_hall": "Commons", "calories": 320.0, "protein_g": 45.0},
				}}},
			}),
		)
		resp, err := llm.Invoke(ctx, prompt)
		require.NoError(t, err)
		assert.Empty(t, resp.ToolCalls)
		assert.Contains(t, resp.Content, "- Grilled Chicken, 1 serving (Commons)")
		assert.Contains(t, resp.Content, "about 320 kcal and 45 g protein")
	})
}

func TestMockLLMClient_WithCoordinator(t *testing.T) {
	tests := []struct {
		name      string
		goals     diet.Goals
		wantPicks []string
	}{
		{
			name:      "default query finds high protein dishes",
			goals:     diet.Goals{},
			wantPicks: []string{"Grilled Chicken", "Chicken Caesar Salad", "Tofu Stir Fry"},
		},
		{
			name:      "preference narrows the search",
			goals:     diet.Goals{Restrictions: []string{"vegan"}, Preferences: "spicy tofu"},
			wantPicks: []string{"Tofu Stir Fry"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := coordinator.New(NewLLMClient(), coordinator.Options{})
			res, err := c.Run(context.Background(), testCorpus(), tt.goals, menu.Lunch)
			require.NoError(t, err)
			assert.False(t, res.Fallback)

			names := make([]string, 0, len(res.Picks))
			for _, it := range res.Picks {
				names = append(names, it.Name)
			}
			assert.ElementsMatch(t, tt.wantPicks, names)
			assert.Equal(t, 3, res.Rounds)
		})
	}
}
