package coordinator

import (
	"fmt"
	"strings"

	"diningagent"
	"diningagent/diet"
	"diningagent/menu"
)

// NewPrompt builds the opening conversation for one planning run: a system
// turn carrying the user's goals, the per-meal target and the rules, then a
// user turn asking for the plan. Tools are described from tp.
func NewPrompt(goals diet.Goals, meal menu.Meal, tp diningagent.ToolProvider) Prompt {
	goals = goals.Normalized()

	available := tp.GetTools()
	specs := make([]Tool, 0, len(available))
	for _, tool := range available {
		specs = append(specs, Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}

	return Prompt{
		Messages: []Message{
			NewTextMessage(RoleSystem, systemPrompt(goals, meal, specs)),
			NewTextMessage(RoleUser, task(goals, meal)),
		},
		Tools: specs,
	}
}

func systemPrompt(goals diet.Goals, meal menu.Meal, specs []Tool) string {
	target := goals.MealTarget()

	var b strings.Builder
	fmt.Fprintf(&b, "You are a dining hall meal advisor planning %s for one student.\n\n", meal)

	b.WriteString("USER PROFILE:\n")
	fmt.Fprintf(&b, "- Dietary restrictions (hard constraints): %s\n", listOrNone(goals.Restrictions))
	fmt.Fprintf(&b, "- Allergies (hard constraints): %s\n", listOrNone(goals.Allergies))
	fmt.Fprintf(&b, "- Daily goals: %.0f kcal, %.0f g protein\n", goals.CalorieGoal, goals.ProteinGoal)
	fmt.Fprintf(&b, "- Target for this meal: about %.0f kcal and %.0f g protein (one third of the daily goals)\n", target.Calories, target.ProteinG)
	if goals.Preferences != "" {
		fmt.Fprintf(&b, "- Preferences: %s\n", goals.Preferences)
	}

	b.WriteString("\nTOOLS:\n")
	for _, spec := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	b.WriteString("Every tool only returns dishes served at this meal that the user is allowed to eat.\n")

	b.WriteString(`
RULES:
- Only recommend dishes that appeared in a tool result. Never invent dishes.
- Write each dish name exactly as the tools returned it.
- Put each chosen dish on its own line starting with "- ", followed by its portion ("1 serving", "2 servings" or "half portion") and its dining hall.
- Aim for the per-meal target. It is guidance, not a hard limit.
- Prefer two to four dishes from the same dining hall.
- Once you have enough information, stop calling tools and reply with the plan in under 150 words.
`)
	return b.String()
}

func task(goals diet.Goals, meal menu.Meal) string {
	if goals.Preferences != "" {
		return fmt.Sprintf("Plan my %s. I'm in the mood for: %s.", meal, goals.Preferences)
	}
	return fmt.Sprintf("Plan my %s.", meal)
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}
