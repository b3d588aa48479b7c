package diet

import (
	"strings"

	"diningagent/menu"
)

const (
	DefaultCalorieGoal = 2000
	DefaultProteinGoal = 50

	// MealsPerDay splits daily goals into per-meal guidance.
	MealsPerDay = 3
)

// Goals describe what a user wants out of a meal. They are read-only inputs
// to both recommendation paths.
type Goals struct {
	Restrictions []string `json:"restrictions"`
	Allergies    []string `json:"allergies"`
	CalorieGoal  float64  `json:"calorie_goal"`
	ProteinGoal  float64  `json:"protein_goal"`
	Preferences  string   `json:"preferences"`
}

// Normalized returns a copy with canonical tags, duplicates removed and daily
// goals defaulted. A restriction or allergy spelled "none" (any case) means
// the user has none and is dropped, so a form's "None" choice never becomes
// a tag that fails closed and empties the menu.
func (g Goals) Normalized() Goals {
	out := Goals{
		Restrictions: normalizeTags(g.Restrictions),
		Allergies:    normalizeTags(g.Allergies),
		CalorieGoal:  g.CalorieGoal,
		ProteinGoal:  g.ProteinGoal,
		Preferences:  strings.TrimSpace(g.Preferences),
	}
	if out.CalorieGoal <= 0 {
		out.CalorieGoal = DefaultCalorieGoal
	}
	if out.ProteinGoal <= 0 {
		out.ProteinGoal = DefaultProteinGoal
	}
	return out
}

// Admits is IsAdmissible bound to the goals' restrictions and allergies.
func (g Goals) Admits(item menu.Item) bool {
	return IsAdmissible(item, g.Restrictions, g.Allergies)
}

// Target is per-meal nutrition guidance.
type Target struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
}

// MealTarget is one third of the daily goals. It is guidance for planning and
// is not enforced on any output.
func (g Goals) MealTarget() Target {
	n := g.Normalized()
	return Target{
		Calories: n.CalorieGoal / MealsPerDay,
		ProteinG: n.ProteinGoal / MealsPerDay,
	}
}

func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		n := menu.NormalizeTag(t)
		if n == "" || n == "none" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
