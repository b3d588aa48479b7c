package menu

import (
	"fmt"
	"strings"
	"time"
)

// Meal is a dining period.
type Meal string

const (
	Breakfast Meal = "breakfast"
	Lunch     Meal = "lunch"
	Dinner    Meal = "dinner"
)

// Meals lists every meal period in serving order.
var Meals = []Meal{Breakfast, Lunch, Dinner}

// ParseMeal accepts a meal name in any case.
func ParseMeal(s string) (Meal, error) {
	switch m := Meal(strings.ToLower(strings.TrimSpace(s))); m {
	case Breakfast, Lunch, Dinner:
		return m, nil
	}
	return "", fmt.Errorf("unknown meal %q", s)
}

// CurrentMeal returns the meal being served at t using the standard serving windows.
func CurrentMeal(t time.Time) Meal {
	mins := t.Hour()*60 + t.Minute()
	switch {
	case mins < 11*60+30:
		return Breakfast
	case mins < 15*60:
		return Lunch
	case mins < 20*60:
		return Dinner
	default:
		return Breakfast
	}
}

// Item is one dish served at one hall for one meal period.
//
// Flags and allergens are normalized once by Ingest and must not be mutated
// afterwards. Nutrition values are zero when upstream data is missing.
type Item struct {
	Name         string    `json:"name"`
	Station      string    `json:"station"`
	DiningHall   string    `json:"dining_hall"`
	Description  string    `json:"description,omitempty"`
	Calories     float64   `json:"calories"`
	ProteinG     float64   `json:"protein_g"`
	CarbsG       float64   `json:"carbs_g"`
	FatG         float64   `json:"fat_g"`
	FiberG       float64   `json:"fiber_g,omitempty"`
	SodiumMG     float64   `json:"sodium_mg,omitempty"`
	ServingSize  string    `json:"serving_size,omitempty"`
	DietaryFlags []string  `json:"dietary_flags"`
	Allergens    []string  `json:"allergens"`
	Meal         Meal      `json:"meal"`
	Date         time.Time `json:"date"`
}

// HasFlag reports whether the item carries the dietary flag.
func (it Item) HasFlag(flag string) bool {
	return contains(it.DietaryFlags, flag)
}

// HasAllergen reports whether the item lists the allergen.
func (it Item) HasAllergen(allergen string) bool {
	return contains(it.Allergens, allergen)
}

// Key identifies an item within a snapshot.
func (it Item) Key() string {
	return it.DiningHall + "::" + it.Station + "::" + it.Name
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
