package search

import (
	"strings"

	"diningagent/menu"
)

// Document is the index-facing view of a menu item. Item points back into the
// caller's slice and is only used for lookup.
type Document struct {
	Tokens []string
	Item   *menu.Item
}

// Nutrition descriptor thresholds.
const (
	highProteinG   = 20
	lowCalorieMax  = 300
	heartyCalories = 700
	highFiberG     = 5
	lowFatMaxG     = 5
)

// Descriptors synthesizes keyword tags from an item's nutrition.
func Descriptors(it menu.Item) []string {
	var tags []string
	if it.ProteinG >= highProteinG {
		tags = append(tags, "high-protein")
	}
	if it.Calories > 0 && it.Calories <= lowCalorieMax {
		tags = append(tags, "low-calorie", "light")
	}
	if it.Calories >= heartyCalories {
		tags = append(tags, "hearty", "filling")
	}
	if it.FiberG >= highFiberG {
		tags = append(tags, "high-fiber")
	}
	if it.FatG > 0 && it.FatG <= lowFatMaxG {
		tags = append(tags, "low-fat")
	}
	return tags
}

// NewDocument tokenizes an item's name, station, flags, description and
// nutrition descriptors.
func NewDocument(it *menu.Item) Document {
	parts := []string{it.Name, it.Station, it.Description}
	parts = append(parts, it.DietaryFlags...)
	parts = append(parts, Descriptors(*it)...)
	return Document{Tokens: Tokenize(strings.Join(parts, " ")), Item: it}
}

// NewDocuments builds one document per item, preserving order.
func NewDocuments(items []menu.Item) []Document {
	docs := make([]Document, len(items))
	for i := range items {
		docs[i] = NewDocument(&items[i])
	}
	return docs
}
