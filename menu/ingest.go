package menu

import (
	"sort"
	"strings"
	"time"
)

// RawItem is an upstream food record before normalization. Nutrition values
// are nil when the upstream source did not report them.
type RawItem struct {
	Name        string
	Description string
	Calories    *float64
	ProteinG    *float64
	CarbsG      *float64
	FatG        *float64
	FiberG      *float64
	SodiumMG    *float64
	ServingSize string
	Icons       []string
}

// canonical dietary flags keyed by normalized upstream label
var flagAliases = map[string]string{
	"vegan":               "vegan",
	"plant based":         "vegan",
	"plant-based":         "vegan",
	"vegetarian":          "vegetarian",
	"gluten free":         "gluten-free",
	"gluten-free":         "gluten-free",
	"made without gluten": "gluten-free",
	"halal":               "halal",
	"kosher":              "kosher",
	"dairy free":          "dairy-free",
	"dairy-free":          "dairy-free",
	"nut free":            "nut-free",
	"nut-free":            "nut-free",
	"made without nuts":   "nut-free",
}

var allergenAliases = map[string]string{
	"milk":      "milk",
	"dairy":     "milk",
	"egg":       "egg",
	"eggs":      "egg",
	"soy":       "soy",
	"wheat":     "wheat",
	"gluten":    "gluten",
	"peanut":    "peanut",
	"peanuts":   "peanut",
	"tree nut":  "tree nut",
	"tree nuts": "tree nut",
	"fish":      "fish",
	"shellfish": "shellfish",
	"sesame":    "sesame",
}

// Ingest normalizes a raw upstream record into an Item.
func Ingest(raw RawItem, hall, station string, meal Meal, date time.Time) Item {
	flags, allergens := classifyIcons(raw.Icons)
	return Item{
		Name:         strings.TrimSpace(raw.Name),
		Station:      strings.TrimSpace(station),
		DiningHall:   strings.TrimSpace(hall),
		Description:  strings.TrimSpace(raw.Description),
		Calories:     orZero(raw.Calories),
		ProteinG:     orZero(raw.ProteinG),
		CarbsG:       orZero(raw.CarbsG),
		FatG:         orZero(raw.FatG),
		FiberG:       orZero(raw.FiberG),
		SodiumMG:     orZero(raw.SodiumMG),
		ServingSize:  strings.TrimSpace(raw.ServingSize),
		DietaryFlags: flags,
		Allergens:    allergens,
		Meal:         meal,
		Date:         date,
	}
}

// NormalizeTag lowercases a restriction or allergy tag and maps known aliases
// onto their canonical spelling. Unknown tags are returned lowercased.
func NormalizeTag(tag string) string {
	t := normalizeLabel(tag)
	if f, ok := flagAliases[t]; ok {
		return f
	}
	if a, ok := allergenAliases[t]; ok {
		return a
	}
	return t
}

func classifyIcons(icons []string) (flags, allergens []string) {
	fset := map[string]bool{}
	aset := map[string]bool{}
	for _, icon := range icons {
		label := normalizeLabel(icon)
		if label == "" {
			continue
		}
		if f, ok := flagAliases[label]; ok {
			fset[f] = true
			continue
		}
		label = strings.TrimPrefix(label, "contains ")
		if a, ok := allergenAliases[label]; ok {
			aset[a] = true
		}
	}
	return sortedKeys(fset), sortedKeys(aset)
}

// normalizeStored brings an item read from a snapshot up to the guarantees
// Ingest gives upstream records.
func normalizeStored(it Item) Item {
	it.Name = strings.TrimSpace(it.Name)
	it.Station = strings.TrimSpace(it.Station)
	it.DiningHall = strings.TrimSpace(it.DiningHall)
	it.Calories = max(it.Calories, 0)
	it.ProteinG = max(it.ProteinG, 0)
	it.CarbsG = max(it.CarbsG, 0)
	it.FatG = max(it.FatG, 0)
	it.FiberG = max(it.FiberG, 0)
	it.SodiumMG = max(it.SodiumMG, 0)
	it.DietaryFlags = canonicalTags(it.DietaryFlags)
	it.Allergens = canonicalTags(it.Allergens)
	return it
}

func canonicalTags(tags []string) []string {
	set := map[string]bool{}
	for _, tag := range tags {
		t := NormalizeTag(strings.TrimPrefix(normalizeLabel(tag), "contains "))
		if t != "" {
			set[t] = true
		}
	}
	return sortedKeys(set)
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func orZero(v *float64) float64 {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}
