package menu

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Corpus is an immutable snapshot of menu items for one date.
type Corpus struct {
	Date  time.Time `json:"date"`
	Items []Item    `json:"items"`
}

// NewCorpus builds a snapshot that owns a copy of items.
func NewCorpus(date time.Time, items []Item) Corpus {
	c := Corpus{Date: date, Items: make([]Item, len(items))}
	copy(c.Items, items)
	return c
}

// ForMeal returns the items served at meal, in corpus order.
func (c Corpus) ForMeal(meal Meal) []Item {
	out := make([]Item, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Meal == meal {
			out = append(out, it)
		}
	}
	return out
}

// Halls lists the dining halls present in the snapshot, in first-seen order.
func (c Corpus) Halls() []string {
	seen := map[string]bool{}
	var halls []string
	for _, it := range c.Items {
		if it.DiningHall == "" || seen[it.DiningHall] {
			continue
		}
		seen[it.DiningHall] = true
		halls = append(halls, it.DiningHall)
	}
	return halls
}

// Len returns the number of items in the snapshot.
func (c Corpus) Len() int { return len(c.Items) }

// Clone returns a deep copy so callers can never alias another snapshot's slices.
func (c Corpus) Clone() Corpus {
	out := Corpus{Date: c.Date, Items: make([]Item, len(c.Items))}
	for i, it := range c.Items {
		it.DietaryFlags = slices.Clone(it.DietaryFlags)
		it.Allergens = slices.Clone(it.Allergens)
		out.Items[i] = it
	}
	return out
}

// DecodeCorpus parses a JSON snapshot. Stored items are normalized the same
// way Ingest normalizes upstream records: tags are canonical and deduplicated,
// negative nutrition values become zero, and missing flags or allergens
// become empty sets.
func DecodeCorpus(b []byte) (Corpus, error) {
	var c Corpus
	if err := json.Unmarshal(b, &c); err != nil {
		return Corpus{}, fmt.Errorf("parse corpus: %w", err)
	}
	for i := range c.Items {
		c.Items[i] = normalizeStored(c.Items[i])
	}
	return c, nil
}

// EncodeCorpus serializes a snapshot as indented JSON.
func EncodeCorpus(c Corpus) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
