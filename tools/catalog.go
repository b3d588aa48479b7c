package tools

import (
	"log/slog"
	"sort"
	"strings"

	"diningagent/diet"
	"diningagent/menu"
	"diningagent/search"
)

// Catalog is the admissible slice of one corpus snapshot for one meal and one
// set of goals, together with its BM25 index. Every tool reads from a Catalog,
// so no tool can surface an item the user may not eat.
type Catalog struct {
	items []menu.Item
	index *search.Index
}

// NewCatalog filters corpus down to meal and goals and indexes the result.
func NewCatalog(corpus menu.Corpus, goals diet.Goals, meal menu.Meal, params search.Params) *Catalog {
	goals = goals.Normalized()
	items := diet.Filter(corpus.ForMeal(meal), goals.Restrictions, goals.Allergies)
	c := &Catalog{
		items: items,
		index: search.BuildItems(items, params),
	}
	slog.Debug("TOOLS: Catalog indexed", "meal", meal, "items", len(items), "vocabulary", c.index.Vocabulary())
	return c
}

func (c *Catalog) Len() int { return len(c.items) }

// Items returns a copy of the admissible items in corpus order.
func (c *Catalog) Items() []menu.Item {
	out := make([]menu.Item, len(c.items))
	copy(out, c.items)
	return out
}

// Search returns up to k items with a positive BM25 score for query.
func (c *Catalog) Search(query string, k int) []ScoredItem {
	hits := c.index.Search(query, k)
	out := make([]ScoredItem, 0, len(hits))
	for _, h := range hits {
		if h.Score <= 0 {
			continue
		}
		out = append(out, ScoredItem{Item: *h.Doc.Item, Score: h.Score})
	}
	return out
}

// WithFlag returns admissible items carrying the normalized flag.
func (c *Catalog) WithFlag(flag string) []menu.Item {
	tag := menu.NormalizeTag(flag)
	out := make([]menu.Item, 0)
	if tag == "" {
		return out
	}
	for _, it := range c.items {
		if it.HasFlag(tag) {
			out = append(out, it)
		}
	}
	return out
}

// Lookup resolves a dish name, preferring a case-insensitive exact match.
// Otherwise the name may be part of exactly one dish name; when it is part of
// several the shortest wins, and a tie between different dishes is ambiguous
// and resolves nothing.
func (c *Catalog) Lookup(name string) (menu.Item, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return menu.Item{}, false
	}
	for _, it := range c.items {
		if strings.ToLower(it.Name) == want {
			return it, true
		}
	}

	var partial []menu.Item
	for _, it := range c.items {
		if strings.Contains(strings.ToLower(it.Name), want) {
			partial = append(partial, it)
		}
	}
	if len(partial) == 0 {
		return menu.Item{}, false
	}
	sort.SliceStable(partial, func(i, j int) bool { return len(partial[i].Name) < len(partial[j].Name) })
	if len(partial) > 1 && len(partial[1].Name) == len(partial[0].Name) &&
		!strings.EqualFold(partial[1].Name, partial[0].Name) {
		return menu.Item{}, false
	}
	return partial[0], true
}

// ScoredItem is a search result.
type ScoredItem struct {
	Item  menu.Item
	Score float64
}

// ItemView is the shape of an item inside tool output.
type ItemView struct {
	Name         string   `json:"name"`
	DiningHall   string   `json:"dining_hall"`
	Station      string   `json:"station"`
	Calories     float64  `json:"calories"`
	ProteinG     float64  `json:"protein_g"`
	CarbsG       float64  `json:"carbs_g"`
	FatG         float64  `json:"fat_g"`
	FiberG       float64  `json:"fiber_g"`
	DietaryFlags []string `json:"dietary_flags"`
	Allergens    []string `json:"allergens"`
	Score        float64  `json:"score,omitempty"`
}

func newItemView(it menu.Item) ItemView {
	v := ItemView{
		Name:         it.Name,
		DiningHall:   it.DiningHall,
		Station:      it.Station,
		Calories:     it.Calories,
		ProteinG:     it.ProteinG,
		CarbsG:       it.CarbsG,
		FatG:         it.FatG,
		FiberG:       it.FiberG,
		DietaryFlags: it.DietaryFlags,
		Allergens:    it.Allergens,
	}
	if v.DietaryFlags == nil {
		v.DietaryFlags = []string{}
	}
	if v.Allergens == nil {
		v.Allergens = []string{}
	}
	return v
}
