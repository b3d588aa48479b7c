package recommend

import (
	"log/slog"
	"sort"

	"diningagent/diet"
	"diningagent/menu"
	"diningagent/search"
)

// DefaultLimit bounds the number of recommendations returned for display.
const DefaultLimit = 25

// Options tune the rules-based recommender.
type Options struct {
	Limit  int
	Params search.Params
}

// Recommender is the deterministic, non-AI recommendation path.
type Recommender struct {
	opts Options
}

// New returns a recommender. Zero options fall back to defaults.
func New(opts Options) *Recommender {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	return &Recommender{opts: opts}
}

// Recommend selects admissible items for meal, ranked by protein content.
// When the goals carry free-text preferences, BM25 relevance against that
// text decides the order among items with equal protein. The result is empty,
// never nil, when nothing passes the dietary filter.
func (r *Recommender) Recommend(corpus menu.Corpus, goals diet.Goals, meal menu.Meal) []menu.Item {
	goals = goals.Normalized()

	items := diet.Filter(corpus.ForMeal(meal), goals.Restrictions, goals.Allergies)
	if len(items) == 0 {
		slog.Info("RECOMMEND: No admissible items", "meal", meal, "restrictions", goals.Restrictions, "allergies", goals.Allergies)
		return []menu.Item{}
	}

	if goals.Preferences != "" {
		items = rankByRelevance(items, goals.Preferences, r.opts.Params)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ProteinG > items[j].ProteinG
	})

	if len(items) > r.opts.Limit {
		items = items[:r.opts.Limit]
	}

	slog.Info("RECOMMEND: Ranked items", "meal", meal, "returned", len(items))
	return items
}

func rankByRelevance(items []menu.Item, preferences string, params search.Params) []menu.Item {
	idx := search.BuildItems(items, params)
	hits := idx.Search(preferences, 0)
	if len(hits) == 0 {
		return items
	}
	out := make([]menu.Item, 0, len(hits))
	for _, h := range hits {
		out = append(out, *h.Doc.Item)
	}
	return out
}
