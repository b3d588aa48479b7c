package search

import (
	"math"
	"sort"

	"diningagent/menu"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Params are the BM25 tuning constants.
type Params struct {
	K1 float64
	B  float64
}

// DefaultParams returns the standard Okapi defaults.
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

// Index is a BM25 index over one snapshot. It is never mutated after Build,
// so concurrent searches are safe.
type Index struct {
	params  Params
	docs    []Document
	df      map[string]int
	tf      []map[string]int
	lengths []int
	avgdl   float64
}

// Hit is a scored search result.
type Hit struct {
	Doc   Document
	Score float64
}

// Build indexes docs in a single pass. Zero-valued params fall back to the defaults.
func Build(docs []Document, params Params) *Index {
	if params.K1 <= 0 {
		params.K1 = DefaultK1
	}
	if params.B < 0 || params.B > 1 {
		params.B = DefaultB
	}

	idx := &Index{
		params:  params,
		docs:    make([]Document, len(docs)),
		df:      make(map[string]int),
		tf:      make([]map[string]int, len(docs)),
		lengths: make([]int, len(docs)),
	}
	copy(idx.docs, docs)

	total := 0
	for i, d := range docs {
		counts := make(map[string]int, len(d.Tokens))
		for _, tok := range d.Tokens {
			counts[tok]++
		}
		for tok := range counts {
			idx.df[tok]++
		}
		idx.tf[i] = counts
		idx.lengths[i] = len(d.Tokens)
		total += len(d.Tokens)
	}
	if len(docs) > 0 {
		idx.avgdl = float64(total) / float64(len(docs))
	}
	return idx
}

// BuildItems is shorthand for Build(NewDocuments(items), params).
func BuildItems(items []menu.Item, params Params) *Index {
	return Build(NewDocuments(items), params)
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int { return len(idx.docs) }

// Vocabulary returns the number of distinct indexed terms.
func (idx *Index) Vocabulary() int { return len(idx.df) }

// IDF returns the inverse document frequency of term, or 0 when the term is
// not in the vocabulary.
func (idx *Index) IDF(term string) float64 {
	df, ok := idx.df[term]
	if !ok {
		return 0
	}
	n := float64(len(idx.docs))
	return math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

// Search returns the top k documents by descending score. Ties keep corpus
// order. k <= 0 returns every document. An empty query returns nothing.
func (idx *Index) Search(query string, k int) []Hit {
	terms := distinct(Tokenize(query))
	if len(terms) == 0 || len(idx.docs) == 0 {
		return []Hit{}
	}

	hits := make([]Hit, len(idx.docs))
	for i, d := range idx.docs {
		hits[i] = Hit{Doc: d, Score: idx.score(i, terms)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })

	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func (idx *Index) score(i int, terms []string) float64 {
	avgdl := idx.avgdl
	if avgdl == 0 {
		avgdl = 1
	}
	k1, b := idx.params.K1, idx.params.B
	norm := 1 - b + b*float64(idx.lengths[i])/avgdl

	var score float64
	for _, t := range terms {
		tf := float64(idx.tf[i][t])
		if tf == 0 {
			continue
		}
		score += idx.IDF(t) * (tf * (k1 + 1)) / (tf + k1*norm)
	}
	return score
}

func distinct(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
