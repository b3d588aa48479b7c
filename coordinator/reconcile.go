package coordinator

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"diningagent/menu"
)

// Reconcile derives the structured plate from the model's plan text. Only
// admissible items can be picked: a dish the model mentions that is not in
// admissible is dropped. Longer names win over names they contain, matches
// never overlap, and picks are ordered by first mention with duplicates
// removed.
func Reconcile(plan string, admissible []menu.Item) menu.Plate {
	text := strings.ToLower(plan)

	// Group items by name so a dish served at several halls resolves once.
	byName := map[string][]menu.Item{}
	var names []string
	for _, it := range admissible {
		name := strings.ToLower(strings.TrimSpace(it.Name))
		if name == "" {
			continue
		}
		if _, ok := byName[name]; !ok {
			names = append(names, name)
		}
		byName[name] = append(byName[name], it)
	}
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	type mention struct {
		name string
		pos  int
	}
	var claimed [][2]int
	var mentions []mention
	for _, name := range names {
		first := -1
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], name)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(name)
			if wordBounded(text, start, end) && !overlaps(claimed, start, end) {
				claimed = append(claimed, [2]int{start, end})
				if first < 0 {
					first = start
				}
			}
			from = start + 1
		}
		if first >= 0 {
			mentions = append(mentions, mention{name: name, pos: first})
		}
	}
	sort.SliceStable(mentions, func(i, j int) bool { return mentions[i].pos < mentions[j].pos })

	plate := menu.Plate{Portions: make([]menu.Portion, 0, len(mentions))}
	for _, m := range mentions {
		line, col := lineAt(text, m.pos)
		label, servings := parsePortion(line, col)
		plate.Portions = append(plate.Portions, menu.Portion{
			Item:     pickHall(byName[m.name], line),
			Label:    label,
			Servings: servings,
		})
	}
	return plate
}

// pickHall prefers the item whose dining hall is named on the same line.
func pickHall(items []menu.Item, line string) menu.Item {
	for _, it := range items {
		if hall := strings.ToLower(strings.TrimSpace(it.DiningHall)); hall != "" && strings.Contains(line, hall) {
			return it
		}
	}
	return items[0]
}

func wordBounded(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWord(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWord(r) {
			return false
		}
	}
	return true
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, sp := range spans {
		if start < sp[1] && sp[0] < end {
			return true
		}
	}
	return false
}

// lineAt returns the line containing pos and pos's offset within it.
func lineAt(s string, pos int) (string, int) {
	start := strings.LastIndexByte(s[:pos], '\n') + 1
	end := strings.IndexByte(s[pos:], '\n')
	if end < 0 {
		end = len(s)
	} else {
		end += pos
	}
	return s[start:end], pos - start
}

const maxServings = 5

var (
	halfPortion  = regexp.MustCompile(`\bhalf\s+(?:an?\s+)?(?:portion|serving|helping|order)s?\b`)
	countPortion = regexp.MustCompile(`\b(\d+(?:\.\d+|/\d+)?)\s*(?:servings?|portions?|helpings?)\b`)
	timesPortion = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*x\b`)
	wordPortion  = regexp.MustCompile(`\b(one|two|three|double)\s+(?:servings?|portions?|helpings?)\b`)

	portionWords = map[string]float64{"one": 1, "two": 2, "three": 3, "double": 2}
)

// parsePortion reads a serving size from a plan line. When the line holds
// several sizes the one closest to the dish at col wins. Lines without a size
// get the default single serving.
func parsePortion(line string, col int) (string, float64) {
	best, bestDist := 0.0, -1
	consider := func(start, end int, servings float64) {
		if servings <= 0 || servings > maxServings {
			return
		}
		dist := start - col
		if end <= col {
			dist = col - end
		}
		dist = max(dist, 0)
		if bestDist < 0 || dist < bestDist {
			best, bestDist = servings, dist
		}
	}

	for _, loc := range halfPortion.FindAllStringIndex(line, -1) {
		consider(loc[0], loc[1], 0.5)
	}
	for _, re := range []*regexp.Regexp{countPortion, timesPortion} {
		for _, m := range re.FindAllStringSubmatchIndex(line, -1) {
			if n, ok := parseAmount(line[m[2]:m[3]]); ok {
				consider(m[0], m[1], n)
			}
		}
	}
	for _, m := range wordPortion.FindAllStringSubmatchIndex(line, -1) {
		consider(m[0], m[1], portionWords[line[m[2]:m[3]]])
	}

	if bestDist < 0 {
		return menu.DefaultPortion, 1
	}
	return portionLabel(best), best
}

// parseAmount reads "2", "1.5" or "1/2".
func parseAmount(s string) (float64, bool) {
	num, den, isFraction := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	if !isFraction {
		return n, true
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}

func portionLabel(servings float64) string {
	switch servings {
	case 0.5:
		return "half portion"
	case 1:
		return menu.DefaultPortion
	}
	return fmt.Sprintf("%s servings", strconv.FormatFloat(servings, 'f', -1, 64))
}
