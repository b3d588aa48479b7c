package search

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it on every non-alphanumeric rune.
// There is no stemming and no stopword removal: matching is exact per token.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
