package indexer

import "strings"

var nameReplacer = strings.NewReplacer("’", "'", "‘", "'", "—", "-")

// Preprocess collapses all whitespace runs, including the newlines between abilities,
// into single spaces.
func Preprocess(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeName trims a card name, collapses whitespace and replaces typographic
// apostrophes and dashes so "Urza’s Tower" and "Urza's Tower" are the same card.
func NormalizeName(name string) string {
	return Preprocess(nameReplacer.Replace(name))
}
