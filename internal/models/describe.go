package models

import (
	"fmt"
	"regexp"
	"strings"
)

const describeTextLimit = 200

var (
	reminderText = regexp.MustCompile(`\([^)]*\)`)
	mainTypes    = []string{"Creature", "Instant", "Sorcery", "Enchantment", "Artifact", "Planeswalker", "Land"}
)

// Describe returns a one-paragraph natural-language description of the card, e.g.
// "Lightning Bolt is a red Instant that costs {R}. Lightning Bolt deals 3 damage to any target."
func (c *Card) Describe() string {
	typeLine := c.Type
	if typeLine == "" {
		typeLine = "Card"
	}
	switch len(c.Colors) {
	case 0:
	case 1:
		typeLine = insertBeforeMainType(typeLine, strings.ToLower(c.Colors[0]))
	default:
		colors := make([]string, len(c.Colors))
		for i, col := range c.Colors {
			colors[i] = strings.ToLower(col)
		}
		typeLine = insertBeforeMainType(typeLine, fmt.Sprintf("multicolor (%s)", strings.Join(colors, ", ")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s is a %s", c.Name, typeLine)
	if c.ManaCost != "" {
		fmt.Fprintf(&b, " that costs %s", c.ManaCost)
	}
	b.WriteString(".")
	if c.Power != "" && c.Toughness != "" {
		fmt.Fprintf(&b, " It is a %s/%s creature.", c.Power, c.Toughness)
	}
	if c.Loyalty != "" {
		fmt.Fprintf(&b, " It has %s loyalty.", c.Loyalty)
	}
	if text := cleanRulesText(c.Text); text != "" {
		b.WriteString(" ")
		b.WriteString(text)
	}
	return b.String()
}

// insertBeforeMainType places word before the first main card type in typeLine,
// so "Legendary Creature" becomes "Legendary blue Creature".
func insertBeforeMainType(typeLine, word string) string {
	parts := strings.Fields(typeLine)
	for i, part := range parts {
		for _, mt := range mainTypes {
			if strings.Contains(part, mt) {
				out := make([]string, 0, len(parts)+1)
				out = append(out, parts[:i]...)
				out = append(out, word)
				out = append(out, parts[i:]...)
				return strings.Join(out, " ")
			}
		}
	}
	return word + " " + typeLine
}

// cleanRulesText strips reminder text, collapses whitespace, and keeps the first sentence
// (or the first 200 bytes) of long rules text.
func cleanRulesText(text string) string {
	text = strings.Join(strings.Fields(reminderText.ReplaceAllString(text, "")), " ")
	if len(text) <= describeTextLimit {
		return text
	}
	if first, _, ok := strings.Cut(text, ". "); ok && first != "" && len(first) < describeTextLimit {
		return first + "."
	}
	return text[:describeTextLimit] + "..."
}
