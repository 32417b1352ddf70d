// Package models defines core data structures for cards, queries, search results, and history.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Card is a trading card as stored in the catalog. Text is the rules text used for embeddings.
type Card struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Text      string    `json:"text,omitempty" db:"text"`
	Type      string    `json:"type,omitempty" db:"type"`
	ManaCost  string    `json:"mana_cost,omitempty" db:"mana_cost"`
	Colors    []string  `json:"colors,omitempty" db:"colors"`
	Power     string    `json:"power,omitempty" db:"power"`
	Toughness string    `json:"toughness,omitempty" db:"toughness"`
	Loyalty   string    `json:"loyalty,omitempty" db:"loyalty"`
	Embedding []float32 `json:"-" db:"embedding"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasEmbedding reports whether the card carries a non-empty vector.
func (c *Card) HasEmbedding() bool {
	return c != nil && len(c.Embedding) > 0
}

// CardInput is the input for creating a card.
type CardInput struct {
	Name      string   `json:"name"`
	Text      string   `json:"text,omitempty"`
	Type      string   `json:"type,omitempty"`
	ManaCost  string   `json:"mana_cost,omitempty"`
	Colors    []string `json:"colors,omitempty"`
	Power     string   `json:"power,omitempty"`
	Toughness string   `json:"toughness,omitempty"`
	Loyalty   string   `json:"loyalty,omitempty"`
}

// Validate trims the input and returns an error when the name is missing.
func (in *CardInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Text = strings.TrimSpace(in.Text)
	if in.Name == "" {
		return fmt.Errorf("card name cannot be empty")
	}
	return nil
}

// Card converts the input into an unsaved Card.
func (in *CardInput) Card() *Card {
	return &Card{
		Name:      in.Name,
		Text:      in.Text,
		Type:      in.Type,
		ManaCost:  in.ManaCost,
		Colors:    append([]string(nil), in.Colors...),
		Power:     in.Power,
		Toughness: in.Toughness,
		Loyalty:   in.Loyalty,
	}
}

// IndexedEntry pairs a card with its embedding. Vector is empty when the card has not been embedded yet.
type IndexedEntry struct {
	Card   *Card
	Vector []float32
}

// ID returns the card ID, or 0 when Card is nil.
func (e IndexedEntry) ID() int64 {
	if e.Card == nil {
		return 0
	}
	return e.Card.ID
}

// HasVector reports whether the entry can take part in ranking.
func (e IndexedEntry) HasVector() bool {
	return e.Card != nil && len(e.Vector) > 0
}
