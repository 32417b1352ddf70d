// Package cli formats search results, cards, and history for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/pkg/utils"
)

// OutputFormat selects how command output is rendered.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per item.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is indented JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseFormat validates a --format value. An empty value means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return OutputText, nil
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, compact, json)", s)
	}
}

// WriteSearchResults writes a search response in the given format.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputCompact:
		for i, r := range resp.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%d\t%s\n", i+1, r.Similarity, r.Card.ID, r.Card.Name)
		}
		return nil
	default:
		writeSearchText(w, resp)
		return nil
	}
}

func writeSearchText(w io.Writer, resp *models.SearchResponse) {
	if len(resp.Results) == 0 {
		msg := resp.Message
		if msg == "" {
			msg = "no results"
		}
		fmt.Fprintf(w, "\n%s for %q (%dms)\n", msg, resp.Query, resp.QueryTime)
		return
	}
	fmt.Fprintf(w, "\nTop %d of k=%d by %s for %q in %dms\n\n", len(resp.Results), resp.K, resp.Metric, resp.Query, resp.QueryTime)
	for i, r := range resp.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d | Similarity: %.4f\n", i+1, r.Similarity)
		writeCardText(w, r.Card)
		fmt.Fprintln(w)
	}
}

// WriteCard writes a single card. The text format includes its natural-language description.
func WriteCard(w io.Writer, card *models.Card, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, card)
	case OutputCompact:
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", card.ID, card.Name, card.ManaCost, card.Type)
		return nil
	default:
		writeCardText(w, card)
		fmt.Fprintf(w, "\n%s\n", card.Describe())
		return nil
	}
}

func writeCardText(w io.Writer, card *models.Card) {
	header := card.Name
	if card.ManaCost != "" {
		header += "  " + card.ManaCost
	}
	fmt.Fprintf(w, "[%d] %s\n", card.ID, header)
	if card.Type != "" {
		fmt.Fprintln(w, card.Type)
	}
	if card.Text != "" {
		fmt.Fprintln(w, utils.Truncate(card.Text, 200))
	}
	if card.Power != "" || card.Toughness != "" {
		fmt.Fprintf(w, "%s/%s\n", card.Power, card.Toughness)
	}
}

// WriteHistory writes one page of search history.
func WriteHistory(w io.Writer, page *models.HistoryPage, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, page)
	case OutputCompact:
		for _, e := range page.Searches {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", e.ID, e.CreatedAt.Format("2006-01-02T15:04:05"), e.ResultCount, e.QueryText)
		}
		return nil
	default:
		fmt.Fprintf(w, "Page %d of %d (%d searches)\n\n", page.Page, max(page.TotalPages, 1), page.Total)
		for _, e := range page.Searches {
			fmt.Fprintf(w, "%6d  %s  %3d results  %s\n", e.ID, e.CreatedAt.Format("2006-01-02 15:04"), e.ResultCount,
				utils.Truncate(e.QueryText, 60))
		}
		return nil
	}
}

// WriteCards writes a list of cards, such as a user's favorites.
func WriteCards(w io.Writer, cards []*models.Card, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, cards)
	case OutputCompact:
		for _, c := range cards {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.ManaCost, c.Type)
		}
		return nil
	default:
		if len(cards) == 0 {
			fmt.Fprintln(w, "No cards.")
			return nil
		}
		for i, c := range cards {
			if i > 0 {
				fmt.Fprintln(w, rule)
			}
			writeCardText(w, c)
		}
		return nil
	}
}

// WriteUsers writes accounts. Password hashes are never included.
func WriteUsers(w io.Writer, users []*models.User, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, users)
	case OutputCompact:
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\n", u.ID, u.Email, u.UserType, u.IsActive)
		}
		return nil
	default:
		for _, u := range users {
			status := "active"
			if !u.IsActive {
				status = "disabled"
			}
			fmt.Fprintf(w, "%6d  %-32s  %-14s  %-8s  %s\n", u.ID, u.Email, u.UserType, status, u.FullName())
		}
		return nil
	}
}

// WriteJSON writes v as indented JSON. Used for reports that have no text form.
func WriteJSON(w io.Writer, v interface{}) error {
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
