package models

import (
	"fmt"
	"strings"
)

// SearchQuery is a semantic search request. RequesterID only decides whether the
// search is written to history; it never affects ranking.
type SearchQuery struct {
	Text        string `json:"text"`
	K           int    `json:"k,omitempty"`
	Metric      string `json:"metric,omitempty"`
	RequesterID *int64 `json:"requester_id,omitempty"`
}

// ApplyDefaults trims the text, fills an unset K and Metric, and caps K at maxK.
// It returns an error if the text is empty or K is negative.
func (q *SearchQuery) ApplyDefaults(defaultK, maxK int, defaultMetric string) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K < 0 {
		return fmt.Errorf("k must be at least 1, got %d", q.K)
	}
	if q.K == 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	if q.Metric == "" {
		q.Metric = defaultMetric
	}
	return nil
}
