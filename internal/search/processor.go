package search

import (
	"fmt"
	"strings"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/vector"
)

// ProcessQuery trims the query text and checks text, k and metric. It does no I/O.
func ProcessQuery(query *models.SearchQuery) (vector.Metric, error) {
	if query == nil {
		return "", ErrEmptyQuery
	}
	metric, err := vector.ParseMetric(query.Metric)
	if err != nil {
		return "", err
	}
	if query.K < 1 {
		return "", fmt.Errorf("%w, got %d", ErrInvalidK, query.K)
	}
	query.Text = strings.TrimSpace(query.Text)
	if query.Text == "" {
		return "", ErrEmptyQuery
	}
	return metric, nil
}
