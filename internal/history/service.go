// Package history records searches per user and reports paginated history and summary stats.
package history

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

const (
	// DefaultPerPage is used when a page size is not given.
	DefaultPerPage = 20
	// MaxPerPage caps the page size.
	MaxPerPage = 100
	// statsWindow is the number of most recent entries Stats summarizes.
	statsWindow = 1000
)

// Service reads and writes search history.
type Service struct {
	store  storage.HistoryStore
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a history service on store.
func NewService(store storage.HistoryStore, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends a search to the user's history.
func (s *Service) Record(ctx context.Context, userID int64, queryText string, resultCount int) error {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return fmt.Errorf("query text cannot be empty")
	}
	if resultCount < 0 {
		return fmt.Errorf("result count cannot be negative")
	}
	entry := &models.HistoryEntry{UserID: userID, QueryText: queryText, ResultCount: resultCount}
	if err := s.store.RecordSearch(ctx, entry); err != nil {
		return fmt.Errorf("record search for user %d: %w", userID, err)
	}
	s.logger.Debug("search recorded", zap.Int64("user_id", userID), zap.Int64("entry_id", entry.ID))
	return nil
}

// Page returns one page of a user's history, newest first. page starts at 1.
// Out-of-range values are clamped.
func (s *Service) Page(ctx context.Context, userID int64, page, perPage int) (*models.HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	total, err := s.store.CountHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	entries, err := s.store.ListHistory(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	return &models.HistoryPage{
		Searches:   entries,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + int64(perPage) - 1) / int64(perPage),
	}, nil
}

// Stats summarizes the user's most recent 1000 searches.
func (s *Service) Stats(ctx context.Context, userID int64) (*models.HistoryStats, error) {
	entries, err := s.store.ListHistory(ctx, userID, statsWindow, 0)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	stats := &models.HistoryStats{TotalSearches: len(entries)}
	if len(entries) == 0 {
		return stats, nil
	}
	for _, e := range entries {
		stats.TotalResults += e.ResultCount
	}
	stats.AvgResults = float64(stats.TotalResults) / float64(len(entries))
	mostRecent := entries[0].CreatedAt
	oldest := entries[len(entries)-1].CreatedAt
	stats.MostRecent = &mostRecent
	stats.Oldest = &oldest
	return stats, nil
}

// Delete removes one history entry.
func (s *Service) Delete(ctx context.Context, entryID int64) error {
	return s.store.DeleteHistoryEntry(ctx, entryID)
}

// Clear removes all of a user's history and returns the number of entries removed.
func (s *Service) Clear(ctx context.Context, userID int64) (int64, error) {
	n, err := s.store.ClearHistory(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear history for user %d: %w", userID, err)
	}
	s.logger.Info("history cleared", zap.Int64("user_id", userID), zap.Int64("removed", n))
	return n, nil
}
