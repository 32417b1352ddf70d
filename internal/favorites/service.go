// Package favorites keeps each user's list of favorite cards.
package favorites

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

var (
	ErrAlreadyFavorite = errors.New("card is already a favorite")
	ErrNotFavorite     = errors.New("card is not a favorite")
)

// Service adds, removes and lists favorites.
type Service struct {
	store  storage.FavoriteStore
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

// NewService creates a favorites service on store.
func NewService(store storage.FavoriteStore, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add marks a card as a favorite. Unknown users or cards yield storage.ErrNotFound.
func (s *Service) Add(ctx context.Context, userID, cardID int64) error {
	added, err := s.store.AddFavorite(ctx, userID, cardID)
	if err != nil {
		return err
	}
	if !added {
		return ErrAlreadyFavorite
	}
	s.logger.Debug("Favorite added", zap.Int64("user_id", userID), zap.Int64("card_id", cardID))
	return nil
}

// Remove unmarks a card.
func (s *Service) Remove(ctx context.Context, userID, cardID int64) error {
	removed, err := s.store.RemoveFavorite(ctx, userID, cardID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFavorite
	}
	s.logger.Debug("Favorite removed", zap.Int64("user_id", userID), zap.Int64("card_id", cardID))
	return nil
}

// List returns the user's favorite cards in the order they were added.
func (s *Service) List(ctx context.Context, userID int64) ([]*models.Card, error) {
	cards, err := s.store.ListFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cards == nil {
		cards = []*models.Card{}
	}
	return cards, nil
}
