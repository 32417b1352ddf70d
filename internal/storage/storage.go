// Package storage defines persistence for cards, their embeddings, search history, user
// accounts and favorites.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/manasearch/internal/models"
)

var (
	// ErrNotFound is returned when a card, user, session or history entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique value, such as a user's email, is already taken.
	ErrConflict = errors.New("already exists")
)

// CardStore persists cards and their embeddings.
type CardStore interface {
	CreateCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, id int64) (*models.Card, error)
	GetCardByName(ctx context.Context, name string) (*models.Card, error)
	UpdateCard(ctx context.Context, card *models.Card) error
	// SetEmbedding replaces the card's vector wholesale. A nil vec clears it.
	SetEmbedding(ctx context.Context, id int64, vec []float32) error
	DeleteCard(ctx context.Context, id int64) error
	ListCards(ctx context.Context, offset, limit int) ([]*models.Card, error)
	CardIDs(ctx context.Context) ([]int64, error)
	// CardsWithoutEmbedding returns up to limit cards with rules text but no vector,
	// with ID greater than afterID, ordered by ID.
	CardsWithoutEmbedding(ctx context.Context, afterID int64, limit int) ([]*models.Card, error)
	CountCards(ctx context.Context) (int64, error)
	CountEmbedded(ctx context.Context) (int64, error)
	// Candidates returns every card that has an embedding, ordered by ID.
	Candidates(ctx context.Context) ([]models.IndexedEntry, error)
}

// HistoryStore persists per-user search history.
type HistoryStore interface {
	RecordSearch(ctx context.Context, entry *models.HistoryEntry) error
	// ListHistory returns a user's entries newest first.
	ListHistory(ctx context.Context, userID int64, limit, offset int) ([]*models.HistoryEntry, error)
	CountHistory(ctx context.Context, userID int64) (int64, error)
	DeleteHistoryEntry(ctx context.Context, id int64) error
	// ClearHistory removes all of a user's entries and returns how many were removed.
	ClearHistory(ctx context.Context, userID int64) (int64, error)
}

// UserStore persists accounts and their login sessions.
type UserStore interface {
	// CreateUser inserts u and sets its ID. A taken email returns ErrConflict.
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	// DeleteUser removes the user with their sessions and favorites.
	DeleteUser(ctx context.Context, id int64) error

	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeactivateSession(ctx context.Context, id string) error
	// DeactivateUserSessions ends every active session of a user and returns how many it ended.
	DeactivateUserSessions(ctx context.Context, userID int64) (int64, error)
}

// FavoriteStore persists users' favorite cards.
type FavoriteStore interface {
	// AddFavorite returns false when the card already is a favorite. An unknown user or card
	// returns ErrNotFound.
	AddFavorite(ctx context.Context, userID, cardID int64) (bool, error)
	// RemoveFavorite returns false when the card was not a favorite.
	RemoveFavorite(ctx context.Context, userID, cardID int64) (bool, error)
	// ListFavorites returns a user's favorite cards in the order they were added.
	ListFavorites(ctx context.Context, userID int64) ([]*models.Card, error)
}

// Storage combines card, history, account and favorite persistence.
type Storage interface {
	CardStore
	HistoryStore
	UserStore
	FavoriteStore
	Close() error
}
