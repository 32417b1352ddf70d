package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/manasearch/internal/models"
)

// SQLiteStorage implements Storage using SQLite. Embeddings are stored as float32 blobs and
// candidates are served by a full scan of embedded cards.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise open its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		mana_cost TEXT NOT NULL DEFAULT '',
		colors TEXT NOT NULL DEFAULT '',
		power TEXT NOT NULL DEFAULT '',
		toughness TEXT NOT NULL DEFAULT '',
		loyalty TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_cards_name ON cards(name);

	CREATE TABLE IF NOT EXISTS search_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		query_text TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_user_created ON search_history(user_id, created_at);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		user_type TEXT NOT NULL DEFAULT 'client',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		last_activity TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS favorites (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		card_id INTEGER NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, card_id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

const sqliteCardColumns = `id, name, text, type, mana_cost, colors, power, toughness, loyalty, embedding, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCard(row rowScanner) (*models.Card, error) {
	var card models.Card
	var colors string
	var embedding []byte
	if err := row.Scan(&card.ID, &card.Name, &card.Text, &card.Type, &card.ManaCost, &colors,
		&card.Power, &card.Toughness, &card.Loyalty, &embedding, &card.CreatedAt, &card.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if card.Colors, err = decodeColors(colors); err != nil {
		return nil, err
	}
	if card.Embedding, err = decodeVector(embedding); err != nil {
		return nil, fmt.Errorf("card %d: %w", card.ID, err)
	}
	return &card, nil
}

// CreateCard inserts a card and sets its ID and timestamps.
func (s *SQLiteStorage) CreateCard(ctx context.Context, card *models.Card) error {
	colors, err := encodeColors(card.Colors)
	if err != nil {
		return err
	}
	now := time.Now()
	card.CreatedAt = now
	card.UpdatedAt = now

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO cards (name, text, type, mana_cost, colors, power, toughness, loyalty, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.Name, card.Text, card.Type, card.ManaCost, colors, card.Power, card.Toughness, card.Loyalty,
		vectorBlob(card.Embedding), card.CreatedAt, card.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	card.ID, err = result.LastInsertId()
	return err
}

// GetCard returns a card by ID.
func (s *SQLiteStorage) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	card, err := scanSQLiteCard(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCardColumns+` FROM cards WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	return card, err
}

// GetCardByName returns the lowest-ID card with exactly the given name.
func (s *SQLiteStorage) GetCardByName(ctx context.Context, name string) (*models.Card, error) {
	card, err := scanSQLiteCard(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCardColumns+` FROM cards WHERE name = ? ORDER BY id LIMIT 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %q: %w", name, ErrNotFound)
	}
	return card, err
}

// UpdateCard updates a card's attributes. The embedding is left unchanged; use SetEmbedding.
func (s *SQLiteStorage) UpdateCard(ctx context.Context, card *models.Card) error {
	colors, err := encodeColors(card.Colors)
	if err != nil {
		return err
	}
	card.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx,
		`UPDATE cards SET name = ?, text = ?, type = ?, mana_cost = ?, colors = ?, power = ?,
		 toughness = ?, loyalty = ?, updated_at = ? WHERE id = ?`,
		card.Name, card.Text, card.Type, card.ManaCost, colors, card.Power, card.Toughness,
		card.Loyalty, card.UpdatedAt, card.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, "card", card.ID)
}

// SetEmbedding replaces the card's embedding.
func (s *SQLiteStorage) SetEmbedding(ctx context.Context, id int64, vec []float32) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE cards SET embedding = ?, updated_at = ? WHERE id = ?`,
		vectorBlob(vec), time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, "card", id)
}

// DeleteCard removes a card by ID.
func (s *SQLiteStorage) DeleteCard(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result, "card", id)
}

// ListCards returns cards ordered by ID with offset and limit.
func (s *SQLiteStorage) ListCards(ctx context.Context, offset, limit int) ([]*models.Card, error) {
	return s.queryCards(ctx,
		`SELECT `+sqliteCardColumns+` FROM cards ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
}

// CardIDs returns every card ID in ascending order.
func (s *SQLiteStorage) CardIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM cards ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CardsWithoutEmbedding returns cards with text and no embedding, after afterID.
func (s *SQLiteStorage) CardsWithoutEmbedding(ctx context.Context, afterID int64, limit int) ([]*models.Card, error) {
	return s.queryCards(ctx,
		`SELECT `+sqliteCardColumns+` FROM cards
		 WHERE embedding IS NULL AND text != '' AND id > ? ORDER BY id LIMIT ?`, afterID, limit)
}

// CountCards returns the total number of cards.
func (s *SQLiteStorage) CountCards(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&count)
	return count, err
}

// CountEmbedded returns the number of cards that have an embedding.
func (s *SQLiteStorage) CountEmbedded(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE embedding IS NOT NULL`).Scan(&count)
	return count, err
}

// Candidates returns every embedded card, ordered by ID.
func (s *SQLiteStorage) Candidates(ctx context.Context) ([]models.IndexedEntry, error) {
	cards, err := s.queryCards(ctx,
		`SELECT `+sqliteCardColumns+` FROM cards WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return toEntries(cards), nil
}

func (s *SQLiteStorage) queryCards(ctx context.Context, query string, args ...any) ([]*models.Card, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		card, err := scanSQLiteCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// RecordSearch appends a history entry and sets its ID and timestamp.
func (s *SQLiteStorage) RecordSearch(ctx context.Context, entry *models.HistoryEntry) error {
	if strings.TrimSpace(entry.QueryText) == "" {
		return fmt.Errorf("query text cannot be empty")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history (user_id, query_text, result_count, created_at) VALUES (?, ?, ?, ?)`,
		entry.UserID, entry.QueryText, entry.ResultCount, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	entry.ID, err = result.LastInsertId()
	return err
}

// ListHistory returns a user's history entries, newest first.
func (s *SQLiteStorage) ListHistory(ctx context.Context, userID int64, limit, offset int) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, query_text, result_count, created_at FROM search_history
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.QueryText, &e.ResultCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CountHistory returns the number of history entries for a user.
func (s *SQLiteStorage) CountHistory(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_history WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

// DeleteHistoryEntry removes one history entry.
func (s *SQLiteStorage) DeleteHistoryEntry(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result, "history entry", id)
}

// ClearHistory removes all history entries for a user.
func (s *SQLiteStorage) ClearHistory(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// vectorBlob returns the column value for a vector; an empty vector is stored as NULL.
func vectorBlob(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return encodeVector(v)
}

func requireAffected(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
