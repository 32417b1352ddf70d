package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/vector"
)

// PostgresStorage implements Storage on PostgreSQL with the pgvector extension.
// It also implements vector.Prefilter, ordering by the pgvector distance operators.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects to dsn, enables pgvector, and initializes the schema.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStorage{db: db}, nil
}

func initPostgresSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS cards (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		mana_cost TEXT NOT NULL DEFAULT '',
		colors TEXT[] NOT NULL DEFAULT '{}',
		power TEXT NOT NULL DEFAULT '',
		toughness TEXT NOT NULL DEFAULT '',
		loyalty TEXT NOT NULL DEFAULT '',
		embedding vector,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_cards_name ON cards(name);

	CREATE TABLE IF NOT EXISTS search_history (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		query_text TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_history_user_created ON search_history(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		user_type TEXT NOT NULL DEFAULT 'client',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL,
		last_activity TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS favorites (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		card_id BIGINT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, card_id)
	);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

const pgCardColumns = `id, name, text, type, mana_cost, colors, power, toughness, loyalty, embedding, created_at, updated_at`

func scanPostgresCard(row rowScanner) (*models.Card, error) {
	var card models.Card
	var colors pq.StringArray
	var embedding *pgvector.Vector
	if err := row.Scan(&card.ID, &card.Name, &card.Text, &card.Type, &card.ManaCost, &colors,
		&card.Power, &card.Toughness, &card.Loyalty, &embedding, &card.CreatedAt, &card.UpdatedAt); err != nil {
		return nil, err
	}
	if len(colors) > 0 {
		card.Colors = []string(colors)
	}
	if embedding != nil {
		card.Embedding = embedding.Slice()
	}
	return &card, nil
}

func pgVectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// CreateCard inserts a card and sets its ID and timestamps.
func (s *PostgresStorage) CreateCard(ctx context.Context, card *models.Card) error {
	now := time.Now()
	card.CreatedAt = now
	card.UpdatedAt = now
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO cards (name, text, type, mana_cost, colors, power, toughness, loyalty, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		card.Name, card.Text, card.Type, card.ManaCost, pq.Array(nonNil(card.Colors)), card.Power, card.Toughness,
		card.Loyalty, pgVectorArg(card.Embedding), card.CreatedAt, card.UpdatedAt,
	).Scan(&card.ID)
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

// GetCard returns a card by ID.
func (s *PostgresStorage) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	card, err := scanPostgresCard(s.db.QueryRowContext(ctx,
		`SELECT `+pgCardColumns+` FROM cards WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	return card, err
}

// GetCardByName returns the lowest-ID card with exactly the given name.
func (s *PostgresStorage) GetCardByName(ctx context.Context, name string) (*models.Card, error) {
	card, err := scanPostgresCard(s.db.QueryRowContext(ctx,
		`SELECT `+pgCardColumns+` FROM cards WHERE name = $1 ORDER BY id LIMIT 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %q: %w", name, ErrNotFound)
	}
	return card, err
}

// UpdateCard updates a card's attributes. The embedding is left unchanged.
func (s *PostgresStorage) UpdateCard(ctx context.Context, card *models.Card) error {
	card.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE cards SET name = $1, text = $2, type = $3, mana_cost = $4, colors = $5, power = $6,
		 toughness = $7, loyalty = $8, updated_at = $9 WHERE id = $10`,
		card.Name, card.Text, card.Type, card.ManaCost, pq.Array(nonNil(card.Colors)), card.Power,
		card.Toughness, card.Loyalty, card.UpdatedAt, card.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, "card", card.ID)
}

// SetEmbedding replaces the card's embedding.
func (s *PostgresStorage) SetEmbedding(ctx context.Context, id int64, vec []float32) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE cards SET embedding = $1, updated_at = $2 WHERE id = $3`,
		pgVectorArg(vec), time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, "card", id)
}

// DeleteCard removes a card by ID.
func (s *PostgresStorage) DeleteCard(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(result, "card", id)
}

// ListCards returns cards ordered by ID with offset and limit.
func (s *PostgresStorage) ListCards(ctx context.Context, offset, limit int) ([]*models.Card, error) {
	return s.queryCards(ctx,
		`SELECT `+pgCardColumns+` FROM cards ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
}

// CardIDs returns every card ID in ascending order.
func (s *PostgresStorage) CardIDs(ctx context.Context) ([]int64, error) {
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
func (s *PostgresStorage) CardsWithoutEmbedding(ctx context.Context, afterID int64, limit int) ([]*models.Card, error) {
	return s.queryCards(ctx,
		`SELECT `+pgCardColumns+` FROM cards
		 WHERE embedding IS NULL AND text <> '' AND id > $1 ORDER BY id LIMIT $2`, afterID, limit)
}

// CountCards returns the total number of cards.
func (s *PostgresStorage) CountCards(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&count)
	return count, err
}

// CountEmbedded returns the number of cards that have an embedding.
func (s *PostgresStorage) CountEmbedded(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE embedding IS NOT NULL`).Scan(&count)
	return count, err
}

// Candidates returns every embedded card, ordered by ID.
func (s *PostgresStorage) Candidates(ctx context.Context) ([]models.IndexedEntry, error) {
	cards, err := s.queryCards(ctx,
		`SELECT `+pgCardColumns+` FROM cards WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return toEntries(cards), nil
}

// Nearest returns up to limit embedded cards closest to query under metric. Only vectors with
// the query's dimensionality are considered. Ties at the limit boundary are resolved by the
// database, so callers should ask for more candidates than they intend to return.
func (s *PostgresStorage) Nearest(ctx context.Context, query []float32, limit int, metric vector.Metric) ([]models.IndexedEntry, error) {
	var op string
	switch metric {
	case vector.MetricL2:
		op = "<->"
	case vector.MetricCosine:
		op = "<=>"
	default:
		return nil, fmt.Errorf("%w: %q", vector.ErrInvalidMetric, metric)
	}
	if len(query) == 0 {
		return nil, vector.ErrEmptyVector
	}
	cards, err := s.queryCards(ctx,
		`SELECT `+pgCardColumns+` FROM cards
		 WHERE embedding IS NOT NULL AND vector_dims(embedding) = $2
		 ORDER BY embedding `+op+` $1, id LIMIT $3`,
		pgvector.NewVector(query), len(query), limit)
	if err != nil {
		return nil, err
	}
	return toEntries(cards), nil
}

func (s *PostgresStorage) queryCards(ctx context.Context, query string, args ...any) ([]*models.Card, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		card, err := scanPostgresCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// RecordSearch appends a history entry and sets its ID and timestamp.
func (s *PostgresStorage) RecordSearch(ctx context.Context, entry *models.HistoryEntry) error {
	if strings.TrimSpace(entry.QueryText) == "" {
		return fmt.Errorf("query text cannot be empty")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO search_history (user_id, query_text, result_count, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		entry.UserID, entry.QueryText, entry.ResultCount, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// ListHistory returns a user's history entries, newest first.
func (s *PostgresStorage) ListHistory(ctx context.Context, userID int64, limit, offset int) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, query_text, result_count, created_at FROM search_history
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
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
func (s *PostgresStorage) CountHistory(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_history WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// DeleteHistoryEntry removes one history entry.
func (s *PostgresStorage) DeleteHistoryEntry(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(result, "history entry", id)
}

// ClearHistory removes all history entries for a user.
func (s *PostgresStorage) ClearHistory(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close closes the database connection pool.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func toEntries(cards []*models.Card) []models.IndexedEntry {
	entries := make([]models.IndexedEntry, len(cards))
	for i, c := range cards {
		entries[i] = models.IndexedEntry{Card: c, Vector: c.Embedding}
	}
	return entries
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
