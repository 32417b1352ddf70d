package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hyperjump/manasearch/internal/models"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func pqCode(err error, code pq.ErrorCode) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == code
}

// CreateUser inserts a user and sets its ID and timestamps.
func (s *PostgresStorage) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, user_type, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		u.Email, u.PasswordHash, u.FirstName, u.LastName, u.UserType, u.IsActive, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if pqCode(err, pqUniqueViolation) {
		return fmt.Errorf("user %q: %w", u.Email, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *PostgresStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, err
}

// GetUserByEmail returns a user by email.
func (s *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", email, ErrNotFound)
	}
	return u, err
}

// ListUsers returns every user ordered by ID.
func (s *PostgresStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user. Sessions and favorites go with it.
func (s *PostgresStorage) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(result, "user", id)
}

// CreateSession inserts a login session.
func (s *PostgresStorage) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, last_activity, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.LastActivity, sess.ExpiresAt, sess.IsActive,
	)
	if pqCode(err, pqForeignKeyViolation) {
		return fmt.Errorf("user %d: %w", sess.UserID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *PostgresStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, last_activity, expires_at, is_active FROM sessions WHERE session_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// TouchSession records activity on a session.
func (s *PostgresStorage) TouchSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity = $1 WHERE session_id = $2`, at, id)
	if err != nil {
		return err
	}
	return requireSessionAffected(result, id)
}

// DeactivateSession ends a session.
func (s *PostgresStorage) DeactivateSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active = FALSE WHERE session_id = $1`, id)
	if err != nil {
		return err
	}
	return requireSessionAffected(result, id)
}

// DeactivateUserSessions ends every active session of a user.
func (s *PostgresStorage) DeactivateUserSessions(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AddFavorite marks a card as a user's favorite.
func (s *PostgresStorage) AddFavorite(ctx context.Context, userID, cardID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO favorites (user_id, card_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		userID, cardID, time.Now(),
	)
	if pqCode(err, pqForeignKeyViolation) {
		return false, fmt.Errorf("user %d or card %d: %w", userID, cardID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to add favorite: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// RemoveFavorite unmarks a card as a user's favorite.
func (s *PostgresStorage) RemoveFavorite(ctx context.Context, userID, cardID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND card_id = $2`, userID, cardID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ListFavorites returns a user's favorite cards, oldest favorite first.
func (s *PostgresStorage) ListFavorites(ctx context.Context, userID int64) ([]*models.Card, error) {
	return s.queryCards(ctx,
		`SELECT `+prefixColumns(pgCardColumns, "c")+` FROM favorites f
		 JOIN cards c ON c.id = f.card_id
		 WHERE f.user_id = $1 ORDER BY f.created_at, f.card_id`, userID)
}
