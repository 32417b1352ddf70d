package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/manasearch/internal/models"
)

const userColumns = `id, email, password_hash, first_name, last_name, user_type, is_active, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.UserType,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt, &s.IsActive); err != nil {
		return nil, err
	}
	return &s, nil
}

func sqliteConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

// prefixColumns qualifies a column list with a table alias.
func prefixColumns(columns, alias string) string {
	return alias + "." + strings.ReplaceAll(columns, ", ", ", "+alias+".")
}

// CreateUser inserts a user and sets its ID and timestamps.
func (s *SQLiteStorage) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, user_type, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.FirstName, u.LastName, u.UserType, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if sqliteConstraint(err, sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("user %q: %w", u.Email, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.ID, err = result.LastInsertId()
	return err
}

// GetUser returns a user by ID.
func (s *SQLiteStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, err
}

// GetUserByEmail returns a user by email.
func (s *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", email, ErrNotFound)
	}
	return u, err
}

// ListUsers returns every user ordered by ID.
func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
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
func (s *SQLiteStorage) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result, "user", id)
}

// CreateSession inserts a login session.
func (s *SQLiteStorage) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, last_activity, expires_at, is_active)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.LastActivity, sess.ExpiresAt, sess.IsActive,
	)
	if sqliteConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return fmt.Errorf("user %d: %w", sess.UserID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, last_activity, expires_at, is_active FROM sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// TouchSession records activity on a session.
func (s *SQLiteStorage) TouchSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE session_id = ?`, at, id)
	if err != nil {
		return err
	}
	return requireSessionAffected(result, id)
}

// DeactivateSession ends a session.
func (s *SQLiteStorage) DeactivateSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	return requireSessionAffected(result, id)
}

// DeactivateUserSessions ends every active session of a user.
func (s *SQLiteStorage) DeactivateUserSessions(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AddFavorite marks a card as a user's favorite.
func (s *SQLiteStorage) AddFavorite(ctx context.Context, userID, cardID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO favorites (user_id, card_id, created_at) VALUES (?, ?, ?)`,
		userID, cardID, time.Now(),
	)
	if sqliteConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return false, fmt.Errorf("user %d or card %d: %w", userID, cardID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to add favorite: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// RemoveFavorite unmarks a card as a user's favorite.
func (s *SQLiteStorage) RemoveFavorite(ctx context.Context, userID, cardID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = ? AND card_id = ?`, userID, cardID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ListFavorites returns a user's favorite cards, oldest favorite first.
func (s *SQLiteStorage) ListFavorites(ctx context.Context, userID int64) ([]*models.Card, error) {
	return s.queryCards(ctx,
		`SELECT `+prefixColumns(sqliteCardColumns, "c")+` FROM favorites f
		 JOIN cards c ON c.id = f.card_id
		 WHERE f.user_id = ? ORDER BY f.created_at, f.card_id`, userID)
}

func requireSessionAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
