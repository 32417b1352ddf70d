package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// User types. Admins may manage other users' accounts, history and favorites.
const (
	UserTypeClient       = "client"
	UserTypeGameDesigner = "game_designer"
	UserTypeAdmin        = "admin"
)

// ErrUnknownUserType is returned by AccountInput.Normalize.
var ErrUnknownUserType = errors.New("unknown user type")

// User is a registered account. PasswordHash is a bcrypt hash and never leaves the server.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	FirstName    string    `json:"first_name,omitempty" db:"first_name"`
	LastName     string    `json:"last_name,omitempty" db:"last_name"`
	UserType     string    `json:"user_type" db:"user_type"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// FullName returns "First Last", or the email when either name is missing.
func (u *User) FullName() string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Email
}

// IsAdmin reports whether the user has the admin type.
func (u *User) IsAdmin() bool {
	return u != nil && u.UserType == UserTypeAdmin
}

// AccountInput is the input for creating an account.
type AccountInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	UserType  string `json:"user_type,omitempty"`
}

// Normalize trims the fields, lowercases the email and defaults the user type to client.
func (in *AccountInput) Normalize() error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.UserType = strings.TrimSpace(in.UserType)
	if in.UserType == "" {
		in.UserType = UserTypeClient
	}
	switch in.UserType {
	case UserTypeClient, UserTypeGameDesigner, UserTypeAdmin:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownUserType, in.UserType)
	}
}

// Session is a login. A token is only honored while its session is active and unexpired.
type Session struct {
	ID           string    `json:"session_id" db:"session_id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	LastActivity time.Time `json:"last_activity" db:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	IsActive     bool      `json:"is_active" db:"is_active"`
}

// Valid reports whether the session is active and not expired at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.IsActive && now.Before(s.ExpiresAt)
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}
