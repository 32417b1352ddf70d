// Package account manages user accounts and login sessions and issues the bearer tokens
// the HTTP server accepts.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// DefaultTokenTTL is used when WithSigningKey is given no TTL.
const DefaultTokenTTL = time.Hour

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrTokensDisabled     = errors.New("token signing is not configured")
	ErrSessionEnded       = errors.New("session is no longer active")
)

// Service creates accounts and logs users in and out.
type Service struct {
	store  storage.UserStore
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
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

// WithSigningKey enables Login. Tokens are HS256-signed with secret and, like their
// sessions, expire after ttl.
func WithSigningKey(secret string, ttl time.Duration) Option {
	return func(s *Service) {
		s.secret = []byte(secret)
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// NewService creates an account service on store.
func NewService(store storage.UserStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ttl:    DefaultTokenTTL,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount validates the input, hashes the password and stores an active user.
func (s *Service) CreateAccount(ctx context.Context, in models.AccountInput) (*models.User, error) {
	if err := in.Normalize(); err != nil {
		return nil, err
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &models.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		UserType:     in.UserType,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("Account created", zap.Int64("user_id", u.ID), zap.String("user_type", u.UserType))
	return u, nil
}

// Login checks the credentials, opens a session and returns a token bound to it.
func (s *Service) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	if len(s.secret) == 0 {
		return nil, ErrTokensDisabled
	}
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}

	now := s.now()
	sess := &models.Session{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.ttl),
		IsActive:     true,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	token, err := signToken(s.secret, newClaims(u.ID, u.Email, u.UserType, sess.ID, now, sess.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	s.logger.Info("User logged in", zap.Int64("user_id", u.ID), zap.String("session_id", sess.ID))
	return &models.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   sess.ExpiresAt,
		User:        u,
	}, nil
}

// CheckSession returns ErrSessionEnded unless the session exists, belongs to userID and is
// active and unexpired. Valid sessions have their last activity updated.
func (s *Service) CheckSession(ctx context.Context, sessionID string, userID int64) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrSessionEnded
	}
	if err != nil {
		return err
	}
	now := s.now()
	if sess.UserID != userID || !sess.Valid(now) {
		return ErrSessionEnded
	}
	if err := s.store.TouchSession(ctx, sessionID, now); err != nil {
		s.logger.Warn("Failed to record session activity", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

// Logout ends a session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionEnded
	}
	if err := s.store.DeactivateSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionEnded
		}
		return err
	}
	s.logger.Info("User logged out", zap.String("session_id", sessionID))
	return nil
}

// DeleteAccount ends the user's sessions and removes the account and its favorites.
// Search history is kept.
func (s *Service) DeleteAccount(ctx context.Context, userID int64) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}
	ended, err := s.store.DeactivateUserSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to end sessions: %w", err)
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("Account deleted", zap.Int64("user_id", userID), zap.Int64("sessions_ended", ended))
	return nil
}

// FindByID returns a user.
func (s *Service) FindByID(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.GetUser(ctx, userID)
}

// ListUsers returns every account.
func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*models.User{}
	}
	return users, nil
}
