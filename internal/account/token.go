package account

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "manasearch"

var (
	// ErrInvalidToken is returned for a token that fails signature, expiry or subject checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for a token past its expiry.
	ErrExpiredToken = errors.New("expired token")
)

// Claims are the JWT claims manasearch signs. Subject is the user ID and ID is the login
// session; tokens signed elsewhere with the same secret may omit everything but the subject.
type Claims struct {
	Email    string `json:"email,omitempty"`
	UserType string `json:"user_type,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject as a user ID.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// SessionID returns the session the token was issued for, or "" when it has none.
func (c *Claims) SessionID() string {
	return c.ID
}

func signToken(secret []byte, claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func newClaims(userID int64, email, userType, sessionID string, issued, expires time.Time) *Claims {
	return &Claims{
		Email:    email,
		UserType: userType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

// ParseToken verifies an HS256 token and returns its claims. The subject must be a user ID.
// Session state is not checked; see Service.CheckSession.
func ParseToken(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}
