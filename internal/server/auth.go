package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/account"
	"github.com/hyperjump/manasearch/internal/models"
)

// UserIDHeader identifies the requester when bearer auth is disabled.
const UserIDHeader = "X-User-ID"

type requesterKey struct{}

// identity is the authenticated caller. SessionID and UserType are only set for tokens
// issued by login.
type identity struct {
	UserID    int64
	SessionID string
	UserType  string
}

// authenticate resolves the requester. With a JWT secret configured, a Bearer token's
// sub claim is the user ID; otherwise the X-User-ID header is trusted. Requests without
// either are anonymous and are not written to history. Tokens carrying a session ID are
// only honored while that session is active.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			id  *identity
			err error
		)
		if secret := s.config.Auth.JWTSecret; secret != "" {
			id, err = bearerIdentity(r, []byte(secret))
			if err != nil {
				s.logger.Debug("rejected bearer token", zap.Error(err))
				s.respondError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			if id != nil && id.SessionID != "" {
				if !s.sessionActive(w, r, id) {
					return
				}
			}
		} else if v := r.Header.Get(UserIDHeader); v != "" {
			userID, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid "+UserIDHeader+" header")
				return
			}
			id = &identity{UserID: userID}
		}
		if id != nil {
			r = r.WithContext(context.WithValue(r.Context(), requesterKey{}, *id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sessionActive(w http.ResponseWriter, r *http.Request, id *identity) bool {
	if s.accounts == nil {
		s.respondError(w, http.StatusUnauthorized, "invalid bearer token")
		return false
	}
	err := s.accounts.CheckSession(r.Context(), id.SessionID, id.UserID)
	if errors.Is(err, account.ErrSessionEnded) {
		s.respondError(w, http.StatusUnauthorized, "session has ended")
		return false
	}
	if err != nil {
		s.internalError(w, "check session", err)
		return false
	}
	return true
}

func bearerIdentity(r *http.Request, secret []byte) (*identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return nil, errors.New("authorization header is not a bearer token")
	}
	claims, err := account.ParseToken(strings.TrimSpace(raw), secret)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	return &identity{UserID: userID, SessionID: claims.SessionID(), UserType: claims.UserType}, nil
}

// requester returns the authenticated user ID, or nil for anonymous requests.
func requester(ctx context.Context) *int64 {
	id, ok := ctx.Value(requesterKey{}).(identity)
	if !ok {
		return nil
	}
	return &id.UserID
}

func requesterIdentity(ctx context.Context) (identity, bool) {
	id, ok := ctx.Value(requesterKey{}).(identity)
	return id, ok
}

// isAdmin reports whether the requester is an admin. Header-identified requesters and
// tokens without a user type are looked up in the account store.
func (s *Server) isAdmin(ctx context.Context, id identity) bool {
	if id.UserType != "" {
		return id.UserType == models.UserTypeAdmin
	}
	if s.accounts == nil {
		return false
	}
	u, err := s.accounts.FindByID(ctx, id.UserID)
	if err != nil {
		return false
	}
	return u.IsAdmin()
}
