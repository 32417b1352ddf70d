package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hyperjump/manasearch/internal/account"
	"github.com/hyperjump/manasearch/internal/favorites"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type favoriteRequest struct {
	CardID int64 `json:"card_id"`
}

func (s *Server) requireAccounts(w http.ResponseWriter) bool {
	if s.accounts == nil {
		s.respondError(w, http.StatusNotImplemented, "accounts are not enabled")
		return false
	}
	return true
}

func (s *Server) requireFavorites(w http.ResponseWriter) bool {
	if s.favorites == nil {
		s.respondError(w, http.StatusNotImplemented, "favorites are not enabled")
		return false
	}
	return true
}

// handleCreateUser registers an account. Only admins may create admin accounts.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w) {
		return
	}
	var in models.AccountInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(in.UserType) == models.UserTypeAdmin {
		me, ok := requesterIdentity(r.Context())
		if !ok || !s.isAdmin(r.Context(), me) {
			s.respondError(w, http.StatusForbidden, "only admins can create admin accounts")
			return
		}
	}
	u, err := s.accounts.CreateAccount(r.Context(), in)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusCreated, u)
	case errors.Is(err, account.ErrEmailTaken):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, account.ErrInvalidEmail), errors.Is(err, account.ErrWeakPassword),
		errors.Is(err, models.ErrUnknownUserType):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.internalError(w, "create account", err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w) {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, resp)
	case errors.Is(err, account.ErrInvalidCredentials):
		s.respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, account.ErrAccountDisabled):
		s.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, account.ErrTokensDisabled):
		s.respondError(w, http.StatusNotImplemented, err.Error())
	default:
		s.internalError(w, "login", err)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w) {
		return
	}
	me, ok := requesterIdentity(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if me.SessionID == "" {
		s.respondError(w, http.StatusBadRequest, "token is not bound to a session")
		return
	}
	if err := s.accounts.Logout(r.Context(), me.SessionID); err != nil {
		if errors.Is(err, account.ErrSessionEnded) {
			s.respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.internalError(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w) {
		return
	}
	me, ok := requesterIdentity(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !s.isAdmin(r.Context(), me) {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}
	users, err := s.accounts.ListUsers(r.Context())
	if err != nil {
		s.internalError(w, "list users", err)
		return
	}
	s.respondJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w) {
		return
	}
	userID, ok := s.userScope(w, r, "account")
	if !ok {
		return
	}
	u, err := s.accounts.FindByID(r.Context(), userID)
	if err != nil {
		s.userError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w) {
		return
	}
	userID, ok := s.userScope(w, r, "account")
	if !ok {
		return
	}
	if err := s.accounts.DeleteAccount(r.Context(), userID); err != nil {
		s.userError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	if !s.requireFavorites(w) {
		return
	}
	userID, ok := s.userScope(w, r, "favorites")
	if !ok {
		return
	}
	if s.accounts != nil {
		if _, err := s.accounts.FindByID(r.Context(), userID); err != nil {
			s.userError(w, err)
			return
		}
	}
	cards, err := s.favorites.List(r.Context(), userID)
	if err != nil {
		s.internalError(w, "list favorites", err)
		return
	}
	s.respondJSON(w, http.StatusOK, cards)
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	if !s.requireFavorites(w) {
		return
	}
	userID, ok := s.userScope(w, r, "favorites")
	if !ok {
		return
	}
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CardID < 1 {
		s.respondError(w, http.StatusBadRequest, "card_id is required")
		return
	}
	err := s.favorites.Add(r.Context(), userID, req.CardID)
	switch {
	case err == nil:
	case errors.Is(err, favorites.ErrAlreadyFavorite):
		s.respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "user or card not found")
		return
	default:
		s.internalError(w, "add favorite", err)
		return
	}
	card, err := s.storage.GetCard(r.Context(), req.CardID)
	if err != nil {
		s.cardError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, card)
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if !s.requireFavorites(w) {
		return
	}
	userID, ok := s.userScope(w, r, "favorites")
	if !ok {
		return
	}
	cardID, ok := s.pathID(w, r, "cardID")
	if !ok {
		return
	}
	if err := s.favorites.Remove(r.Context(), userID, cardID); err != nil {
		if errors.Is(err, favorites.ErrNotFavorite) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.internalError(w, "remove favorite", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) userError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}
	s.internalError(w, "user lookup", err)
}
