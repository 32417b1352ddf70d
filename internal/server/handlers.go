package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/config"
	"github.com/hyperjump/manasearch/internal/indexer"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/search"
	"github.com/hyperjump/manasearch/internal/storage"
)

const (
	defaultCardLimit = 20
	maxCardLimit     = 200
	maxImportBytes   = 256 << 20
)

// unavailableMessage is returned instead of provider details when search infrastructure fails.
const unavailableMessage = "search temporarily unavailable"

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg := s.config.Search
	if err := query.ApplyDefaults(cfg.DefaultK, cfg.MaxK, cfg.DefaultMetric); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	query.RequesterID = requester(r.Context())
	s.logger.Debug("search request", zap.String("query", query.Text), zap.Int("k", query.K), zap.String("metric", query.Metric))

	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) respondSearchError(w http.ResponseWriter, err error) {
	switch {
	case search.IsInvalidQuery(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case search.IsUnavailable(err):
		s.logger.Error("search unavailable", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, unavailableMessage)
	case errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusGatewayTimeout, "search timed out")
	case errors.Is(err, context.Canceled):
		s.logger.Debug("search cancelled by client")
	default:
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "search failed")
	}
}

type cardListResponse struct {
	Cards      []*models.Card `json:"cards"`
	Total      int64          `json:"total"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// handleListCards pages through the catalog, or looks cards up by name when name is set.
func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit := clampInt(queryInt(q.Get("limit"), defaultCardLimit), 1, maxCardLimit)
	name := q.Get("name")

	if name == "" {
		offset := max(queryInt(q.Get("offset"), 0), 0)
		cards, err := s.storage.ListCards(ctx, offset, limit)
		if err != nil {
			s.internalError(w, "list cards", err)
			return
		}
		total, err := s.storage.CountCards(ctx)
		if err != nil {
			s.internalError(w, "count cards", err)
			return
		}
		s.respondJSON(w, http.StatusOK, cardListResponse{Cards: nonNilCards(cards), Total: total})
		return
	}

	if s.names == nil {
		s.respondError(w, http.StatusNotImplemented, "name search not enabled")
		return
	}
	fuzzy, _ := strconv.ParseBool(q.Get("fuzzy"))
	hits, err := s.names.SearchNames(ctx, name, limit, fuzzy)
	if err != nil {
		s.internalError(w, "search names", err)
		return
	}
	cards := make([]*models.Card, 0, len(hits))
	for _, hit := range hits {
		card, err := s.storage.GetCard(ctx, hit.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.internalError(w, "load card", err)
			return
		}
		cards = append(cards, card)
	}
	resp := cardListResponse{Cards: cards, Total: int64(len(cards))}
	if len(cards) == 0 && s.speller != nil {
		resp.Suggestion = s.speller.SuggestedQuery(name)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRandomCard(w http.ResponseWriter, r *http.Request) {
	ids, err := s.storage.CardIDs(r.Context())
	if err != nil {
		s.internalError(w, "list card ids", err)
		return
	}
	if len(ids) == 0 {
		s.respondError(w, http.StatusNotFound, "no cards in catalog")
		return
	}
	card, err := s.storage.GetCard(r.Context(), ids[rand.IntN(len(ids))])
	if err != nil {
		s.cardError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	card, ok := s.loadCard(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleCardDescription(w http.ResponseWriter, r *http.Request) {
	card, ok := s.loadCard(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":          card.ID,
		"name":        card.Name,
		"description": card.Describe(),
	})
}

func (s *Server) loadCard(w http.ResponseWriter, r *http.Request) (*models.Card, bool) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	card, err := s.storage.GetCard(r.Context(), id)
	if err != nil {
		s.cardError(w, err)
		return nil, false
	}
	return card, true
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var input models.CardInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input.Name = indexer.NormalizeName(input.Name)
	if err := input.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.storage.GetCardByName(r.Context(), input.Name); err == nil {
		s.respondError(w, http.StatusConflict, "card already exists")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.internalError(w, "look up card", err)
		return
	}
	card, err := s.indexer.AddCard(r.Context(), &input)
	if err != nil {
		s.internalError(w, "add card", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, card)
}

// handleImportCards imports a card file sent as the request body.
func (s *Server) handleImportCards(w http.ResponseWriter, r *http.Request) {
	report, err := s.indexer.ImportJSON(r.Context(), http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.indexer.DeleteCard(r.Context(), id); err != nil {
		s.cardError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type backfillRequest struct {
	Concurrency int `json:"concurrency"`
	Limit       int `json:"limit"`
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Concurrency < 0 || req.Limit < 0 {
		s.respondError(w, http.StatusBadRequest, "concurrency and limit cannot be negative")
		return
	}
	report, err := s.indexer.Backfill(r.Context(), indexer.BackfillOptions{Concurrency: req.Concurrency, Limit: req.Limit})
	if err != nil {
		s.internalError(w, "backfill", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistoryPage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userScope(w, r, "history")
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := s.history.Page(r.Context(), userID, queryInt(q.Get("page"), 1), queryInt(q.Get("per_page"), 0))
	if err != nil {
		s.internalError(w, "history page", err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userScope(w, r, "history")
	if !ok {
		return
	}
	stats, err := s.history.Stats(r.Context(), userID)
	if err != nil {
		s.internalError(w, "history stats", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userScope(w, r, "history")
	if !ok {
		return
	}
	n, err := s.history.Clear(r.Context(), userID)
	if err != nil {
		s.internalError(w, "clear history", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleDeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if s.config.Auth.JWTSecret != "" && requester(r.Context()) == nil {
		s.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.history.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "history entry not found")
			return
		}
		s.internalError(w, "delete history entry", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// userScope parses the user ID from the path. With bearer auth enabled, users may only
// reach their own resources unless they are admins.
func (s *Server) userScope(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	userID, ok := s.pathID(w, r, "userID")
	if !ok {
		return 0, false
	}
	if s.config.Auth.JWTSecret != "" {
		me, ok := requesterIdentity(r.Context())
		if !ok {
			s.respondError(w, http.StatusUnauthorized, "authentication required")
			return 0, false
		}
		if me.UserID != userID && !s.isAdmin(r.Context(), me) {
			s.respondError(w, http.StatusForbidden, "cannot access another user's "+what)
			return 0, false
		}
	}
	return userID, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardCount, err := s.storage.CountCards(ctx)
	if err != nil {
		s.internalError(w, "status: count cards", err)
		return
	}
	embedded, err := s.storage.CountEmbedded(ctx)
	if err != nil {
		s.internalError(w, "status: count embedded", err)
		return
	}
	resp := map[string]interface{}{
		"cards":          cardCount,
		"embedded_cards": embedded,
		"pending_cards":  cardCount - embedded,
	}
	if s.names != nil {
		if n, err := s.names.DocCount(); err == nil {
			resp["name_index_size"] = n
		}
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}

	cfg := s.config
	resp["config"] = map[string]interface{}{
		"storage_driver":       cfg.Storage.Driver,
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_model":      cfg.Embedding.Model,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"default_k":            cfg.Search.DefaultK,
		"max_k":                cfg.Search.MaxK,
		"default_metric":       cfg.Search.DefaultMetric,
		"candidate_limit":      cfg.Search.CandidateLimit,
		"redis_cache":          cfg.Cache.RedisAddr != "",
	}
	if cfg.Storage.Driver == "sqlite" {
		if diskBytes, err := storage.DiskUsage(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.internalError(w, "stat watch directory", err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.internalError(w, "add watch directory", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.internalError(w, "remove watch directory", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id < 1 {
		s.respondError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func (s *Server) cardError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "card not found")
		return
	}
	s.internalError(w, "card lookup", err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func nonNilCards(cards []*models.Card) []*models.Card {
	if cards == nil {
		return []*models.Card{}
	}
	return cards
}
