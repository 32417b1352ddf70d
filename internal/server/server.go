// Package server provides the HTTP API for manasearch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/account"
	"github.com/hyperjump/manasearch/internal/config"
	"github.com/hyperjump/manasearch/internal/favorites"
	"github.com/hyperjump/manasearch/internal/history"
	"github.com/hyperjump/manasearch/internal/indexer"
	"github.com/hyperjump/manasearch/internal/keyword"
	"github.com/hyperjump/manasearch/internal/metrics"
	"github.com/hyperjump/manasearch/internal/search"
	"github.com/hyperjump/manasearch/internal/storage"
)

// WatchService manages the watched import directories.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the manasearch API.
type Server struct {
	engine    *search.Engine
	indexer   *indexer.Indexer
	storage   storage.Storage
	history   *history.Service
	accounts  *account.Service
	favorites *favorites.Service
	names     keyword.NameIndex
	speller   *keyword.SpellChecker
	metrics   *metrics.Metrics
	watch     WatchService
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithNames enables name lookups on GET /api/v1/cards.
func WithNames(names keyword.NameIndex, speller *keyword.SpellChecker) Option {
	return func(s *Server) {
		s.names = names
		s.speller = speller
	}
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithWatch enables the watch directory endpoints. When configPath is set, directory
// changes are persisted to it.
func WithWatch(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// WithAccounts enables the user and login endpoints and session checks on bearer tokens.
func WithAccounts(a *account.Service) Option {
	return func(s *Server) { s.accounts = a }
}

// WithFavorites enables the favorites endpoints.
func WithFavorites(f *favorites.Service) Option {
	return func(s *Server) { s.favorites = f }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store storage.Storage,
	hist *history.Service,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		indexer: idx,
		storage: store,
		history: hist,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil && s.config.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/search", s.handleSearch)

		r.Get("/cards", s.handleListCards)
		r.Post("/cards", s.handleCreateCard)
		r.Post("/cards/import", s.handleImportCards)
		r.Get("/cards/random", s.handleRandomCard)
		r.Get("/cards/{id}", s.handleGetCard)
		r.Get("/cards/{id}/description", s.handleCardDescription)
		r.Delete("/cards/{id}", s.handleDeleteCard)

		r.Post("/embeddings/backfill", s.handleBackfill)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
		r.Get("/users/{userID}", s.handleGetUser)
		r.Delete("/users/{userID}", s.handleDeleteUser)

		r.Get("/users/{userID}/favorites", s.handleListFavorites)
		r.Post("/users/{userID}/favorites", s.handleAddFavorite)
		r.Delete("/users/{userID}/favorites/{cardID}", s.handleRemoveFavorite)

		r.Get("/users/{userID}/history", s.handleHistoryPage)
		r.Get("/users/{userID}/history/stats", s.handleHistoryStats)
		r.Delete("/users/{userID}/history", s.handleClearHistory)
		r.Delete("/history/{id}", s.handleDeleteHistoryEntry)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)

		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
