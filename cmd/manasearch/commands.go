package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/cli"
	"github.com/hyperjump/manasearch/internal/config"
	"github.com/hyperjump/manasearch/internal/indexer"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/server"
	"github.com/hyperjump/manasearch/internal/storage"
	"github.com/hyperjump/manasearch/internal/watcher"
	"github.com/hyperjump/manasearch/pkg/utils"
)

// commonFlags are accepted by every subcommand that opens the catalog.
type commonFlags struct {
	configPath *string
	debug      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

// env is what a subcommand needs after flag parsing.
type env struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	debug      bool
}

// setup loads config and builds the logger. Long-running commands log at info level;
// one-shot commands only surface warnings unless --debug is set.
func setup(f commonFlags, longRunning bool) (*env, error) {
	cfg, path, err := loadConfig(*f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || *f.debug
	var logger *zap.Logger
	if longRunning {
		logger, err = utils.NewLogger(debug)
	} else {
		logger, err = utils.NewQuietLogger(debug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return &env{cfg: cfg, configPath: path, logger: logger, debug: debug}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)

	e, err := setup(common, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	e.logger.Info("config loaded", zap.String("config_path", e.configPath), zap.Bool("debug", e.debug))

	if e.debug {
		if err := agent.Listen(agent.Options{}); err != nil {
			e.logger.Warn("gops agent not started", zap.Error(err))
		} else {
			defer agent.Close()
		}
	}

	ctx, stop := signalContext()
	defer stop()

	c, err := initializeComponents(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	watch := newImportWatcher(e.cfg, c, e.logger)
	if err := watch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watch.Stop()
	go watch.SyncExisting(ctx)

	srv := server.NewServer(c.engine, c.indexer, c.storage, c.history, e.cfg, e.logger,
		server.WithNames(c.names, c.speller),
		server.WithMetrics(c.metrics),
		server.WithWatch(watch, e.configPath),
		server.WithAccounts(c.accounts),
		server.WithFavorites(c.favorites),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	e.logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// newImportWatcher watches the configured directories and embeds newly imported cards
// right after each file is imported.
func newImportWatcher(cfg *config.Config, c *components, logger *zap.Logger) *watcher.Watcher {
	return watcher.NewWatcher(cfg.Watch.Directories, cfg.Watch.RecursiveOrDefault(), c.indexer,
		watcher.WithLogger(logger),
		watcher.WithOnImport(func(path string, report *indexer.ImportReport, err error) {
			if err != nil || report.Imported == 0 {
				return
			}
			res, err := c.indexer.Backfill(context.Background(), indexer.BackfillOptions{Concurrency: 2})
			if err != nil {
				logger.Warn("backfill after import failed", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Info("backfill after import",
				zap.String("path", path),
				zap.Int("embedded", res.Embedded),
				zap.Int("failed", res.Failed))
		}),
	)
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", "", "server URL (empty = open storage directly)")
	k := fs.Int("k", 0, "number of results (0 = config default)")
	metric := fs.String("metric", "", "L2 or cosine (empty = config default)")
	user := fs.Int64("user", 0, "record the search for this user id (0 = anonymous)")
	token := fs.String("token", "", "bearer token for --server")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(reorderArgs(args))

	text := joinArgs(fs.Args())
	if text == "" {
		fs.Usage()
		return errors.New("search needs a query")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	query := &models.SearchQuery{Text: text, K: *k, Metric: *metric}

	if *serverURL != "" {
		client := newAPIClient(*serverURL, *token, *user)
		resp, err := client.Search(context.Background(), query)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		return cli.WriteSearchResults(os.Stdout, resp, format)
	}

	e, err := setup(common, false)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	c, err := initializeComponents(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := query.ApplyDefaults(e.cfg.Search.DefaultK, e.cfg.Search.MaxK, e.cfg.Search.DefaultMetric); err != nil {
		return err
	}
	if *user != 0 {
		query.RequesterID = user
	}
	resp, err := c.engine.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return cli.WriteSearchResults(os.Stdout, resp, format)
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	common := addCommonFlags(fs)
	backfill := fs.Bool("backfill", true, "embed imported cards after the import")
	concurrency := fs.Int("concurrency", 2, "batches embedded in parallel during backfill")
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() == 0 {
		return errors.New("import needs at least one file")
	}

	e, err := setup(common, false)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	c, err := initializeComponents(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	total := 0
	for _, path := range fs.Args() {
		report, err := c.indexer.ImportFile(ctx, path)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		total += report.Imported
		fmt.Printf("%s: %d imported, %d skipped, %d failed\n", path, report.Imported, report.Skipped, report.Failed)
		for _, msg := range report.Errors {
			fmt.Printf("  %s\n", msg)
		}
	}
	if !*backfill || total == 0 {
		return nil
	}
	return printBackfill(ctx, c, indexer.BackfillOptions{Concurrency: *concurrency})
}

func runBackfill(args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	common := addCommonFlags(fs)
	concurrency := fs.Int("concurrency", 2, "batches embedded in parallel")
	limit := fs.Int("limit", 0, "stop after this many cards (0 = all)")
	_ = fs.Parse(args)

	e, err := setup(common, false)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx, stop := signalContext()
	defer stop()

	c, err := initializeComponents(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return printBackfill(ctx, c, indexer.BackfillOptions{Concurrency: *concurrency, Limit: *limit})
}

func printBackfill(ctx context.Context, c *components, opts indexer.BackfillOptions) error {
	report, err := c.indexer.Backfill(ctx, opts)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	fmt.Printf("Embedded %d cards in %d batches (%d failed) in %s\n",
		report.Embedded, report.Batches, report.Failed, report.Duration.Round(time.Millisecond))
	return nil
}

func runDescribe(args []string) error {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	common := addCommonFlags(fs)
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(reorderArgs(args))
	ref := joinArgs(fs.Args())
	if ref == "" {
		return errors.New("describe needs a card id or name")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	e, err := setup(common, false)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx := context.Background()
	store, err := openStorage(ctx, e.cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	card, err := lookupCard(ctx, store, ref)
	if err != nil {
		return err
	}
	return cli.WriteCard(os.Stdout, card, format)
}

// lookupCard resolves a numeric ID first, then an exact name.
func lookupCard(ctx context.Context, store storage.CardStore, ref string) (*models.Card, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		card, err := store.GetCard(ctx, id)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return card, err
		}
	}
	card, err := store.GetCardByName(ctx, indexer.NormalizeName(ref))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no card named %q", ref)
	}
	return card, err
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	common := addCommonFlags(fs)
	user := fs.Int64("user", 0, "user id")
	page := fs.Int("page", 1, "page number")
	perPage := fs.Int("per-page", 20, "entries per page")
	stats := fs.Bool("stats", false, "show summary stats")
	clearAll := fs.Bool("clear", false, "delete the user's history")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(args)
	if *user == 0 {
		return errors.New("history needs --user")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	e, err := setup(common, false)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx := context.Background()
	c, err := initializeComponents(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	switch {
	case *clearAll:
		n, err := c.history.Clear(ctx, *user)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d searches for user %d\n", n, *user)
		return nil
	case *stats:
		s, err := c.history.Stats(ctx, *user)
		if err != nil {
			return err
		}
		if format == cli.OutputJSON {
			return cli.WriteJSON(os.Stdout, s)
		}
		fmt.Printf("Searches: %d\nResults:  %d (avg %.1f)\n", s.TotalSearches, s.TotalResults, s.AvgResults)
		if s.MostRecent != nil {
			fmt.Printf("Newest:   %s\nOldest:   %s\n", s.MostRecent.Format(time.RFC3339), s.Oldest.Format(time.RFC3339))
		}
		return nil
	default:
		p, err := c.history.Page(ctx, *user, *page, *perPage)
		if err != nil {
			return err
		}
		return cli.WriteHistory(os.Stdout, p, format)
	}
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", "", "server URL (empty = open storage directly)")
	token := fs.String("token", "", "bearer token for --server")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	var status map[string]interface{}
	if *serverURL != "" {
		status, err = newAPIClient(*serverURL, *token, 0).Status(context.Background())
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
	} else {
		e, err := setup(common, false)
		if err != nil {
			return err
		}
		defer e.logger.Sync()
		ctx := context.Background()
		store, err := openStorage(ctx, e.cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()
		if status, err = localStatus(ctx, e.cfg, store); err != nil {
			return err
		}
	}

	if format == cli.OutputJSON {
		return cli.WriteJSON(os.Stdout, status)
	}
	fmt.Printf("Cards:           %v\n", status["cards"])
	fmt.Printf("Embedded:        %v\n", status["embedded_cards"])
	fmt.Printf("Pending:         %v\n", status["pending_cards"])
	if v, ok := status["disk_usage_bytes"]; ok {
		fmt.Printf("Disk usage:      %v bytes\n", v)
	}
	if cfg, ok := status["config"].(map[string]interface{}); ok {
		fmt.Printf("Storage:         %v\n", cfg["storage_driver"])
		fmt.Printf("Embedding:       %v %v (%v dims)\n", cfg["embedding_provider"], cfg["embedding_model"], cfg["embedding_dimensions"])
		fmt.Printf("Default search:  k=%v metric=%v\n", cfg["default_k"], cfg["default_metric"])
	}
	return nil
}

func localStatus(ctx context.Context, cfg *config.Config, store storage.CardStore) (map[string]interface{}, error) {
	cards, err := store.CountCards(ctx)
	if err != nil {
		return nil, err
	}
	embedded, err := store.CountEmbedded(ctx)
	if err != nil {
		return nil, err
	}
	status := map[string]interface{}{
		"cards":          cards,
		"embedded_cards": embedded,
		"pending_cards":  cards - embedded,
		"config": map[string]interface{}{
			"storage_driver":       cfg.Storage.Driver,
			"embedding_provider":   cfg.Embedding.Provider,
			"embedding_model":      cfg.Embedding.Model,
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"default_k":            cfg.Search.DefaultK,
			"default_metric":       cfg.Search.DefaultMetric,
		},
	}
	if cfg.Storage.Driver == "sqlite" {
		if n, err := storage.DiskUsage(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath); err == nil {
			status["disk_usage_bytes"] = n
		}
	}
	return status, nil
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)

	e, err := setup(common, true)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	dirs := append(e.cfg.Watch.Directories, fs.Args()...)
	if len(dirs) == 0 {
		return errors.New("no watch directories: set watch.directories or pass directories as arguments")
	}
	e.cfg.Watch.Directories = dirs

	ctx, stop := signalContext()
	defer stop()
	c, err := initializeComponents(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	w := newImportWatcher(e.cfg, c, e.logger)
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	w.SyncExisting(ctx)
	<-ctx.Done()
	e.logger.Info("watch stopped")
	return nil
}
