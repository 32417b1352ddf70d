package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hyperjump/manasearch/internal/account"
	"github.com/hyperjump/manasearch/internal/cli"
	"github.com/hyperjump/manasearch/internal/config"
	"github.com/hyperjump/manasearch/internal/favorites"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/server"
	"github.com/hyperjump/manasearch/internal/storage"
)

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{"flags after query are moved first", []string{"deal damage", "-k", "3"}, []string{"-k", "3", "deal damage"}},
		{"flags first returns unchanged", []string{"-k", "3", "deal damage"}, []string{"-k", "3", "deal damage"}},
		{"query only returns unchanged", []string{"deal damage"}, []string{"deal damage"}},
		{"empty args returns unchanged", []string{}, []string{}},
		{"multiple positionals then flags", []string{"draw", "cards", "--metric", "cosine"}, []string{"--metric", "cosine", "draw", "cards"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reorderArgs(tt.args); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("reorderArgs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		args     []string
		expected string
	}{
		{[]string{"bolt"}, "bolt"},
		{[]string{"deal", "3", "damage"}, "deal 3 damage"},
		{[]string{"deal 3 damage"}, "deal 3 damage"},
		{[]string{}, ""},
		{[]string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		if got := joinArgs(tt.args); got != tt.expected {
			t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
		}
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "./cards.db"
search:
  default_metric: cosine
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug || cfg.Search.DefaultMetric != "cosine" {
		t.Errorf("cwd config not applied: debug=%v metric=%s", cfg.Debug, cfg.Search.DefaultMetric)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingExplicitPathFails(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config")
	}
}

func TestAPIClient_Search(t *testing.T) {
	var gotUser string
	var gotQuery models.SearchQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotUser = r.Header.Get(server.UserIDHeader)
		_ = json.NewDecoder(r.Body).Decode(&gotQuery)
		_ = json.NewEncoder(w).Encode(models.SearchResponse{
			Query:   gotQuery.Text,
			Metric:  "L2",
			K:       1,
			Results: []models.RankedResult{{Card: &models.Card{ID: 4, Name: "Shock"}, Similarity: 0.5}},
		})
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL+"/", "", 12)
	resp, err := client.Search(context.Background(), &models.SearchQuery{Text: "ping", K: 1})
	if err != nil {
		t.Fatal(err)
	}
	if gotUser != "12" {
		t.Errorf("user header = %q, want 12", gotUser)
	}
	if gotQuery.Text != "ping" || gotQuery.K != 1 {
		t.Errorf("server got query %+v", gotQuery)
	}
	if len(resp.Results) != 1 || resp.Results[0].Card.Name != "Shock" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAPIClient_ErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "search temporarily unavailable"})
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, "tok", 0).Search(context.Background(), &models.SearchQuery{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "503: search temporarily unavailable") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLookupCardAndLocalStatus(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "cards.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	bolt := &models.Card{Name: "Lightning Bolt", Text: "Lightning Bolt deals 3 damage to any target.", Embedding: []float32{1, 0}}
	if err := store.CreateCard(ctx, bolt); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateCard(ctx, &models.Card{Name: "Island"}); err != nil {
		t.Fatal(err)
	}

	byID, err := lookupCard(ctx, store, "1")
	if err != nil || byID.Name != "Lightning Bolt" {
		t.Errorf("lookupCard(1) = %+v, %v", byID, err)
	}
	byName, err := lookupCard(ctx, store, "Island")
	if err != nil || byName.Name != "Island" {
		t.Errorf("lookupCard(Island) = %+v, %v", byName, err)
	}
	if _, err := lookupCard(ctx, store, "Black Lotus"); err == nil {
		t.Error("expected an error for an unknown card")
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "cards.db")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "names")
	status, err := localStatus(ctx, cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	if status["cards"] != int64(2) || status["embedded_cards"] != int64(1) || status["pending_cards"] != int64(1) {
		t.Errorf("unexpected status: %+v", status)
	}
	if _, ok := status["disk_usage_bytes"]; !ok {
		t.Error("expected disk usage for sqlite")
	}
}

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUserCommand(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	svc := account.NewService(store, account.WithSigningKey("cli-secret", 0), account.WithBcryptCost(bcrypt.MinCost))

	var buf bytes.Buffer
	create := userOptions{
		input:  models.AccountInput{Email: "ob@example.com", Password: "nixilis", UserType: models.UserTypeAdmin},
		format: cli.OutputText,
	}
	if err := userCommand(ctx, svc, "create", create, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Created admin user 1 (ob@example.com)") {
		t.Errorf("unexpected output: %s", buf.String())
	}

	buf.Reset()
	token := userOptions{input: models.AccountInput{Email: "ob@example.com", Password: "nixilis"}, format: cli.OutputText}
	if err := userCommand(ctx, svc, "token", token, &buf); err != nil {
		t.Fatal(err)
	}
	claims, err := account.ParseToken(strings.TrimSpace(buf.String()), []byte("cli-secret"))
	if err != nil {
		t.Fatalf("printed token does not verify: %v", err)
	}
	if claims.UserType != models.UserTypeAdmin {
		t.Errorf("token user type = %q", claims.UserType)
	}

	buf.Reset()
	if err := userCommand(ctx, svc, "list", userOptions{format: cli.OutputCompact}, &buf); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != "1\tob@example.com\tadmin\ttrue" {
		t.Errorf("list = %q", got)
	}

	if err := userCommand(ctx, svc, "show", userOptions{}, &buf); err == nil {
		t.Error("show without --id should fail")
	}
	if err := userCommand(ctx, svc, "delete", userOptions{id: 1}, io.Discard); err != nil {
		t.Fatal(err)
	}
	if err := userCommand(ctx, svc, "show", userOptions{id: 1}, io.Discard); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := userCommand(ctx, svc, "promote", userOptions{}, io.Discard); err == nil {
		t.Error("expected an error for an unknown action")
	}
}

func TestFavoritesCommand(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := &models.User{Email: "kiora@example.com", PasswordHash: "x", UserType: models.UserTypeClient, IsActive: true}
	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Lightning Bolt", "Island"} {
		if err := store.CreateCard(ctx, &models.Card{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	svc := favorites.NewService(store)

	var buf bytes.Buffer
	if err := favoritesCommand(ctx, store, svc, favoritesOptions{user: u.ID, add: "Island"}, &buf); err != nil {
		t.Fatal(err)
	}
	if err := favoritesCommand(ctx, store, svc, favoritesOptions{user: u.ID, add: "1"}, &buf); err != nil {
		t.Fatal(err)
	}
	if err := favoritesCommand(ctx, store, svc, favoritesOptions{user: u.ID, add: "Island"}, io.Discard); !errors.Is(err, favorites.ErrAlreadyFavorite) {
		t.Errorf("expected ErrAlreadyFavorite, got %v", err)
	}
	if err := favoritesCommand(ctx, store, svc, favoritesOptions{user: 99, add: "Island"}, io.Discard); err == nil {
		t.Error("expected an error for an unknown user")
	}
	if err := favoritesCommand(ctx, store, svc, favoritesOptions{user: u.ID, add: "Black Lotus"}, io.Discard); err == nil {
		t.Error("expected an error for an unknown card")
	}

	buf.Reset()
	if err := favoritesCommand(ctx, store, svc, favoritesOptions{user: u.ID, format: cli.OutputCompact}, &buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "2\tIsland") || !strings.HasPrefix(lines[1], "1\tLightning Bolt") {
		t.Errorf("favorites = %q", lines)
	}

	if err := favoritesCommand(ctx, store, svc, favoritesOptions{user: u.ID, remove: "Island"}, io.Discard); err != nil {
		t.Fatal(err)
	}
	if err := favoritesCommand(ctx, store, svc, favoritesOptions{user: u.ID, remove: "Island"}, io.Discard); !errors.Is(err, favorites.ErrNotFavorite) {
		t.Errorf("expected ErrNotFavorite, got %v", err)
	}
}
