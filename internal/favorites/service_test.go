package favorites

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "favorites.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, WithLogger(zap.NewNop())), store
}

func TestService_AddRemoveList(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	u := &models.User{Email: "saheeli@example.com", PasswordHash: "x", UserType: models.UserTypeClient, IsActive: true}
	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	var cards []*models.Card
	for _, name := range []string{"Sol Ring", "Brainstorm"} {
		c := &models.Card{Name: name}
		if err := store.CreateCard(ctx, c); err != nil {
			t.Fatal(err)
		}
		cards = append(cards, c)
	}

	got, err := svc.List(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil list, got %v", got)
	}

	for _, c := range cards {
		if err := svc.Add(ctx, u.ID, c.ID); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Add(ctx, u.ID, cards[0].ID); !errors.Is(err, ErrAlreadyFavorite) {
		t.Errorf("expected ErrAlreadyFavorite, got %v", err)
	}
	if err := svc.Add(ctx, u.ID, 404); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown card, got %v", err)
	}

	got, _ = svc.List(ctx, u.ID)
	if len(got) != 2 || got[0].Name != "Sol Ring" || got[1].Name != "Brainstorm" {
		t.Errorf("got %+v", got)
	}

	if err := svc.Remove(ctx, u.ID, cards[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Remove(ctx, u.ID, cards[0].ID); !errors.Is(err, ErrNotFavorite) {
		t.Errorf("expected ErrNotFavorite, got %v", err)
	}
	got, _ = svc.List(ctx, u.ID)
	if len(got) != 1 || got[0].ID != cards[1].ID {
		t.Errorf("got %+v", got)
	}
}
