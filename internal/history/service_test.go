package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, WithLogger(zap.NewNop())), store
}

func TestService_RecordAndPage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		if err := svc.Record(ctx, 7, "query", i%5); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name          string
		page, perPage int
		wantLen       int
		wantPage      int
		wantPerPage   int
		wantPages     int64
	}{
		{"first page", 1, 20, 20, 1, 20, 3},
		{"last page", 3, 20, 5, 3, 20, 3},
		{"past the end", 9, 20, 0, 9, 20, 3},
		{"clamps page", 0, 10, 10, 1, 10, 5},
		{"default per page", 1, 0, 20, 1, DefaultPerPage, 3},
		{"caps per page", 1, 500, 45, 1, MaxPerPage, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := svc.Page(ctx, 7, tt.page, tt.perPage)
			if err != nil {
				t.Fatal(err)
			}
			if len(p.Searches) != tt.wantLen {
				t.Errorf("len(Searches) = %d, want %d", len(p.Searches), tt.wantLen)
			}
			if p.Page != tt.wantPage || p.PerPage != tt.wantPerPage {
				t.Errorf("page/perPage = %d/%d, want %d/%d", p.Page, p.PerPage, tt.wantPage, tt.wantPerPage)
			}
			if p.Total != 45 || p.TotalPages != tt.wantPages {
				t.Errorf("total/pages = %d/%d, want 45/%d", p.Total, p.TotalPages, tt.wantPages)
			}
		})
	}
}

func TestService_PageEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	p, err := svc.Page(context.Background(), 1, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if p.Searches == nil || len(p.Searches) != 0 || p.TotalPages != 0 {
		t.Errorf("unexpected empty page %+v", p)
	}
}

func TestService_RecordValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if err := svc.Record(ctx, 1, "  ", 1); err == nil {
		t.Error("expected error for empty query")
	}
	if err := svc.Record(ctx, 1, "x", -1); err == nil {
		t.Error("expected error for negative result count")
	}
}

func TestService_Stats(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	empty, err := svc.Stats(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if empty.TotalSearches != 0 || empty.MostRecent != nil || empty.Oldest != nil {
		t.Errorf("unexpected empty stats %+v", empty)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, n := range []int{2, 4, 9} {
		e := &models.HistoryEntry{UserID: 3, QueryText: "q", ResultCount: n, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.RecordSearch(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := svc.Stats(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalSearches != 3 || stats.TotalResults != 15 || stats.AvgResults != 5 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !stats.MostRecent.Equal(base.Add(2*time.Hour)) || !stats.Oldest.Equal(base) {
		t.Errorf("unexpected range %v .. %v", stats.Oldest, stats.MostRecent)
	}
}

func TestService_DeleteAndClear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_ = svc.Record(ctx, 5, "a", 1)
	_ = svc.Record(ctx, 5, "b", 1)

	p, _ := svc.Page(ctx, 5, 1, 10)
	if err := svc.Delete(ctx, p.Searches[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, p.Searches[0].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	n, err := svc.Clear(ctx, 5)
	if err != nil || n != 1 {
		t.Errorf("Clear = %d, %v", n, err)
	}
}
