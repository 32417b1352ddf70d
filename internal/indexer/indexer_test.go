package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/manasearch/internal/embedding"
	"github.com/hyperjump/manasearch/internal/keyword"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestNames(t *testing.T) *keyword.BleveIndex {
	t.Helper()
	names, err := keyword.NewMemBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = names.Close() })
	return names
}

// flakyEmbedder fails every batch call, and single calls for texts containing "poison".
type flakyEmbedder struct {
	*embedding.MockEmbedder
	mu         sync.Mutex
	batchCalls int
	maxBatch   int
	failBatch  bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "poison") {
		return nil, errors.New("provider rejected input")
	}
	return f.MockEmbedder.Embed(ctx, text)
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.maxBatch = max(f.maxBatch, len(texts))
	f.mu.Unlock()
	if f.failBatch {
		return nil, errors.New("batch too large")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestPreprocess(t *testing.T) {
	if got := Preprocess("  Flying\n\nVigilance\t "); got != "Flying Vigilance" {
		t.Errorf("Preprocess = %q", got)
	}
	if got := NormalizeName(" Urza’s  Tower "); got != "Urza's Tower" {
		t.Errorf("NormalizeName = %q", got)
	}
}

func TestIndexer_AddCard(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	names := newTestNames(t)
	idx := NewIndexer(store, embedding.NewMockEmbedder(8), names)

	card, err := idx.AddCard(ctx, &models.CardInput{Name: "Serra Angel", Text: "Flying\nVigilance", Type: "Creature — Angel"})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	if card.ID == 0 || !card.HasEmbedding() || len(card.Embedding) != 8 {
		t.Fatalf("card = %+v, want stored with an 8-dim embedding", card)
	}
	stored, err := store.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Text != "Flying Vigilance" || !stored.HasEmbedding() {
		t.Errorf("stored = %+v", stored)
	}
	hits, err := names.SearchNames(ctx, "serra", 5, false)
	if err != nil || len(hits) != 1 || hits[0].ID != card.ID {
		t.Errorf("name index hits = %+v, %v", hits, err)
	}

	plain, err := idx.AddCard(ctx, &models.CardInput{Name: "Plains"})
	if err != nil {
		t.Fatalf("AddCard without text: %v", err)
	}
	if plain.HasEmbedding() {
		t.Error("card without rules text should not be embedded")
	}

	if _, err := idx.AddCard(ctx, &models.CardInput{Name: "   "}); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestIndexer_AddCardProviderDown(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	idx := NewIndexer(store, &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(4)}, nil)

	card, err := idx.AddCard(ctx, &models.CardInput{Name: "Nightshade Peddler", Text: "poison"})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	if card.HasEmbedding() {
		t.Error("expected card without embedding")
	}
	missing, err := store.CardsWithoutEmbedding(ctx, 0, 10)
	if err != nil || len(missing) != 1 {
		t.Errorf("CardsWithoutEmbedding = %d, %v; want 1", len(missing), err)
	}
}

func TestIndexer_DeleteCard(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	names := newTestNames(t)
	idx := NewIndexer(store, embedding.NewMockEmbedder(4), names)

	card, err := idx.AddCard(ctx, &models.CardInput{Name: "Shock", Text: "Shock deals 2 damage to any target."})
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.DeleteCard(ctx, card.ID); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	if _, err := store.GetCard(ctx, card.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCard after delete: %v", err)
	}
	if n, _ := names.DocCount(); n != 0 {
		t.Errorf("name index DocCount = %d, want 0", n)
	}
	if err := idx.DeleteCard(ctx, card.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: %v, want ErrNotFound", err)
	}
}

func seedCards(t *testing.T, store storage.CardStore, texts ...string) {
	t.Helper()
	for i, text := range texts {
		c := &models.Card{Name: "Card " + string(rune('A'+i)), Text: text}
		if err := store.CreateCard(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
}

func TestIndexer_Backfill(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCards(t, store, "one", "two", "three", "", "four", "five", "six", "seven")
	emb := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(4)}
	idx := NewIndexer(store, emb, nil, WithBatchSize(3))

	report, err := idx.Backfill(ctx, BackfillOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if report.Embedded != 7 || report.Failed != 0 {
		t.Errorf("report = %+v, want 7 embedded", report)
	}
	if emb.maxBatch > 3 {
		t.Errorf("largest batch = %d, want <= 3", emb.maxBatch)
	}
	if report.Batches != 3 {
		t.Errorf("batches = %d, want 3", report.Batches)
	}
	n, _ := store.CountEmbedded(ctx)
	if n != 7 {
		t.Errorf("CountEmbedded = %d, want 7", n)
	}

	again, err := idx.Backfill(ctx, BackfillOptions{})
	if err != nil || again.Embedded != 0 || again.Batches != 0 {
		t.Errorf("second run = %+v, %v; want nothing to do", again, err)
	}
}

func TestIndexer_BackfillFallsBackPerCard(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCards(t, store, "alpha", "poison touch", "gamma", "delta")
	emb := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), failBatch: true}
	idx := NewIndexer(store, emb, nil, WithBatchSize(2))

	report, err := idx.Backfill(ctx, BackfillOptions{})
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if report.Embedded != 3 || report.Failed != 1 || len(report.FailedIDs) != 1 {
		t.Fatalf("report = %+v, want 3 embedded and 1 failed", report)
	}
	bad, err := store.GetCard(ctx, report.FailedIDs[0])
	if err != nil || bad.Text != "poison touch" || bad.HasEmbedding() {
		t.Errorf("failed card = %+v, %v", bad, err)
	}
}

func TestIndexer_BackfillLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCards(t, store, "a", "b", "c", "d", "e")
	idx := NewIndexer(store, embedding.NewMockEmbedder(4), nil, WithBatchSize(2))

	report, err := idx.Backfill(ctx, BackfillOptions{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if report.Embedded != 3 {
		t.Errorf("embedded = %d, want 3", report.Embedded)
	}
}

func TestIndexer_BackfillCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := newTestStore(t)
	seedCards(t, store, "a")
	idx := NewIndexer(store, embedding.NewMockEmbedder(4), nil)
	if _, err := idx.Backfill(ctx, BackfillOptions{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

const atomicCardsJSON = `{
  "meta": {"version": "5.2.2"},
  "data": {
    "Lightning Bolt": [{"name": "Lightning Bolt", "text": "Lightning Bolt deals 3 damage to any target.",
      "type": "Instant", "manaCost": "{R}", "colors": ["R"]}],
    "Fire // Ice": [
      {"name": "Fire // Ice", "faceName": "Fire", "text": "Fire deals 2 damage divided as you choose.", "type": "Instant", "manaCost": "{1}{R}"},
      {"name": "Fire // Ice", "faceName": "Ice", "text": "Tap target permanent.", "type": "Instant", "manaCost": "{1}{U}"}
    ],
    "Jace, the Mind Sculptor": [{"name": "Jace, the Mind Sculptor", "type": "Legendary Planeswalker — Jace",
      "manaCost": "{2}{U}{U}", "colors": ["U"], "loyalty": "3", "text": "+2: Look at the top card of target player's library."}],
    "Empty": []
  }
}`

func TestIndexer_ImportAtomicCards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	names := newTestNames(t)
	idx := NewIndexer(store, embedding.NewMockEmbedder(4), names)

	report, err := idx.ImportJSON(ctx, strings.NewReader(atomicCardsJSON))
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if report.Imported != 3 || report.Skipped != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 3 imported", report)
	}

	fire, err := store.GetCardByName(ctx, "Fire // Ice")
	if err != nil {
		t.Fatal(err)
	}
	if fire.Text != "Fire deals 2 damage divided as you choose." || fire.ManaCost != "{1}{R}" {
		t.Errorf("first face not imported: %+v", fire)
	}
	jace, err := store.GetCardByName(ctx, "Jace, the Mind Sculptor")
	if err != nil {
		t.Fatal(err)
	}
	if jace.Loyalty != "3" || len(jace.Colors) != 1 || jace.Colors[0] != "U" {
		t.Errorf("jace = %+v", jace)
	}
	if jace.HasEmbedding() {
		t.Error("imports store cards without embeddings")
	}
	if n, _ := names.DocCount(); n != 3 {
		t.Errorf("name index DocCount = %d, want 3", n)
	}

	again, err := idx.ImportJSON(ctx, strings.NewReader(atomicCardsJSON))
	if err != nil {
		t.Fatal(err)
	}
	if again.Imported != 0 || again.Skipped != 3 {
		t.Errorf("re-import = %+v, want all skipped", again)
	}
}

func TestIndexer_ImportCardList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	idx := NewIndexer(store, embedding.NewMockEmbedder(4), nil)

	list := `[{"name": "Shock", "text": "Shock deals 2 damage to any target."},
	          {"name": "Shock"},
	          {"name": ""}]`
	report, err := idx.ImportJSON(ctx, strings.NewReader(list))
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 1 || report.Skipped != 1 || report.Failed != 1 || len(report.Errors) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestIndexer_ImportErrors(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer(newTestStore(t), embedding.NewMockEmbedder(4), nil)
	for _, input := range []string{"", "   ", "{", `{"meta": {}}`, `[{"name": 3}]`} {
		if _, err := idx.ImportJSON(ctx, strings.NewReader(input)); err == nil {
			t.Errorf("ImportJSON(%q): expected error", input)
		}
	}
	if _, err := idx.ImportFile(ctx, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("ImportFile on a missing file: expected error")
	}
}

func TestIndexer_ImportFileAndRebuildNames(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	path := filepath.Join(t.TempDir(), "AtomicCards.json")
	if err := os.WriteFile(path, []byte(atomicCardsJSON), 0644); err != nil {
		t.Fatal(err)
	}
	idx := NewIndexer(store, embedding.NewMockEmbedder(4), nil)
	if _, err := idx.ImportFile(ctx, path); err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if _, err := idx.RebuildNames(ctx); err == nil {
		t.Error("RebuildNames without a name index: expected error")
	}

	names := newTestNames(t)
	idx = NewIndexer(store, embedding.NewMockEmbedder(4), names)
	n, err := idx.RebuildNames(ctx)
	if err != nil || n != 3 {
		t.Fatalf("RebuildNames = %d, %v; want 3", n, err)
	}
	hits, _ := names.SearchNames(ctx, "bolt", 5, false)
	if len(hits) != 1 {
		t.Errorf("hits after rebuild = %+v", hits)
	}
}
