package models

import (
	"testing"
)

func TestSearchQuery_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name       string
		query      *SearchQuery
		wantErr    bool
		wantK      int
		wantMetric string
	}{
		{"empty query", &SearchQuery{Text: ""}, true, 0, ""},
		{"whitespace query", &SearchQuery{Text: "   "}, true, 0, ""},
		{"negative k", &SearchQuery{Text: "x", K: -1}, true, 0, ""},
		{"sets default k and metric", &SearchQuery{Text: "x"}, false, 5, "L2"},
		{"keeps explicit k", &SearchQuery{Text: "x", K: 3, Metric: "cosine"}, false, 3, "cosine"},
		{"caps k at max", &SearchQuery{Text: "x", K: 500}, false, 100, "L2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.ApplyDefaults(5, 100, "L2")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
			if tt.query.Metric != tt.wantMetric {
				t.Errorf("Metric = %q, want %q", tt.query.Metric, tt.wantMetric)
			}
		})
	}
}

func TestSearchQuery_ApplyDefaultsTrimsText(t *testing.T) {
	q := &SearchQuery{Text: "  flying dragon  "}
	if err := q.ApplyDefaults(5, 0, "L2"); err != nil {
		t.Fatal(err)
	}
	if q.Text != "flying dragon" {
		t.Errorf("Text = %q", q.Text)
	}
}

func TestCardInput_Validate(t *testing.T) {
	in := &CardInput{Name: "  Shock ", Text: " Shock deals 2 damage to any target. "}
	if err := in.Validate(); err != nil {
		t.Fatal(err)
	}
	if in.Name != "Shock" {
		t.Errorf("Name = %q", in.Name)
	}
	card := in.Card()
	if card.Name != "Shock" || card.Text != "Shock deals 2 damage to any target." {
		t.Errorf("unexpected card %+v", card)
	}
	if err := (&CardInput{Name: " "}).Validate(); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestIndexedEntry_HasVector(t *testing.T) {
	if (IndexedEntry{Vector: []float32{1}}).HasVector() {
		t.Error("entry without card should not have vector")
	}
	if (IndexedEntry{Card: &Card{ID: 1}}).HasVector() {
		t.Error("entry with empty vector should not have vector")
	}
	e := IndexedEntry{Card: &Card{ID: 7}, Vector: []float32{0.5}}
	if !e.HasVector() || e.ID() != 7 {
		t.Errorf("unexpected entry state: %v %d", e.HasVector(), e.ID())
	}
}
