package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

// ImportReport summarizes an import.
type ImportReport struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// atomicCard is one face of an entry in an MTGJSON AtomicCards file.
type atomicCard struct {
	Name      string   `json:"name"`
	Text      string   `json:"text"`
	Type      string   `json:"type"`
	ManaCost  string   `json:"manaCost"`
	Colors    []string `json:"colors"`
	Power     string   `json:"power"`
	Toughness string   `json:"toughness"`
	Loyalty   string   `json:"loyalty"`
}

type atomicCardsFile struct {
	Data map[string][]atomicCard `json:"data"`
}

// maxImportErrors bounds the per-card messages kept in a report.
const maxImportErrors = 20

// ImportFile imports cards from a JSON file. See ImportJSON for the accepted formats.
func (idx *Indexer) ImportFile(ctx context.Context, path string) (*ImportReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	report, err := idx.ImportJSON(ctx, bufio.NewReader(f))
	if err != nil {
		return report, fmt.Errorf("import %s: %w", path, err)
	}
	idx.logger.Info("import finished",
		zap.String("path", path),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// ImportJSON imports cards from r, which holds either an MTGJSON AtomicCards document
// ({"data": {"Name": [face, ...]}}, first face imported) or a plain JSON array of cards.
// Cards whose name already exists are skipped. Cards are stored without embeddings;
// run Backfill afterwards.
func (idx *Indexer) ImportJSON(ctx context.Context, r io.Reader) (*ImportReport, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	inputs, err := decodeCards(raw)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{}
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		in.Name = NormalizeName(in.Name)
		in.Text = Preprocess(in.Text)
		if err := in.Validate(); err != nil {
			report.fail(fmt.Sprintf("invalid card: %v", err))
			continue
		}
		if _, dup := seen[in.Name]; dup {
			report.Skipped++
			continue
		}
		seen[in.Name] = struct{}{}

		_, err := idx.store.GetCardByName(ctx, in.Name)
		if err == nil {
			report.Skipped++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return report, fmt.Errorf("lookup %q: %w", in.Name, err)
		}

		card := in.Card()
		if err := idx.store.CreateCard(ctx, card); err != nil {
			report.fail(fmt.Sprintf("%s: %v", in.Name, err))
			continue
		}
		if err := idx.indexName(ctx, card); err != nil {
			idx.logger.Warn("card stored but not name-indexed", zap.String("name", card.Name), zap.Error(err))
		}
		report.Imported++
	}
	return report, nil
}

func (r *ImportReport) fail(msg string) {
	r.Failed++
	if len(r.Errors) < maxImportErrors {
		r.Errors = append(r.Errors, msg)
	}
}

func decodeCards(raw []byte) ([]models.CardInput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty import")
	}
	if trimmed[0] == '[' {
		var inputs []models.CardInput
		if err := json.Unmarshal(trimmed, &inputs); err != nil {
			return nil, fmt.Errorf("decode card list: %w", err)
		}
		return inputs, nil
	}

	var file atomicCardsFile
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return nil, fmt.Errorf("decode AtomicCards: %w", err)
	}
	if file.Data == nil {
		return nil, fmt.Errorf("decode AtomicCards: missing \"data\" object")
	}
	names := make([]string, 0, len(file.Data))
	for name := range file.Data {
		names = append(names, name)
	}
	sort.Strings(names)

	inputs := make([]models.CardInput, 0, len(names))
	for _, name := range names {
		faces := file.Data[name]
		if len(faces) == 0 {
			continue
		}
		f := faces[0]
		if f.Name == "" {
			f.Name = name
		}
		inputs = append(inputs, models.CardInput{
			Name:      f.Name,
			Text:      f.Text,
			Type:      f.Type,
			ManaCost:  f.ManaCost,
			Colors:    f.Colors,
			Power:     f.Power,
			Toughness: f.Toughness,
			Loyalty:   f.Loyalty,
		})
	}
	return inputs, nil
}
