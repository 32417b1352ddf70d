package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/manasearch/internal/models"
)

const defaultFuzziness = 2

// BleveIndex implements NameIndex with Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is reused;
// remove the directory after changing the mapping to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(path, cardMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemBleveIndex creates an index that lives only in memory.
func NewMemBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(cardMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func cardMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer lowercases without stemming, so "elves" does not match "elf".
	name := bleve.NewTextFieldMapping()
	name.Analyzer = standard.Name
	name.Store = true
	doc.AddFieldMappingsAt("name", name)

	typeLine := bleve.NewTextFieldMapping()
	typeLine.Analyzer = standard.Name
	typeLine.Store = false
	doc.AddFieldMappingsAt("type", typeLine)

	im.AddDocumentMapping("card", doc)
	im.DefaultType = "card"
	im.DefaultMapping = doc
	return im
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// IndexCard adds or replaces the card's name entry.
func (b *BleveIndex) IndexCard(ctx context.Context, card *models.Card) error {
	if card == nil || card.ID == 0 {
		return fmt.Errorf("card must be saved before indexing")
	}
	return b.index.Index(docID(card.ID), map[string]interface{}{
		"name": card.Name,
		"type": card.Type,
	})
}

// Delete removes a card from the index. Unknown IDs are not an error.
func (b *BleveIndex) Delete(ctx context.Context, id int64) error {
	return b.index.Delete(docID(id))
}

// SearchNames returns up to limit cards whose name matches query, best first. Without fuzzy,
// the last term also matches as a prefix so partially typed names work. With fuzzy, each
// term matches within an edit distance of 2.
func (b *BleveIndex) SearchNames(ctx context.Context, query string, limit int, fuzzy bool) ([]NameHit, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var q blevequery.Query
	if fuzzy {
		q = buildFuzzyQuery(terms, defaultFuzziness)
	} else {
		match := bleve.NewMatchQuery(strings.Join(terms, " "))
		match.SetField("name")
		match.SetOperator(blevequery.MatchQueryOperatorAnd)
		prefix := bleve.NewPrefixQuery(terms[len(terms)-1])
		prefix.SetField("name")
		q = bleve.NewDisjunctionQuery(match, prefix)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"name"}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hits := make([]NameHit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		name, _ := hit.Fields["name"].(string)
		hits = append(hits, NameHit{ID: id, Name: name, Score: hit.Score})
	}
	return hits, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
}

// buildFuzzyQuery ORs one fuzzy query per term on the name field.
func buildFuzzyQuery(terms []string, fuzziness int) blevequery.Query {
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("name")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Terms returns every indexed name term with the number of cards containing it.
func (b *BleveIndex) Terms() (map[string]int, error) {
	dict, err := b.index.FieldDict("name")
	if err != nil {
		return nil, fmt.Errorf("failed to read name dictionary: %w", err)
	}
	defer dict.Close()

	terms := make(map[string]int)
	for {
		entry, err := dict.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read name dictionary: %w", err)
		}
		if entry == nil {
			break
		}
		terms[entry.Term] = int(entry.Count)
	}
	return terms, nil
}

// DocCount returns the number of indexed cards.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
