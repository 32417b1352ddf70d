package keyword

import (
	"sort"
	"strings"
	"sync"
)

// Suggestion is a candidate correction for one query term.
type Suggestion struct {
	Term      string  `json:"term"`
	Distance  int     `json:"distance"`
	Frequency int     `json:"frequency"`
	Score     float64 `json:"score"`
}

// SpellCheckResult is the outcome of checking a name query against the indexed names.
type SpellCheckResult struct {
	OriginalQuery   string       `json:"original_query"`
	CorrectedQuery  string       `json:"corrected_query"`
	Suggestions     []Suggestion `json:"suggestions"`
	MisspelledTerms []string     `json:"misspelled_terms"`
	HasCorrections  bool         `json:"has_corrections"`
}

// SpellChecker proposes card-name corrections ("Lightening Bolt" -> "lightning bolt").
// The term list is loaded lazily and reloaded after Invalidate.
type SpellChecker struct {
	dictionary     TermDictionary
	maxDistance    int
	minFreq        int
	maxSuggestions int

	mu    sync.RWMutex
	terms map[string]int
}

// SpellCheckerOption configures a SpellChecker.
type SpellCheckerOption func(*SpellChecker)

// WithMaxDistance sets the maximum edit distance for suggestions.
func WithMaxDistance(d int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMaxSuggestions sets how many suggestions are kept per term.
func WithMaxSuggestions(n int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if n > 0 {
			s.maxSuggestions = n
		}
	}
}

// NewSpellChecker creates a SpellChecker over dict.
func NewSpellChecker(dict TermDictionary, opts ...SpellCheckerOption) *SpellChecker {
	s := &SpellChecker{
		dictionary:     dict,
		maxDistance:    2,
		minFreq:        1,
		maxSuggestions: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate drops the cached term list; call it after cards are added or removed.
func (s *SpellChecker) Invalidate() {
	s.mu.Lock()
	s.terms = nil
	s.mu.Unlock()
}

func (s *SpellChecker) loadTerms() (map[string]int, error) {
	s.mu.RLock()
	terms := s.terms
	s.mu.RUnlock()
	if terms != nil {
		return terms, nil
	}

	terms, err := s.dictionary.Terms()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.terms = terms
	s.mu.Unlock()
	return terms, nil
}

// Check corrects each unknown term of query to its best suggestion.
func (s *SpellChecker) Check(query string) (*SpellCheckResult, error) {
	terms, err := s.loadTerms()
	if err != nil {
		return nil, err
	}

	result := &SpellCheckResult{
		OriginalQuery:   query,
		Suggestions:     []Suggestion{},
		MisspelledTerms: []string{},
	}
	words := tokenizeQuery(query)
	corrected := make([]string, 0, len(words))
	for _, word := range words {
		if _, ok := terms[word]; ok {
			corrected = append(corrected, word)
			continue
		}
		suggestions := suggest(terms, word, s.maxDistance, s.minFreq, s.maxSuggestions)
		if len(suggestions) == 0 {
			corrected = append(corrected, word)
			continue
		}
		result.HasCorrections = true
		result.MisspelledTerms = append(result.MisspelledTerms, word)
		result.Suggestions = append(result.Suggestions, suggestions...)
		corrected = append(corrected, suggestions[0].Term)
	}
	result.CorrectedQuery = strings.Join(corrected, " ")
	return result, nil
}

// SuggestedQuery returns the corrected query, or "" when nothing needed correcting.
func (s *SpellChecker) SuggestedQuery(query string) string {
	result, err := s.Check(query)
	if err != nil || !result.HasCorrections {
		return ""
	}
	return result.CorrectedQuery
}

// suggest ranks dictionary terms within maxDistance of word: closer first, then more
// frequent, then alphabetical.
func suggest(terms map[string]int, word string, maxDistance, minFreq, limit int) []Suggestion {
	var out []Suggestion
	wordLen := len([]rune(word))
	for term, freq := range terms {
		if freq < minFreq || term == word {
			continue
		}
		if diff := len([]rune(term)) - wordLen; diff > maxDistance || -diff > maxDistance {
			continue
		}
		d := LevenshteinDistance(word, term)
		if d > maxDistance {
			continue
		}
		out = append(out, Suggestion{
			Term:      term,
			Distance:  d,
			Frequency: freq,
			Score:     float64(freq) / float64(d+1),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
