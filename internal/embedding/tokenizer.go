package embedding

import (
	"strings"
	"unicode"

	"github.com/hyperjump/manasearch/pkg/utils"
)

const (
	clsToken  = 101
	sepToken  = 102
	vocabSize = 30000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs. Mana symbols such as
// {R} or {2}{U} stay single tokens.
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1

	pos := 1
	for _, word := range SplitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(word)%(vocabSize-1000)) + 1000
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords lowercases text and splits it into words, dropping punctuation other than
// the braces, digits, and slashes that make up mana and power/toughness notation.
func SplitWords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '{' || r == '}' || r == '/' || r == '+' || r == '-' || r == '\'')
	})
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	var h uint64
	for _, c := range s {
		h = 31*h + uint64(c)
	}
	return int(h >> 1)
}

func normalizeL2(x []float32) {
	utils.NormalizeL2(x)
}
