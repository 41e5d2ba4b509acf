// Package textnorm turns free text into index terms: whitespace tokenization,
// alphanumeric filtering, lowercasing, English stemming and stopword removal.
package textnorm

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/bbalet/stopwords"
	snowballeng "github.com/kljensen/snowball/english"
)

// InvalidKeywordError lists the raw tokens rejected in strict mode.
type InvalidKeywordError struct {
	Tokens []string
}

func (e *InvalidKeywordError) Error() string {
	return fmt.Sprintf("invalid keywords: %q", e.Tokens)
}

// Normalize returns the ordered term sequence for text. Duplicates are kept.
// In strict mode any token without a letter or digit fails the whole call;
// otherwise such tokens are dropped.
func Normalize(text string, strict bool) ([]string, error) {
	raw := strings.Fields(text)
	tokens := make([]string, 0, len(raw))
	var invalid []string
	for _, token := range raw {
		cleaned, ok := cleanToken(token)
		if !ok {
			invalid = append(invalid, token)
			continue
		}
		tokens = append(tokens, cleaned)
	}
	if strict && len(invalid) > 0 {
		return nil, &InvalidKeywordError{Tokens: invalid}
	}

	terms := make([]string, 0, len(tokens))
	for _, token := range tokens {
		stemmed := snowballeng.Stem(strings.ToLower(token), false)
		if stemmed == "" || isStopword(stemmed) {
			continue
		}
		terms = append(terms, stemmed)
	}
	return terms, nil
}

// Unique drops repeated terms, keeping first occurrences in order.
func Unique(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, exists := seen[term]; exists {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

// cleanToken trims surrounding punctuation. A token is usable when it has
// at least one letter or digit. Hyphens, apostrophes and periods inside it
// are kept; any other symbol is removed, so AT&T becomes ATT and 50/50
// becomes 5050.
func cleanToken(token string) (string, bool) {
	trimmed := strings.TrimFunc(token, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if trimmed == "" {
		return "", false
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		switch r {
		case '-', '\'', '.':
			return r
		}
		return -1
	}, trimmed), true
}

func isStopword(term string) bool {
	for _, r := range term {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return strings.TrimSpace(stopwords.CleanString(term, "en", false)) == ""
}
