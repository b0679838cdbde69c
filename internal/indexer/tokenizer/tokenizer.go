// Package tokenizer turns text into positioned terms for the index. It
// segments words with UAX #29, applies NFKC normalisation and lower-casing,
// removes stop-words, stems Latin words and splits CJK runs into character
// bigrams.
package tokenizer

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token represents a single normalised term and its position in the
// original text. Positions count every word, including dropped ones, so
// gaps between tokens are preserved for phrase matching.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into stemmed, lowercased Tokens with stop-words
// removed.
func Tokenize(text string) []Token {
	tokens, _ := TokenizeSpan(text)
	return tokens
}

// TokenizeSpan is Tokenize that also returns the number of positions the
// text occupies.
func TokenizeSpan(text string) ([]Token, int) {
	text = Normalize(text)
	tokens := make([]Token, 0, len(text)/6)
	pos := 0
	var run []rune
	runStart := 0
	flushRun := func() {
		tokens = appendCharGrams(tokens, run, runStart)
		run = run[:0]
	}
	segs := words.FromString(text)
	for segs.Next() {
		word := segs.Value()
		if !isWord(word) {
			continue
		}
		if isCJK(word) {
			if len(run) == 0 {
				runStart = pos
			}
			for _, r := range word {
				run = append(run, r)
				pos++
			}
			continue
		}
		if len(run) > 0 {
			flushRun()
		}
		if term, ok := Term(word); ok {
			tokens = append(tokens, Token{Term: term, Position: pos})
		}
		pos++
	}
	if len(run) > 0 {
		flushRun()
	}
	return tokens, pos
}

// Normalize applies NFKC normalisation and lower-cases s.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// Term maps a single normalised word to its index term. ok is false for
// stop-words and one letter Latin words.
func Term(word string) (string, bool) {
	if _, isStop := stopWords[word]; isStop {
		return "", false
	}
	if isLatin(word) {
		if len(word) < 2 {
			return "", false
		}
		stemmed := Stem(word)
		if stemmed == "" {
			return "", false
		}
		return stemmed, true
	}
	return word, true
}

// IsStopWord reports whether word is dropped from the index.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

func appendCharGrams(tokens []Token, run []rune, start int) []Token {
	if len(run) == 1 {
		return append(tokens, Token{Term: string(run), Position: start})
	}
	for i := 0; i+1 < len(run); i++ {
		tokens = append(tokens, Token{Term: string(run[i : i+2]), Position: start + i})
	}
	return tokens
}

func isWord(seg string) bool {
	for _, r := range seg {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isCJK(seg string) bool {
	for _, r := range seg {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

func isLatin(seg string) bool {
	for _, r := range seg {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

// Stem applies a simple suffix-stripping stemmer to the given word.
func Stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}
