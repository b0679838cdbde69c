// Package parser turns a raw query into the structures the executor builds
// iterators from. A query is first split into presentation parts on #N#
// markers, each part into disjuncts on "|", and each disjunct is parsed into
// a WordStruct: the hashes of its terms and meta words, the exact phrase
// constraints of its quoted spans, the hashes of excluded terms, a weight and
// the index to search.
package parser

import (
	"strings"

	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/indexer/tokenizer"
)

// AnySite is the meta word every row is posted under.
const AnySite = "site:any"

// DocSite is the meta word every content document is posted under.
const DocSite = "site:doc"

// Key is one term of a WordStruct. A non-zero Shift marks a completion term
// ("word *") whose hash is a path subtree; the executor resolves it against
// the dictionary into the matching phrase paths.
type Key struct {
	Word  string
	Hash  hash.WordHash
	Shift uint
}

// IsPath reports whether k matches a subtree of phrase paths.
func (k Key) IsPath() bool { return k.Shift > 0 }

// QuoteTerm places a key of a quoted span at a relative position.
type QuoteTerm struct {
	Key    int
	Offset int
}

// WordStruct is one parsed conjunctive clause.
type WordStruct struct {
	Keys         []Key
	QuotePhrases [][]QuoteTerm
	DisallowKeys []Key
	Weight       float64
	IndexName    string
}

// DistinctKeys returns the keys with duplicates removed, in first seen
// order, and for every key of ws.Keys the index of its distinct key.
func (ws *WordStruct) DistinctKeys() ([]Key, []int) {
	seen := make(map[Key]int, len(ws.Keys))
	distinct := make([]Key, 0, len(ws.Keys))
	mapping := make([]int, len(ws.Keys))
	for i, k := range ws.Keys {
		j, ok := seen[k]
		if !ok {
			j = len(distinct)
			seen[k] = j
			distinct = append(distinct, k)
		}
		mapping[i] = j
	}
	return distinct, mapping
}

// Options controls ParseConjunctive.
type Options struct {
	// GuessSemantics enables the domain, www. and single letter rewrites.
	GuessSemantics bool
	// Locale is used for the single letter rewrite and as the fallback of
	// locale guessing.
	Locale string
	// IndexName is used when the query names no index.
	IndexName string
	// MaxQueryTerms bounds the number of excluded terms.
	MaxQueryTerms int
}

func (o Options) withDefaults() Options {
	if o.Locale == "" {
		o.Locale = "en-US"
	}
	if o.MaxQueryTerms <= 0 {
		o.MaxQueryTerms = 10
	}
	return o
}

// SplitDisjuncts splits a presentation part into its "|" separated
// disjuncts, dropping empty ones.
func SplitDisjuncts(phrase string) []string {
	var out []string
	for _, d := range strings.Split(phrase, "|") {
		if strings.TrimSpace(d) != "" {
			out = append(out, d)
		}
	}
	return out
}

// ParseConjunctive parses one disjunct. It returns nil when the disjunct has
// nothing to search for, together with the words to highlight in results.
func ParseConjunctive(phrase string, opts Options) (*WordStruct, []string) {
	opts = opts.withDefaults()
	phrase = " " + phrase
	if opts.GuessSemantics {
		phrase = GuessSemantics(phrase, opts.Locale)
	}
	phrase = ParseIfConditions(phrase)
	info := ExtractMetaWordInfo(phrase)

	ws := &WordStruct{
		Weight:    info.Weight,
		IndexName: info.IndexName,
	}
	if ws.IndexName == "" {
		ws.IndexName = opts.IndexName
	}

	var baseWords []string
	quoted := false
	for _, part := range strings.Split(info.Phrase, `"`) {
		if quoted {
			terms := parseQuoted(ws, part)
			if len(terms) > 1 {
				ws.QuotePhrases = append(ws.QuotePhrases, terms)
			}
			for _, t := range terms {
				baseWords = append(baseWords, ws.Keys[t.Key].Word)
			}
		} else {
			baseWords = append(baseWords, parseUnquoted(ws, part)...)
		}
		quoted = !quoted
	}
	for _, meta := range info.Metas {
		ws.Keys = append(ws.Keys, Key{Word: meta, Hash: hash.Crawl(meta)})
	}
	for _, d := range info.Disallows {
		if len(ws.DisallowKeys) >= opts.MaxQueryTerms {
			break
		}
		if !strings.Contains(d, ":") {
			term, ok := tokenizer.Term(tokenizer.Normalize(d))
			if !ok {
				continue
			}
			d = term
		}
		ws.DisallowKeys = append(ws.DisallowKeys, Key{Word: d, Hash: hash.Crawl(d)})
	}
	if len(ws.Keys) == 0 {
		if len(ws.DisallowKeys) == 0 {
			return nil, nil
		}
		ws.Keys = []Key{{Word: AnySite, Hash: hash.Crawl(AnySite)}}
	}
	return ws, formatWords(strings.Fields(info.QueryString), baseWords)
}

// parseQuoted adds the keys of a quoted span to ws and returns their
// relative offsets. Each "*" inside the span stands for exactly one word.
func parseQuoted(ws *WordStruct, span string) []QuoteTerm {
	var terms []QuoteTerm
	offset := 0
	for i, sub := range strings.Split(span, hash.Wildcard) {
		if i > 0 {
			offset++
		}
		tokens, width := tokenizer.TokenizeSpan(sub)
		for _, tok := range tokens {
			terms = append(terms, QuoteTerm{Key: len(ws.Keys), Offset: offset + tok.Position})
			ws.Keys = append(ws.Keys, Key{Word: tok.Term, Hash: hash.Crawl(tok.Term)})
		}
		offset += width
	}
	return terms
}

// parseUnquoted adds the terms of free text to ws. A standalone "*" after a
// word turns that word into a completion term.
func parseUnquoted(ws *WordStruct, text string) []string {
	var words []string
	lastWord := ""
	for _, field := range strings.Fields(text) {
		if field == hash.Wildcard {
			if lastWord != "" {
				pk := hash.SubtreeKey(lastWord, 1)
				ws.Keys[len(ws.Keys)-1] = Key{Word: lastWord + " " + hash.Wildcard, Hash: pk.Hash, Shift: pk.Shift}
				lastWord = ""
			}
			continue
		}
		lastWord = ""
		for _, tok := range tokenizer.Tokenize(field) {
			ws.Keys = append(ws.Keys, Key{Word: tok.Term, Hash: hash.Crawl(tok.Term)})
			words = append(words, tok.Term)
			lastWord = tok.Term
		}
	}
	return words
}

// formatWords returns the words to highlight: the query words followed by
// the index terms, leaving out words contained in another one.
func formatWords(queryWords, baseWords []string) []string {
	all := make([]string, 0, len(queryWords)+len(baseWords))
	seen := make(map[string]struct{})
	for _, w := range append(queryWords, baseWords...) {
		w = strings.ToLower(w)
		if _, ok := seen[w]; ok || w == "" {
			continue
		}
		seen[w] = struct{}{}
		all = append(all, w)
	}
	out := all[:0:0]
	for i, w := range all {
		contained := false
		for j, other := range all {
			if i != j && len(other) > len(w) && strings.Contains(other, w) {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, w)
		}
	}
	return out
}
