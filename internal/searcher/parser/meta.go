package parser

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/quarrysearch/quarry/internal/indexer/tokenizer"
)

// MetaWords are the prefixes recognised as meta words, in extraction order.
// "-" marks an excluded term; "i:"/"index:" and "w:"/"weight:" select the
// index and the weight and are not searched for.
var MetaWords = []string{
	"link:", "site:", "version:", "modified:", "filetype:", "info:", "-",
	"os:", "server:", "date:", "numlinks:", "index:", "i:", "ip:",
	"weight:", "w:", "u:", "time:", "code:", "lang:", "media:", "elink:",
	"location:", "size:", "host:", "dns:", "path:", "robot:", "safe:",
	"guid:", "class:", "class-score:",
}

// MetaInfo is what ExtractMetaWordInfo finds in a phrase.
type MetaInfo struct {
	// Metas are the searchable meta words, lower-cased and deduplicated.
	Metas []string
	// Disallows are the excluded terms without their "-".
	Disallows []string
	// Phrase is the input with every meta word removed.
	Phrase string
	// QueryString is Phrase with punctuation replaced by spaces.
	QueryString string
	IndexName   string
	Weight      float64
}

// ExtractMetaWordInfo removes the meta words of phrase and classifies them.
// A weight that is not a number is left in the phrase as ordinary text.
func ExtractMetaWordInfo(phrase string) MetaInfo {
	info := MetaInfo{Weight: 1}
	fields := strings.Fields(phrase)
	used := make([]bool, len(fields))
	seen := make(map[string]struct{})
	indexSet, weightSet := false, false
	for _, meta := range MetaWords {
		for i, f := range fields {
			if used[i] || len(f) <= len(meta) || !strings.HasPrefix(f, meta) {
				continue
			}
			body := f[len(meta):]
			switch meta {
			case "-":
				info.Disallows = append(info.Disallows, body)
			case "i:", "index:":
				if !indexSet {
					info.IndexName = body
					indexSet = true
				}
			case "w:", "weight:":
				w, err := strconv.ParseFloat(body, 64)
				if err != nil {
					continue
				}
				if !weightSet {
					info.Weight = w
					weightSet = true
				}
			default:
				m := strings.ToLower(f)
				if _, dup := seen[m]; !dup {
					seen[m] = struct{}{}
					info.Metas = append(info.Metas, m)
				}
			}
			used[i] = true
		}
	}
	rest := make([]string, 0, len(fields))
	for i, f := range fields {
		if !used[i] {
			rest = append(rest, f)
		}
	}
	info.Phrase = " " + strings.Join(rest, " ")
	info.QueryString = strings.Join(strings.FieldsFunc(info.Phrase, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '&') || unicode.IsSymbol(r)
	}), " ")
	return info
}

var domainSuffixes = []string{".com", ".net", ".edu", ".org", ".gov", ".mil", ".ca", ".uk", ".fr", ".ly"}

var letterWords = map[string]string{
	"ar": "سالة",
	"de": "Buchstabe",
	"en": "letter",
	"es": "letra",
	"fa": "نامه",
	"fr": "lettre",
	"it": "lettera",
	"po": "literą",
	"pt": "letra",
	"tr": "harfi",
	"ru": "буква",
	"vi": "thư",
}

// GuessSemantics rewrites query terms that look like what they are: a host
// name becomes a site: meta word, info: gets a scheme, and a query of a
// single letter asks for the letter by name in the locale's language.
func GuessSemantics(phrase, locale string) string {
	trimmed := strings.TrimSpace(phrase)
	n := utf8.RuneCountInString(trimmed)
	if n > 4 {
		for _, suffix := range domainSuffixes {
			phrase = endMatch(phrase, suffix, "site:", []string{":", "@"})
		}
		phrase = beginMatch(phrase, "www.", "site:www.", "", nil)
		phrase = beginMatch(phrase, "http:", "site:http:", "", nil)
		phrase = beginMatch(phrase, "info:", "info:http://", "/", []string{"/"})
		phrase = beginMatch(phrase, "info:", "info:http://", "", []string{"http"})
	}
	if n == 1 {
		main := locale
		if len(main) > 2 {
			main = main[:2]
		}
		if letter, ok := letterWords[main]; ok {
			phrase = " " + letter + " " + trimmed
		}
	}
	if strings.HasPrefix(strings.TrimSpace(phrase), "mimetyp") {
		phrase = " mime"
	}
	return phrase
}

// beginMatch moves every Latin term starting with prefix to the end of the
// phrase, rewritten to newPrefix+rest+suffix unless it contains one of
// notContains.
func beginMatch(phrase, prefix, newPrefix, suffix string, notContains []string) string {
	return moveMatches(phrase, func(f string) bool {
		return len(f) > len(prefix) && strings.HasPrefix(f, prefix)
	}, func(f string) string {
		return newPrefix + f[len(prefix):] + suffix
	}, notContains)
}

// endMatch moves every Latin term ending in suffix to the end of the phrase
// with newPrefix in front unless it contains one of notContains.
func endMatch(phrase, suffix, newPrefix string, notContains []string) string {
	return moveMatches(phrase, func(f string) bool {
		return len(f) > len(suffix) && strings.HasSuffix(f, suffix)
	}, func(f string) string {
		return newPrefix + f
	}, notContains)
}

func moveMatches(phrase string, match func(string) bool, rewrite func(string) string, notContains []string) string {
	var kept, moved []string
	for _, f := range strings.Fields(phrase) {
		if !match(f) {
			kept = append(kept, f)
			continue
		}
		if isLatin(f) && !containsAny(f, notContains) {
			f = rewrite(f)
		}
		moved = append(moved, f)
	}
	return " " + strings.Join(append(kept, moved...), " ")
}

func isLatin(s string) bool {
	return tokenizer.GuessLocale(s, "en-US") == "en-US"
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ParseIfConditions evaluates if:cond!then!else terms. When the rest of the
// phrase contains cond, ignoring case, then is appended, otherwise else is.
// A "+" in the appended text stands for a space.
func ParseIfConditions(phrase string) string {
	var conds, rest []string
	for _, f := range strings.Fields(phrase) {
		if len(f) > 3 && strings.HasPrefix(f, "if:") {
			conds = append(conds, f[3:])
			continue
		}
		rest = append(rest, f)
	}
	if len(conds) == 0 {
		return phrase
	}
	result := " " + strings.Join(rest, " ")
	for _, c := range conds {
		parts := strings.Split(c, "!")
		if len(parts) < 2 {
			continue
		}
		if strings.Contains(strings.ToLower(result), strings.ToLower(parts[0])) {
			result += " " + strings.ReplaceAll(parts[1], "+", " ")
		} else if len(parts) > 2 {
			result += " " + strings.ReplaceAll(parts[2], "+", " ")
		}
	}
	return result
}
