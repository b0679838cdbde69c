package tokenizer

import "unicode"

var scriptLocales = []struct {
	script *unicode.RangeTable
	locale string
}{
	{unicode.Hiragana, "ja"},
	{unicode.Katakana, "ja"},
	{unicode.Hangul, "ko"},
	{unicode.Han, "zh-CN"},
	{unicode.Cyrillic, "ru"},
	{unicode.Arabic, "ar"},
	{unicode.Hebrew, "he"},
	{unicode.Greek, "el"},
	{unicode.Thai, "th"},
	{unicode.Devanagari, "hi"},
}

// GuessLocale picks a locale from the script most letters of text are
// written in. Latin text, or text without letters, gets fallback.
func GuessLocale(text, fallback string) string {
	counts := make(map[string]int)
	latin := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		if unicode.Is(unicode.Latin, r) {
			latin++
			continue
		}
		for _, sl := range scriptLocales {
			if unicode.Is(sl.script, r) {
				counts[sl.locale]++
				break
			}
		}
	}
	best, bestCount := fallback, latin
	for _, sl := range scriptLocales {
		if c := counts[sl.locale]; c > bestCount {
			best, bestCount = sl.locale, c
		}
	}
	// kana mixed with kanji is Japanese even when kanji dominate
	if best == "zh-CN" && counts["ja"] > 0 {
		return "ja"
	}
	return best
}
