package tokenizer

import (
	"reflect"
	"testing"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func positions(tokens []Token) []int {
	out := make([]int, len(tokens))
	for i, t := range tokens {
		out[i] = t.Position
	}
	return out
}

func TestTokenizeKeepsGaps(t *testing.T) {
	tokens, span := TokenizeSpan("The quick brown fox")
	if got := terms(tokens); !reflect.DeepEqual(got, []string{"quick", "brown", "fox"}) {
		t.Errorf("terms: %v", got)
	}
	if got := positions(tokens); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("positions: %v", got)
	}
	if span != 4 {
		t.Errorf("span: got %d want 4", span)
	}
}

func TestTokenizeNormalizes(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Searching ENGINES", []string{"search", "engin"}},
		{"ﬁle", []string{"file"}},
		{"x y zz", []string{"zz"}},
		{"e-mail, hello!", []string{"mail", "hello"}},
		{"2024 42", []string{"2024", "42"}},
	}
	for _, tt := range tests {
		if got := terms(Tokenize(tt.in)); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v want %v", tt.in, got, tt.want)
		}
	}
}

func TestTokenizeCharGrams(t *testing.T) {
	tokens := Tokenize("東京都 abc")
	want := []Token{{"東京", 0}, {"京都", 1}, {"abc", 3}}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("got %v want %v", tokens, want)
	}
	single := Tokenize("中")
	if len(single) != 1 || single[0].Term != "中" {
		t.Errorf("single char: %v", single)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	tokens, span := TokenizeSpan("  ,, !! ")
	if len(tokens) != 0 || span != 0 {
		t.Errorf("got %v span %d", tokens, span)
	}
}

func TestGuessLocale(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"hello world", "en-US"},
		{"", "en-US"},
		{"Привет мир", "ru"},
		{"東京タワーへ行く", "ja"},
		{"北京大学", "zh-CN"},
		{"안녕하세요", "ko"},
	}
	for _, tt := range tests {
		if got := GuessLocale(tt.text, "en-US"); got != tt.want {
			t.Errorf("GuessLocale(%q) = %q want %q", tt.text, got, tt.want)
		}
	}
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"relational": "relate",
		"running":    "runn",
		"classes":    "class",
		"glass":      "glass",
		"flies":      "fly",
		"cat":        "cat",
	}
	for in, want := range tests {
		if got := Stem(in); got != want {
			t.Errorf("Stem(%q) = %q want %q", in, got, want)
		}
	}
}
