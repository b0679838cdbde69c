package hash

import (
	"crypto/md5"
	"strings"
	"testing"
)

func TestCrawlStable(t *testing.T) {
	terms := []string{"", "a", "quarry", "site:www.example.com", "日本語"}
	for _, term := range terms {
		a, b := Crawl(term), Crawl(term)
		if a != b {
			t.Errorf("Crawl(%q) not stable: %x vs %x", term, a, b)
		}
		sum := md5.Sum([]byte(term))
		for i := 0; i < Size; i++ {
			if a[i] != sum[i]^sum[i+8] {
				t.Fatalf("Crawl(%q) byte %d does not fold digest halves", term, i)
			}
		}
	}
	if Crawl("cat") == Crawl("dog") {
		t.Error("distinct terms produced the same hash")
	}
}

func TestBase64RoundTrip(t *testing.T) {
	for _, term := range []string{"a", "b", "c", "hello", "world", "site:any"} {
		h := Crawl(term)
		s := h.String()
		if strings.ContainsAny(s, "/+=") {
			t.Errorf("Base64(%q) = %q contains unsafe characters", term, s)
		}
		if len(s) != 11 {
			t.Errorf("Base64(%q) length %d want 11", term, len(s))
		}
		back, err := ParseBase64(s)
		if err != nil {
			t.Fatalf("ParseBase64(%q): %v", s, err)
		}
		if back != h {
			t.Errorf("round trip of %q: got %x want %x", term, back, h)
		}
	}
	if _, err := ParseBase64("AAAA"); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestBase64Alphabet(t *testing.T) {
	// 0xFB 0xFF encodes to "+/8" in standard base64
	if got := Base64([]byte{0xFB, 0xFF}); got != "-_8" {
		t.Errorf("got %q want %q", got, "-_8")
	}
}

func TestCompare(t *testing.T) {
	a := WordHash{1, 2, 3, 4, 0, 0, 0, 10}
	b := WordHash{1, 2, 3, 4, 0, 0, 0, 12}
	c := WordHash{1, 2, 3, 5, 0, 0, 0, 0}
	tests := []struct {
		x, y  WordHash
		shift uint
		want  int
	}{
		{a, a, 0, 0},
		{a, b, 0, -1},
		{b, a, 0, 1},
		{a, b, 2, -1},
		{a, b, 3, 0},
		{a, c, 0, -1},
		{c, a, 30, 1},
	}
	for _, tt := range tests {
		if got := Compare(tt.x, tt.y, tt.shift); got != tt.want {
			t.Errorf("Compare(%v, %v, %d) = %d want %d", tt.x, tt.y, tt.shift, got, tt.want)
		}
	}
}

func TestPathFrontBytes(t *testing.T) {
	front := Crawl("new")
	for _, s := range []string{"new york", "new jersey", "new *"} {
		h := Path(s, 4)
		if string(h[:5]) != string(front[:5]) {
			t.Errorf("Path(%q) front %x want %x", s, h[:5], front[:5])
		}
	}
	ny, oy := Path("new york", 4), Path("old york", 4)
	if string(ny[:5]) == string(oy[:5]) {
		t.Error("different prefixes share a front hash")
	}
	if Path("abc", 0) != Crawl("abc") {
		t.Error("zero path start should hash the whole string")
	}
}

func TestPathSegmentCodes(t *testing.T) {
	tests := []struct {
		parts int
		top   uint32
		bits  uint
	}{
		{2, 0b01, 2},
		{3, 0b100, 3},
		{4, 0b1100, 4},
		{5, 0b1101, 4},
		{6, 0b111000, 6},
		{7, 0b111100, 6},
		{9, 0b111100, 6},
		{10, 0b111110, 6},
		{18, 0b111110, 6},
	}
	for _, tt := range tests {
		s := "x " + strings.TrimSpace(strings.Repeat("* ", tt.parts))
		h := Path(s, 2)
		low := uint32(h[5])<<16 | uint32(h[6])<<8 | uint32(h[7])
		if got := low >> (24 - tt.bits); got != tt.top {
			t.Errorf("%d parts: code %b want %b", tt.parts, got, tt.top)
		}
		if low&(1<<(24-tt.bits)-1) != 0 {
			t.Errorf("%d wildcard parts should leave the payload zero, got %x", tt.parts, low)
		}
	}
}

func TestSubtreeKeyMatchesCompletions(t *testing.T) {
	key := SubtreeKey("new", 1)
	if key.Shift != 22 {
		t.Fatalf("shift: got %d want 22", key.Shift)
	}
	for _, s := range []string{"new york", "new jersey", "new zealand"} {
		if Compare(Path(s, 4), key.Hash, key.Shift) != 0 {
			t.Errorf("%q should fall under the subtree of new *", s)
		}
	}
	if Compare(Path("old york", 4), key.Hash, key.Shift) == 0 {
		t.Error("old york should not match new *")
	}
	two := SubtreeKey("new york", 1)
	if two.Shift != 11 {
		t.Errorf("two part shift: got %d want 11", two.Shift)
	}
	if Compare(Path("new york city", 4), two.Hash, two.Shift) != 0 {
		t.Error("new york city should match new york *")
	}
}

func TestAllPaths(t *testing.T) {
	keys := AllPaths("a b c", 10)
	if keys[0].Hash != Crawl("a b c") || keys[0].Shift != 0 {
		t.Fatalf("first key should be the plain hash")
	}
	// one plain hash plus 8 keys for each of the two split points
	if len(keys) != 17 {
		t.Fatalf("got %d keys want 17", len(keys))
	}
	if keys[1].Hash != Path("a b c", 2) || keys[1].Shift != 0 {
		t.Errorf("split after a: got %+v", keys[1])
	}
	if keys[2].Hash != Path("a b c *", 2) || keys[2].Shift != 7 {
		t.Errorf("split after a with wildcard: got %+v", keys[2])
	}
	if keys[9].Hash != Path("a b c", 4) {
		t.Errorf("split after b: got %+v", keys[9])
	}
	if keys[10].Shift != 11 {
		t.Errorf("split after b with wildcard shift: got %d want 11", keys[10].Shift)
	}
	if single := AllPaths("word", 10); len(single) != 1 {
		t.Errorf("single word: got %d keys want 1", len(single))
	}
}

func TestPartition(t *testing.T) {
	counts := make([]int, 4)
	for i := 0; i < 400; i++ {
		p := Partition("http://example.com/"+strings.Repeat("x", i), 4)
		if p < 0 || p >= 4 {
			t.Fatalf("partition %d out of range", p)
		}
		counts[p]++
	}
	for i, c := range counts {
		if c == 0 {
			t.Errorf("partition %d received nothing", i)
		}
	}
	if Partition("abc", 1) != 0 {
		t.Error("single partition must be zero")
	}
	if Partition("abc", 7) != Partition("abc", 7) {
		t.Error("partition not stable")
	}
}

func TestCrypt(t *testing.T) {
	d := Crypt("secret", "1234567")
	if !strings.HasSuffix(d, "34567") {
		t.Errorf("digest %q should end with the last five salt characters", d)
	}
	if !CheckCrypt("secret", d) {
		t.Error("CheckCrypt rejected a valid digest")
	}
	if CheckCrypt("other", d) {
		t.Error("CheckCrypt accepted the wrong input")
	}
	r := Crypt("secret", "")
	if len(r) != 16 || !CheckCrypt("secret", r) {
		t.Errorf("random salt digest %q invalid", r)
	}
}
