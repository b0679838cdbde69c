package codec

import (
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

func TestPostingRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		docIndex  uint32
		positions []uint32
	}{
		{"doc zero no positions", 0, nil},
		{"doc zero", 0, []uint32{0}},
		{"small doc", 3, []uint32{0, 1, 5, 90}},
		{"merged layout even doc", 40000, []uint32{7, 9, 300}},
		{"merged layout odd doc", 40001, []uint32{0}},
		{"merged layout bound", mergedMaxDoc - 1, []uint32{mergedMaxDelta - 2}},
		{"large first delta", 40000, []uint32{5000, 5001}},
		{"beyond merged range", mergedMaxDoc, []uint32{1, 2}},
		{"max doc", MaxDocIndex, []uint32{2, 4, 8}},
		{"large positions", 17, []uint32{1 << 20, 1<<20 + 1, 1 << 26}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := PackPosting(tt.docIndex, tt.positions)
			if err != nil {
				t.Fatalf("pack: %v", err)
			}
			p, next, ok := UnpackPosting(buf, 0)
			if !ok {
				t.Fatal("unpack failed")
			}
			if p.DocIndex != tt.docIndex {
				t.Errorf("doc index: got %d want %d", p.DocIndex, tt.docIndex)
			}
			if len(tt.positions) == 0 {
				if len(p.Positions) != 0 {
					t.Errorf("positions: got %v want none", p.Positions)
				}
			} else if !reflect.DeepEqual(p.Positions, tt.positions) {
				t.Errorf("positions: got %v want %v", p.Positions, tt.positions)
			}
			if next != len(buf) {
				t.Errorf("next: got %d want %d", next, len(buf))
			}
			if d, ok := PostingDocIndex(buf, 0); !ok || d != tt.docIndex {
				t.Errorf("PostingDocIndex: got %d ok=%v", d, ok)
			}
		})
	}
}

func TestPostingMergedLayoutSavesWord(t *testing.T) {
	merged, err := PackPosting(40000, []uint32{3})
	if err != nil {
		t.Fatal(err)
	}
	if len(merged) != 4 {
		t.Errorf("merged posting: got %d bytes want 4", len(merged))
	}
	if merged[0]&flagMask != 0 {
		t.Errorf("merged posting should be a single word")
	}
}

func TestPostingConcatenation(t *testing.T) {
	var buf []byte
	want := []Posting{
		{DocIndex: 0, Positions: []uint32{1, 2}},
		{DocIndex: 5, Positions: []uint32{0}},
		{DocIndex: 50000, Positions: []uint32{4, 100, 101}},
	}
	for _, p := range want {
		b, err := PackPosting(p.DocIndex, p.Positions)
		if err != nil {
			t.Fatal(err)
		}
		buf = append(buf, b...)
	}
	offset := 0
	for i, w := range want {
		if d, _ := PostingDocIndex(buf, offset); d != w.DocIndex {
			t.Errorf("posting %d peek: got %d", i, d)
		}
		p, next, ok := UnpackPosting(buf, offset)
		if !ok || !reflect.DeepEqual(p, w) {
			t.Fatalf("posting %d: got %+v want %+v", i, p, w)
		}
		if skip := SkipPosting(buf, offset); skip != next {
			t.Errorf("posting %d skip: got %d want %d", i, skip, next)
		}
		offset = next
	}
	if _, _, ok := UnpackPosting(buf, offset); ok {
		t.Error("expected end of postings")
	}
}

func TestPackPostingErrors(t *testing.T) {
	if _, err := PackPosting(MaxDocIndex+1, []uint32{1}); !errors.Is(err, apperrors.ErrDocIndexRange) {
		t.Errorf("expected ErrDocIndexRange, got %v", err)
	}
	if _, err := PackPosting(1, []uint32{4, 4}); err == nil {
		t.Error("expected error for repeated position")
	}
}

func TestDeltaList(t *testing.T) {
	in := []uint32{2, 5, 9, 10}
	d := DeltaList(in)
	if !reflect.DeepEqual(d, []uint32{2, 3, 4, 1}) {
		t.Fatalf("DeltaList: got %v", d)
	}
	DeDeltaList(d)
	if !reflect.DeepEqual(d, in) {
		t.Errorf("DeDeltaList: got %v", d)
	}
}

func BenchmarkPackPosting(b *testing.B) {
	positions := []uint32{3, 17, 40, 41, 90, 200, 1024}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := PackPosting(uint32(i%MaxDocIndex), positions); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUnpackPosting(b *testing.B) {
	buf, _ := PackPosting(40000, []uint32{3, 17, 40, 41, 90, 200, 1024})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		UnpackPosting(buf, 0)
	}
}
