package savepoint

import (
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"

	"github.com/quarrysearch/quarry/internal/searcher/iterator"
)

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save_points.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, found, err := s.Get("missing"); err != nil || found {
		t.Errorf("Get(missing) = %v, %v", found, err)
	}
	tests := []struct {
		name string
		pos  iterator.DocPos
	}{
		{"start", iterator.DocPos{}},
		{"middle", iterator.DocPos{Gen: 3, Doc: 4096}},
		{"end", iterator.End},
	}
	for _, tt := range tests {
		if err := s.Put(tt.name, tt.pos); err != nil {
			t.Fatalf("Put(%s): %v", tt.name, err)
		}
	}
	if err := s.Put("", iterator.DocPos{}); err == nil {
		t.Error("empty name accepted")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for _, tt := range tests {
		got, found, err := s.Get(tt.name)
		if err != nil || !found || got != tt.pos {
			t.Errorf("Get(%s) = %v, %v, %v; want %v", tt.name, got, found, err, tt.pos)
		}
	}
	if n, _ := s.Len(); n != 3 {
		t.Errorf("Len = %d", n)
	}
	if err := s.Delete("middle"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.Get("middle"); found {
		t.Error("deleted save point still found")
	}
}

func TestCorruptValue(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "sp.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte("bad"), []byte{1, 2})
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Get("bad"); err == nil {
		t.Error("short value decoded")
	}
}
