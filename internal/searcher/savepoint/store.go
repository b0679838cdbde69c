// Package savepoint persists where named queries stopped, so an archive
// query paged across requests resumes after a restart.
package savepoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/quarrysearch/quarry/internal/searcher/iterator"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

var bucket = []byte("save_points")

// A stored position is the generation and doc index, big endian.
const valueLen = 12

// Store keeps save points in a bolt file.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening save points %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating save point bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the save point stored under name.
func (s *Store) Get(name string) (iterator.DocPos, bool, error) {
	var (
		pos   iterator.DocPos
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(name))
		if v == nil {
			return nil
		}
		if len(v) != valueLen {
			return fmt.Errorf("save point %q has %d bytes: %w", name, len(v), apperrors.ErrShardCorrupt)
		}
		pos = iterator.DocPos{
			Gen: int(int64(binary.BigEndian.Uint64(v[:8]))),
			Doc: binary.BigEndian.Uint32(v[8:]),
		}
		found = true
		return nil
	})
	return pos, found, err
}

func (s *Store) Put(name string, pos iterator.DocPos) error {
	if name == "" {
		return errors.New("save point name is empty")
	}
	v := make([]byte, valueLen)
	binary.BigEndian.PutUint64(v[:8], uint64(int64(pos.Gen)))
	binary.BigEndian.PutUint32(v[8:], pos.Doc)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(name), v)
	})
}

func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(name))
	})
}

// Len is the number of stored save points.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
