package segment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarrysearch/quarry/internal/indexer/index"
)

// WriteFile atomically saves a shard to path. The blob goes to a .tmp file
// that is synced and renamed over path on success.
func WriteFile(path string, s *index.Shard, opts Options) error {
	data, err := Encode(s, opts)
	if err != nil {
		return fmt.Errorf("encoding shard: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp shard file: %w", err)
	}
	defer os.Remove(tmpPath)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing shard: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing shard file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing shard file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming shard file: %w", err)
	}
	return nil
}

// ReadFile loads a shard saved by WriteFile.
func ReadFile(path string) (*index.Shard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading shard file: %w", err)
	}
	s, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return s, nil
}
