package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

// FileStore keeps one pretty-printed JSON file per key under a data
// directory. Writes go through a temp file and rename so a crash never
// leaves a half-written blob behind.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the data directory if needed. A directory that
// cannot be created is the one unrecoverable setup error in the system.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStoreSetupFailed, err, "failed to create data directory %s", dir)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", key))
}

// Load reads and unmarshals the blob for key into out.
func (s *FileStore) Load(key string, out any) (bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, errors.Wrapf(errors.ErrCodeStoreReadFailed, err, "failed to read %s", key)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrapf(errors.ErrCodeStoreReadFailed, err, "failed to decode %s", key)
	}

	return true, nil
}

// Save atomically replaces the blob for key.
func (s *FileStore) Save(key string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to encode %s", key)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to create temp file for %s", key)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to write %s", key)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to sync %s", key)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to close temp file for %s", key)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)

		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to replace %s", key)
	}

	return nil
}
