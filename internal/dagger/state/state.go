package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	bolt "go.etcd.io/bbolt"
)

// SchemaVersion is bumped when JobState changes incompatibly.
const SchemaVersion = 1

// JobState is written by the restore phase and read by the persist phase.
type JobState struct {
	SchemaVersion    int       `json:"schema_version"`
	Version          string    `json:"version"`
	Key              string    `json:"key"`
	CompressionLevel int       `json:"compression_level"`
	RestoredKey      string    `json:"restored_key,omitempty"`
	Volume           string    `json:"volume"`
	Address          string    `json:"address,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store persists JobState in a bbolt file under a state directory.
type Store struct {
	db *bolt.DB
}

// Path returns the state database path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, helpers.StateDBFile)
}

// Open opens or creates the state database in dir.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, helpers.ErrStateDirEmpty
	}
	if err := os.MkdirAll(dir, helpers.DirMod); err != nil {
		return nil, err
	}
	db, err := bolt.Open(Path(dir), helpers.FileMod, &bolt.Options{Timeout: helpers.StateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Load returns the stored job state; ok is false when nothing was saved.
func (s *Store) Load() (JobState, bool, error) {
	var (
		st JobState
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(helpers.StateBucket))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(helpers.StateRecord))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("decode job state: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return JobState{}, false, err
	}
	if ok && st.SchemaVersion > SchemaVersion {
		return JobState{}, false, fmt.Errorf("%w: %d", helpers.ErrUnsupportedSchemaVersion, st.SchemaVersion)
	}
	return st, ok, nil
}

// Save replaces the stored job state.
func (s *Store) Save(st JobState) error {
	st.SchemaVersion = SchemaVersion
	st.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(&st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(helpers.StateBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(helpers.StateRecord), payload)
	})
}

// Clear removes the stored job state.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(helpers.StateBucket)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(helpers.StateBucket))
	})
}

// Remove deletes the state database file in dir.
func Remove(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return helpers.ErrStateDirEmpty
	}
	if err := os.Remove(Path(dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
