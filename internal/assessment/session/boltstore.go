package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore keeps slots in a local bbolt file, one bucket per slot keyed by scope.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("slot store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create slot store dir failed: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open slot store failed: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, slot := range []Slot{CurrentWork, FrozenSnapshot} {
			if _, err := tx.CreateBucketIfNotExists([]byte(slot)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init slot buckets failed: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(scope string, slot Slot) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(slot))
		if bucket == nil {
			return fmt.Errorf("unknown slot %q", slot)
		}
		// Seek distinguishes a missing key from an empty value.
		k, raw := bucket.Cursor().Seek([]byte(scope))
		if k == nil || !bytes.Equal(k, []byte(scope)) {
			return nil
		}
		value = string(raw)
		ok = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("load slot failed: %w", err)
	}
	return value, ok, nil
}

func (s *BoltStore) Save(scope string, slot Slot, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(slot))
		if bucket == nil {
			return fmt.Errorf("unknown slot %q", slot)
		}
		return bucket.Put([]byte(scope), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("save slot failed: %w", err)
	}
	return nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ SlotStore = (*BoltStore)(nil)
