// Package fingerprint provides the durable ledger mapping article
// identities to the content hash last confirmed in the index. The ledger
// is the only state shared across ingestion runs: an entry exists iff a
// document with that identity currently exists in the index.
package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/blogsearch/ingestor/internal/domain"
)

var fingerprintsBucket = []byte("fingerprints")

// ErrCommitFailure is returned when a ledger write cannot be made durable.
var ErrCommitFailure = errors.New("fingerprint commit failed")

// Store is a bbolt-backed fingerprint ledger.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening fingerprint database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(fingerprintsBucket)
		return createErr
	})
	if err != nil {
		return nil, fmt.Errorf("creating fingerprint bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the entry for identity, or nil when the identity has
// never been indexed (or was purged; the pipeline treats both the same).
func (s *Store) Lookup(identity string) (*domain.FingerprintEntry, error) {
	var entry *domain.FingerprintEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(fingerprintsBucket).Get([]byte(identity))
		if data == nil {
			return nil
		}
		var e domain.FingerprintEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decoding entry for %s: %w", identity, err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

// LookupBatch returns the known entries for the given identities in one
// read transaction. Absent identities are simply missing from the result.
func (s *Store) LookupBatch(identities []string) (map[string]*domain.FingerprintEntry, error) {
	entries := make(map[string]*domain.FingerprintEntry, len(identities))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(fingerprintsBucket)
		for _, identity := range identities {
			data := b.Get([]byte(identity))
			if data == nil {
				continue
			}
			var e domain.FingerprintEntry
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("decoding entry for %s: %w", identity, err)
			}
			entries[identity] = &e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Commit durably records that the given content hash is now in the index
// for identity. The write is a single transaction, so a crash never
// leaves a partially written entry.
func (s *Store) Commit(identity, contentHash string, indexedAt time.Time) error {
	entry := domain.FingerprintEntry{
		Identity:        identity,
		LastIndexedHash: contentHash,
		LastIndexedAt:   indexedAt.UTC(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("%w: encoding entry for %s: %v", ErrCommitFailure, identity, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fingerprintsBucket).Put([]byte(identity), data)
	})
	if err != nil {
		return fmt.Errorf("%w: writing entry for %s: %v", ErrCommitFailure, identity, err)
	}
	return nil
}

// Purge removes the entry for identity. Used when the corresponding
// document is deleted from the index.
func (s *Store) Purge(identity string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fingerprintsBucket).Delete([]byte(identity))
	})
}

// PurgeAll removes every entry. Used by the purge admin command after the
// index itself has been emptied.
func (s *Store) PurgeAll() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(fingerprintsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(fingerprintsBucket)
		return err
	})
}

// Count returns the number of ledger entries.
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(fingerprintsBucket).Stats().KeyN
		return nil
	})
	return count, err
}
