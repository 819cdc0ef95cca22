package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// defaultCacheSize is the default block cache size.
const defaultCacheSize = 8 << 20

// ErrKeyExists is returned by Claim when one of the keys is already stored.
var ErrKeyExists = errors.New("key already exists")

// KeyValue represents a key-value pair for batch operations.
type KeyValue struct {
	Key   []byte // Key is the key to store
	Value []byte // Value is the value to store
}

// Options tunes a Storage. Zero values select defaults.
type Options struct {
	CacheSize int64 // CacheSize is the block cache size in bytes
}

// Storage is a write-once key-value store backed by Pebble.
// Keys are only written by Claim, which syncs before it returns.
type Storage struct {
	db      *pebble.DB // db is the underlying Pebble database
	claimMu sync.Mutex // claimMu serializes Claim check-then-write
}

// New opens or creates a Storage at the given path.
func New(path string, opts Options) (*Storage, error) {
	cacheSize := opts.CacheSize
	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:        cache,
		MemTableSize: 4 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s:\n%w", path, err)
	}

	return &Storage{db: db}, nil
}

// Has reports whether the key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	closer.Close()

	return true, nil
}

// Claim atomically stores all pairs if none of their keys exist.
// On conflict nothing is written and the error wraps ErrKeyExists and
// names the first conflicting key. A successful claim is synced to disk.
func (s *Storage) Claim(pairs []KeyValue) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	for _, kv := range pairs {
		exists, err := s.Has(kv.Key)
		if err != nil {
			return err
		}

		if exists {
			return &ConflictError{Key: kv.Key}
		}
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, kv := range pairs {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

// ConflictError names the key that made a Claim fail.
type ConflictError struct {
	Key []byte // Key is the first key found already stored
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("key already exists: %x", e.Key)
}

// Unwrap returns ErrKeyExists.
func (e *ConflictError) Unwrap() error {
	return ErrKeyExists
}

// CountPrefix returns the number of keys with the given prefix.
func (s *Storage) CountPrefix(prefix []byte) (int, error) {
	n := 0

	err := s.iteratePrefix(prefix, func(_, _ []byte) error {
		n++
		return nil
	})

	return n, err
}

// iteratePrefix calls fn for each key-value pair with the given prefix,
// in lexicographic key order. If fn returns an error, iteration stops.
func (s *Storage) iteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Returns nil (unbounded) if prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}
