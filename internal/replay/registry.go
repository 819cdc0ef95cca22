// Package replay records spent self-nullifiers and used session nonces so an
// aggregated proof cannot be produced twice for one identity or session.
package replay

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"zkbind/internal/storage"
)

var (
	// ErrNullifierSpent is returned when a self-nullifier was already aggregated.
	ErrNullifierSpent = errors.New("self nullifier already spent")

	// ErrNonceReused is returned when a session nonce was already used.
	ErrNonceReused = errors.New("session nonce already used")
)

// Key prefixes.
var (
	nullifierPrefix = []byte("n/")
	noncePrefix     = []byte("s/")
)

// Stats counts registry entries.
type Stats struct {
	SpentNullifiers int `json:"spent_nullifiers"`
	UsedNonces      int `json:"used_nonces"`
}

// Registry is a persistent set of spent nullifiers and used nonces.
type Registry struct {
	store *storage.Storage // store holds the entries
	now   func() time.Time // now stamps new entries
}

// Open opens or creates a registry in dir.
func Open(dir string) (*Registry, error) {
	store, err := storage.New(dir, storage.Options{})
	if err != nil {
		return nil, fmt.Errorf("open registry:\n%w", err)
	}

	return &Registry{store: store, now: time.Now}, nil
}

// Check fails if the nullifier is spent or the nonce was used.
// It does not record anything.
func (r *Registry) Check(nullifier, nonce string) error {
	spent, err := r.store.Has(entryKey(nullifierPrefix, nullifier))
	if err != nil {
		return fmt.Errorf("lookup nullifier:\n%w", err)
	}

	if spent {
		return ErrNullifierSpent
	}

	used, err := r.store.Has(entryKey(noncePrefix, nonce))
	if err != nil {
		return fmt.Errorf("lookup nonce:\n%w", err)
	}

	if used {
		return ErrNonceReused
	}

	return nil
}

// Commit records the nullifier and nonce together, or neither if either is
// already present.
func (r *Registry) Commit(nullifier, nonce string) error {
	stamp := binary.BigEndian.AppendUint64(nil, uint64(r.now().UnixMilli()))

	err := r.store.Claim([]storage.KeyValue{
		{Key: entryKey(nullifierPrefix, nullifier), Value: stamp},
		{Key: entryKey(noncePrefix, nonce), Value: stamp},
	})

	var conflict *storage.ConflictError
	if errors.As(err, &conflict) {
		if bytes.HasPrefix(conflict.Key, nullifierPrefix) {
			return ErrNullifierSpent
		}

		return ErrNonceReused
	}

	if err != nil {
		return fmt.Errorf("record spend:\n%w", err)
	}

	return nil
}

// Stats returns the number of recorded nullifiers and nonces.
func (r *Registry) Stats() (Stats, error) {
	nullifiers, err := r.store.CountPrefix(nullifierPrefix)
	if err != nil {
		return Stats{}, err
	}

	nonces, err := r.store.CountPrefix(noncePrefix)
	if err != nil {
		return Stats{}, err
	}

	return Stats{SpentNullifiers: nullifiers, UsedNonces: nonces}, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// entryKey is prefix || blake3(value). Values are hashed to bound key size.
func entryKey(prefix []byte, value string) []byte {
	sum := blake3.Sum256([]byte(value))

	key := make([]byte, 0, len(prefix)+len(sum))
	key = append(key, prefix...)

	return append(key, sum[:]...)
}
