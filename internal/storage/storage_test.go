package storage

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/pebble"
)

// newTestStorage creates a storage in a temporary directory.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

// get returns the stored value of key, or nil.
func get(t *testing.T, s *Storage, key []byte) []byte {
	t.Helper()

	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer closer.Close()

	return bytes.Clone(value)
}

// TestClaim tests that a claim writes all keys or none.
func TestClaim(t *testing.T) {
	s := newTestStorage(t)

	first := []KeyValue{{Key: []byte("a"), Value: []byte("1")}, {Key: []byte("b"), Value: []byte("2")}}
	if err := s.Claim(first); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	overlapping := []KeyValue{{Key: []byte("c"), Value: []byte("3")}, {Key: []byte("b"), Value: []byte("4")}}

	err := s.Claim(overlapping)
	if !errors.Is(err, ErrKeyExists) {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}

	var conflict *ConflictError
	if !errors.As(err, &conflict) || string(conflict.Key) != "b" {
		t.Errorf("expected conflict on key b, got %v", err)
	}

	if ok, _ := s.Has([]byte("c")); ok {
		t.Error("failed claim wrote a key")
	}

	if got := get(t, s, []byte("b")); string(got) != "2" {
		t.Errorf("failed claim overwrote b: %q", got)
	}
}

// TestClaimConcurrent tests that exactly one of many racing claims wins.
func TestClaimConcurrent(t *testing.T) {
	s := newTestStorage(t)

	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if s.Claim([]KeyValue{{Key: []byte("nullifier"), Value: []byte{1}}}) == nil {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStorage(t)

	var pairs []KeyValue
	for _, k := range []string{"n/1", "n/2", "s/1", "n\xff"} {
		pairs = append(pairs, KeyValue{Key: []byte(k)})
	}

	if err := s.Claim(pairs); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	var keys []string
	err := s.iteratePrefix([]byte("n/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("iteratePrefix failed: %v", err)
	}

	if len(keys) != 2 || keys[0] != "n/1" || keys[1] != "n/2" {
		t.Errorf("keys = %q", keys)
	}

	n, err := s.CountPrefix([]byte("s/"))
	if err != nil || n != 1 {
		t.Errorf("CountPrefix = %d, %v", n, err)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("n/"), []byte("n0")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}

	for _, tt := range tests {
		if got := prefixUpperBound(tt.prefix); !bytes.Equal(got, tt.want) {
			t.Errorf("prefixUpperBound(%x) = %x, want %x", tt.prefix, got, tt.want)
		}
	}
}

// TestReopen tests that claims survive a restart.
func TestReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Claim([]KeyValue{{Key: []byte("k"), Value: []byte("v")}}); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = New(dir, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if ok, _ := s.Has([]byte("k")); !ok {
		t.Error("claimed key lost after reopen")
	}
}
