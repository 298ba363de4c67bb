// Package credstore implements an in-memory map of single-use, auto-expiring
// credentials. It backs the one-time-password and register-token services:
// a generated key is valid until it is consumed or its TTL elapses,
// whichever comes first, and can never be consumed twice.
package credstore

import (
	"crypto/rand"
	"sync"
	"time"
)

// KeySize is the byte length of every generated credential.
const KeySize = 32

// Key is a randomly generated single-use credential.
type Key [KeySize]byte

// Store maps random 32-byte keys to values of type V. All operations are
// safe for concurrent use; exactly one of several concurrent TryConsume
// calls for the same key succeeds.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[Key]V
	ttl     time.Duration
}

// New creates a Store whose entries expire after ttl.
func New[V any](ttl time.Duration) *Store[V] {
	return &Store[V]{
		entries: make(map[Key]V),
		ttl:     ttl,
	}
}

// Gen generates a random key, stores value under it and schedules its
// removal after the store's TTL. The only error source is the system
// random generator.
func (s *Store[V]) Gen(value V) (Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return Key{}, err
	}

	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()

	// One expiry timer per outstanding credential. The callback re-acquires
	// the lock and removes the entry only if it is still present, so a
	// consume racing with expiry stays a no-op on one side.
	time.AfterFunc(s.ttl, func() {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
	})

	return key, nil
}

// TryConsume atomically removes and returns the value stored under key.
// The second result reports whether the key was present; a consumed or
// expired key is indistinguishable from one that never existed.
func (s *Store[V]) TryConsume(key Key) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(s.entries, key)
	return value, true
}

// Len reports the number of outstanding credentials.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
