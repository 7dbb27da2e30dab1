// Package correlation implements an expiring, concurrency-safe key/value
// store. It backs pending ceremonies and sessions: entries are single-use
// (Take) or sliding (PeekAndRefresh), and expired entries are never returned.
package correlation

import (
	"errors"
	"sync"
	"time"

	"github.com/fredemmott/TempFiles/internal/timex"
	"github.com/google/uuid"
)

var (
	ErrNoKeyFunc    = errors.New("correlation: store has no key generator")
	ErrKeyCollision = errors.New("correlation: generated key already in use")
)

// KeyFunc generates a fresh, unguessable key.
type KeyFunc[K comparable] func() (K, error)

// UUIDKey draws a random (version 4) UUID, 122 bits of entropy.
func UUIDKey() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store maps keys to values with an absolute expiry. Every method holds the
// lock only for the map operation itself.
type Store[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	newKey  KeyFunc[K]
	now     timex.Clock
}

// New returns an empty store. newKey may be nil if only InsertKey is used;
// a nil clock means time.Now.
func New[K comparable, V any](newKey KeyFunc[K], clock timex.Clock) *Store[K, V] {
	return &Store[K, V]{
		entries: make(map[K]entry[V]),
		newKey:  newKey,
		now:     clock.OrNow(),
	}
}

// Insert stores value under a freshly generated key valid for ttl.
func (s *Store[K, V]) Insert(value V, ttl time.Duration) (K, error) {
	var zero K
	if s.newKey == nil {
		return zero, ErrNoKeyFunc
	}
	key, err := s.newKey()
	if err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && e.expiresAt.After(now) {
		return zero, ErrKeyCollision
	}
	s.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
	return key, nil
}

// InsertKey stores value under a caller-chosen key, replacing any previous
// entry.
func (s *Store[K, V]) InsertKey(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry[V]{value: value, expiresAt: s.now().Add(ttl)}
}

// Take removes and returns the value for key. An expired entry is removed
// too but reported as absent.
func (s *Store[K, V]) Take(key K) (V, bool) {
	return s.TakeIf(key, nil)
}

// TakeIf is Take restricted to entries accepted by match. A rejected entry
// stays in place.
func (s *Store[K, V]) TakeIf(key K, match func(V) bool) (V, bool) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	if !e.expiresAt.After(s.now()) {
		delete(s.entries, key)
		return zero, false
	}
	if match != nil && !match(e.value) {
		return zero, false
	}
	delete(s.entries, key)
	return e.value, true
}

// PeekAndRefresh returns a copy of the value for key and pushes its expiry to
// now+ttl. When match is non-nil and rejects the entry, nothing changes and
// the entry is reported as absent.
func (s *Store[K, V]) PeekAndRefresh(key K, ttl time.Duration, match func(V) bool) (V, bool) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	now := s.now()
	if !e.expiresAt.After(now) {
		delete(s.entries, key)
		return zero, false
	}
	if match != nil && !match(e.value) {
		return zero, false
	}
	e.expiresAt = now.Add(ttl)
	s.entries[key] = e
	return e.value, true
}

// Prune drops every expired entry and returns how many were dropped.
func (s *Store[K, V]) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of entries, expired ones included.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
