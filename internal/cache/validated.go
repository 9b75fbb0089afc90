// Package cache holds small in-process caches for backend lookups whose
// answers stay stable over a session.
package cache

import (
	"sync"
	"time"
)

// ValidatedSet remembers keys that passed an expensive check, for a
// bounded time and up to a bounded size. Bulk iteration moves validate
// the same target path on every request; this keeps repeat validations
// off the wire.
type ValidatedSet struct {
	mu      sync.Mutex
	entries map[string]int64 // key -> unix millis of last hit
	ttl     time.Duration
	maxSize int
}

// NewValidatedSet creates a set. ttl <= 0 means entries never expire;
// maxSize <= 0 disables caching entirely.
func NewValidatedSet(ttl time.Duration, maxSize int) *ValidatedSet {
	return &ValidatedSet{
		entries: make(map[string]int64),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Contains reports whether the key was marked within the TTL and
// refreshes its timestamp on a hit.
func (s *ValidatedSet) Contains(key string) bool {
	return s.containsAt(key, time.Now())
}

func (s *ValidatedSet) containsAt(key string, now time.Time) bool {
	if key == "" || s.maxSize <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := now.UnixMilli()
	ts, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.ttl > 0 && ms-ts >= s.ttl.Milliseconds() {
		delete(s.entries, key)
		return false
	}
	s.entries[key] = ms
	return true
}

// Mark records a key as validated.
func (s *ValidatedSet) Mark(key string) {
	s.markAt(key, time.Now())
}

func (s *ValidatedSet) markAt(key string, now time.Time) {
	if key == "" || s.maxSize <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := now.UnixMilli()
	s.entries[key] = ms
	s.prune(ms)
}

// prune drops expired entries, then the oldest entries past maxSize.
func (s *ValidatedSet) prune(nowMillis int64) {
	if s.ttl > 0 {
		cutoff := nowMillis - s.ttl.Milliseconds()
		for key, ts := range s.entries {
			if ts < cutoff {
				delete(s.entries, key)
			}
		}
	}
	for len(s.entries) > s.maxSize {
		var oldestKey string
		oldestTs := int64(^uint64(0) >> 1)
		for k, ts := range s.entries {
			if ts < oldestTs {
				oldestTs = ts
				oldestKey = k
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.entries, oldestKey)
	}
}

// Clear empties the set.
func (s *ValidatedSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]int64)
}

// Len returns the number of live entries, counting expired ones until
// the next prune.
func (s *ValidatedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
