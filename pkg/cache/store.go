// Package cache implements the response cache: an in-memory
// fingerprint→entry map with TTL expiry, capacity-bounded eviction and
// a whole-file JSON snapshot persisted by a single writer goroutine.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/klio-ai/klio/pkg/models"
)

// Store is a TTL cache keyed by request fingerprint.
type Store struct {
	path       string
	maxEntries int
	flushEvery time.Duration
	log        zerolog.Logger

	mu      sync.RWMutex
	entries map[string]models.CacheEntry

	hits     atomic.Int64
	misses   atomic.Int64
	dirty    atomic.Bool
	degraded atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Store backed by the snapshot file at path. A missing
// or unreadable snapshot yields an empty store, never an error; entries
// already expired at load time are dropped. An empty path disables
// persistence. maxEntries <= 0 means unbounded.
func New(path string, maxEntries int, flushEvery time.Duration, logger zerolog.Logger) *Store {
	if flushEvery <= 0 {
		flushEvery = 2 * time.Second
	}
	s := &Store{
		path:       path,
		maxEntries: maxEntries,
		flushEvery: flushEvery,
		log:        logger,
		entries:    make(map[string]models.CacheEntry),
		done:       make(chan struct{}),
	}
	s.load()

	if s.path != "" {
		s.wg.Add(1)
		go s.flushLoop()
	}
	return s
}

// Get returns the cached value for the fingerprint, if present and
// unexpired. An expired entry counts as a miss and is lazily purged.
func (s *Store) Get(fingerprint string) (string, bool) {
	now := time.Now().UTC()

	s.mu.RLock()
	entry, ok := s.entries[fingerprint]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return "", false
	}
	if entry.Expired(now) {
		s.mu.Lock()
		// Recheck under the write lock: a concurrent Put may have
		// refreshed the entry.
		if cur, still := s.entries[fingerprint]; still && cur.Expired(now) {
			delete(s.entries, fingerprint)
			s.dirty.Store(true)
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return "", false
	}

	s.hits.Add(1)
	return entry.Value, true
}

// Put inserts or replaces the entry for the fingerprint. When the
// store would exceed its capacity, the oldest-inserted entries are
// evicted first.
func (s *Store) Put(fingerprint, value string, ttl time.Duration) {
	now := time.Now().UTC()
	entry := models.CacheEntry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	if _, exists := s.entries[fingerprint]; !exists && s.maxEntries > 0 {
		for len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}
	s.entries[fingerprint] = entry
	s.mu.Unlock()

	s.dirty.Store(true)
}

// evictOldestLocked removes the entry with the earliest insertion time.
// Caller holds the write lock.
func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range s.entries {
		if oldestKey == "" || e.CreatedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// InvalidateAll drops every entry by swapping in a fresh map, so
// concurrent readers never observe a half-cleared store. Idempotent.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.entries = make(map[string]models.CacheEntry)
	s.mu.Unlock()

	s.dirty.Store(true)
}

// Stats returns cache performance metrics.
func (s *Store) Stats() models.CacheStats {
	s.mu.RLock()
	entries := int64(len(s.entries))
	s.mu.RUnlock()

	return models.CacheStats{
		Entries: entries,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}
}

// Degraded reports whether persistence has been disabled for this run
// after a write failure.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

// Close flushes pending changes and stops the writer goroutine.
func (s *Store) Close() error {
	if s.path == "" {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("cache snapshot unreadable, starting empty")
		}
		return
	}

	var snapshot map[string]models.CacheEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("cache snapshot corrupt, starting empty")
		return
	}

	now := time.Now().UTC()
	for k, e := range snapshot {
		if e.Expired(now) {
			continue
		}
		s.entries[k] = e
	}
	s.log.Debug().Int("entries", len(s.entries)).Msg("cache snapshot loaded")
}

func (s *Store) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush writes the snapshot if anything changed since the last write.
// A failed write degrades the store to memory-only for this run.
func (s *Store) flush() {
	if s.degraded.Load() || !s.dirty.Swap(false) {
		return
	}

	s.mu.RLock()
	data, err := json.Marshal(s.entries)
	s.mu.RUnlock()
	if err != nil {
		s.log.Error().Err(err).Msg("cache snapshot encode failed")
		return
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		s.degraded.Store(true)
		s.log.Warn().Err(err).Str("path", s.path).Msg("cache snapshot write failed, continuing memory-only")
	}
}

// writeFileAtomic writes via a temp file and rename so readers never
// observe a partial snapshot.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
