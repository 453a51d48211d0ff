// Package cache implements the Flag Store: a TTL cache of FlagState with
// fresh/stale read paths, FIFO-by-insertion eviction and hit/miss stats.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go/internal/domain"
	"github.com/flagkit/flagkit-go/internal/telemetry"
)

// DefaultMaxSize is the default maximum number of entries the store holds
// before FIFO eviction kicks in.
const DefaultMaxSize = 1000

// Stats is a point-in-time snapshot of store counters.
type Stats struct {
	Size       int
	ValidCount int
	StaleCount int
	MaxSize    int
	Hits       uint64
	Misses     uint64
}

type node struct {
	key   string
	entry domain.CacheEntry
	elem  *list.Element // position in insertionOrder, keyed by FetchedAt order
}

// Store is the Flag Store. Reads are coordinated with a RWMutex so multiple
// readers can proceed concurrently; set/delete/clear take the write lock.
// Eviction is FIFO-by-FetchedAt, deliberately not LRU, so churning readers
// cannot keep a stale entry alive indefinitely (spec.md §4.1).
type Store struct {
	mu             sync.RWMutex
	entries        map[string]*node
	insertionOrder *list.List // front = oldest by FetchedAt
	maxSize        int
	hits           uint64
	misses         uint64
	now            func() time.Time
	telemetry      telemetry.Provider
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTelemetryProvider installs a non-default telemetry.Provider that
// records every Get as a cache hit or miss.
func WithTelemetryProvider(p telemetry.Provider) Option {
	return func(s *Store) {
		if p != nil {
			s.telemetry = p
		}
	}
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:        make(map[string]*node),
		insertionOrder: list.New(),
		maxSize:        DefaultMaxSize,
		now:            time.Now,
		telemetry:      telemetry.NoopProvider{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the flag if present and not expired, recording a hit.
// Absent or expired returns ok=false and records a miss.
func (s *Store) Get(key string) (domain.FlagState, bool) {
	s.mu.RLock()
	n, ok := s.entries[key]
	if !ok {
		s.mu.RUnlock()
		s.mu.Lock()
		s.misses++
		s.mu.Unlock()
		s.telemetry.RecordCacheMiss(context.Background(), key)
		return domain.FlagState{}, false
	}
	now := s.now()
	expired := n.entry.Expired(now)
	flag := n.entry.Flag
	s.mu.RUnlock()

	if expired {
		s.mu.Lock()
		s.misses++
		s.mu.Unlock()
		s.telemetry.RecordCacheMiss(context.Background(), key)
		return domain.FlagState{}, false
	}

	s.mu.Lock()
	s.hits++
	if n, ok := s.entries[key]; ok {
		n.entry.LastAccessedAt = now
	}
	s.mu.Unlock()
	s.telemetry.RecordCacheHit(context.Background(), key)
	return flag.Clone(), true
}

// GetStale returns the entry regardless of expiry, without touching
// hit/miss counters.
func (s *Store) GetStale(key string) (domain.FlagState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.entries[key]
	if !ok {
		return domain.FlagState{}, false
	}
	return n.entry.Flag.Clone(), true
}

// Set inserts or replaces key with the given TTL, evicting the oldest entry
// by FetchedAt if this insertion would grow the store past maxSize.
func (s *Store) Set(key string, flag domain.FlagState, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, flag, ttl)
}

// SetMany inserts or replaces a batch of flags under a shared TTL,
// evicting as needed between each insertion.
func (s *Store) SetMany(flags []domain.FlagState, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range flags {
		s.setLocked(f.Key, f, ttl)
	}
}

func (s *Store) setLocked(key string, flag domain.FlagState, ttl time.Duration) {
	now := s.now()
	if existing, ok := s.entries[key]; ok {
		existing.entry = domain.NewCacheEntry(flag, ttl, now)
		s.insertionOrder.MoveToBack(existing.elem)
		return
	}

	if len(s.entries) >= s.maxSize {
		s.evictOldestLocked()
	}

	n := &node{key: key, entry: domain.NewCacheEntry(flag, ttl, now)}
	n.elem = s.insertionOrder.PushBack(n)
	s.entries[key] = n
}

func (s *Store) evictOldestLocked() {
	front := s.insertionOrder.Front()
	if front == nil {
		return
	}
	oldest := front.Value.(*node)
	s.insertionOrder.Remove(front)
	delete(s.entries, oldest.key)
}

// Has reports whether key is present, possibly stale.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// IsStale reports whether key is present and expired. Absent keys are not
// stale.
func (s *Store) IsStale(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.entries[key]
	if !ok {
		return false
	}
	return n.entry.Expired(s.now())
}

// Delete removes key if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.entries[key]
	if !ok {
		return
	}
	s.insertionOrder.Remove(n.elem)
	delete(s.entries, key)
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*node)
	s.insertionOrder.Init()
}

// AllKeys returns every key currently present, fresh or stale.
func (s *Store) AllKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// All returns every flag currently present, fresh or stale.
func (s *Store) All() map[string]domain.FlagState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.FlagState, len(s.entries))
	for k, n := range s.entries {
		out[k] = n.entry.Flag.Clone()
	}
	return out
}

// Size returns the number of entries currently present.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	valid, stale := 0, 0
	for _, n := range s.entries {
		if n.entry.Expired(now) {
			stale++
		} else {
			valid++
		}
	}
	return Stats{
		Size:       len(s.entries),
		ValidCount: valid,
		StaleCount: stale,
		MaxSize:    s.maxSize,
		Hits:       s.hits,
		Misses:     s.misses,
	}
}
