package kvs

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	fields    map[string]string
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps field maps in process memory. State is lost on restart
// and is not shared between instances.
type MemoryStore struct {
	mu              sync.Mutex
	items           map[string]*memoryEntry
	now             func() time.Time
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
	cleanupInterval time.Duration
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store whose janitor sweeps expired keys every
// cleanupInterval (5 minutes if <= 0). Reads evict lazily regardless.
func NewMemoryStore(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	s := &MemoryStore{
		items:           make(map[string]*memoryEntry),
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupExpired()

	return s
}

// lookup returns the live entry for key, evicting it if expired.
// Caller holds s.mu.
func (s *MemoryStore) lookup(key string) *memoryEntry {
	e, ok := s.items[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.items, key)
		return nil
	}
	return e
}

func (s *MemoryStore) GetFields(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	if e := s.lookup(key); e != nil {
		for k, v := range e.fields {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) SetFields(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		e = &memoryEntry{fields: make(map[string]string, len(fields))}
		s.items[key] = e
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	return nil
}

// SetExpiry is a no-op for an absent key, like Redis EXPIRE.
// A non-positive ttl deletes the key.
func (s *MemoryStore) SetExpiry(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(s.items, key)
		return nil
	}
	e.expiresAt = s.now().Add(ttl)
	return nil
}

// Update runs fn on a copy of the current fields for key while holding the
// store lock and merges the returned fields back. Returning nil writes nothing.
func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn func(current map[string]string) map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]string)
	e := s.lookup(key)
	if e != nil {
		for k, v := range e.fields {
			current[k] = v
		}
	}

	next := fn(current)
	if next == nil {
		return nil
	}
	if e == nil {
		e = &memoryEntry{fields: make(map[string]string, len(next))}
		s.items[key] = e
	}
	for k, v := range next {
		e.fields[k] = v
	}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) cleanupExpired() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for k, e := range s.items {
				if e.expired(now) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// Len returns the number of stored keys, including ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear removes all keys.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.items = make(map[string]*memoryEntry)
	s.mu.Unlock()
}

// WriteFields merges fields and sets the TTL under one lock acquisition.
func (s *MemoryStore) WriteFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return s.Update(ctx, key, ttl, func(map[string]string) map[string]string { return fields })
}
