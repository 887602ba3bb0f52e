// Package kvs is the job state store: a map of field maps with per-key
// expiry, backed by Redis or by process memory.
package kvs

import (
	"context"
	"time"
)

// Store is implemented by RedisStore (shared) and MemoryStore (single process).
// Both treat an expired key exactly like a key that was never set.
type Store interface {
	// GetFields returns the field map for key, or an empty map if absent or expired.
	GetFields(ctx context.Context, key string) (map[string]string, error)
	// SetFields merges fields into the map for key, creating it if needed.
	// Fields not named in the argument are left untouched.
	SetFields(ctx context.Context, key string, fields map[string]string) error
	// SetExpiry sets the key to expire ttl from now.
	SetExpiry(ctx context.Context, key string, ttl time.Duration) error
}

// Backend names the concrete store chosen at startup.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// FieldWriter is implemented by stores that can merge fields and refresh the
// expiry as one step. Callers fall back to SetFields+SetExpiry otherwise.
type FieldWriter interface {
	WriteFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
}

// Write merges fields into key and refreshes its TTL, atomically when the
// store supports it.
func Write(ctx context.Context, s Store, key string, fields map[string]string, ttl time.Duration) error {
	if w, ok := s.(FieldWriter); ok {
		return w.WriteFields(ctx, key, fields, ttl)
	}
	if err := s.SetFields(ctx, key, fields); err != nil {
		return err
	}
	return s.SetExpiry(ctx, key, ttl)
}
