// Package cache stores formatted-ready records between requests. Backends are
// in memory or Redis; ReadThrough plugs them into the read pipeline as hooks.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache defines the interface for all cache backends
type Cache interface {
	// Get returns ErrMiss when key is absent or expired
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value; a zero ttl uses the backend default, a negative one never expires
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Clear removes every key of the backend's prefix
	Clear(ctx context.Context) error

	Close() error
}

// Config holds common configuration for cache backends
type Config struct {
	// DefaultTTL is the default time-to-live for cached items
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: time.Minute,
		Prefix:     "entityroutes:",
	}
}

// ErrMiss is returned when a key is not found in the cache
var ErrMiss = errors.New("cache miss")
