package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is an in-memory limiter. Each key holds up to Capacity tokens and
// regains Capacity tokens per RefillRate.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration
	now        func() time.Time

	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketConfig configures a TokenBucket
type TokenBucketConfig struct {
	Capacity   int
	RefillRate time.Duration
	// CleanupInterval drops idle buckets; zero disables cleanup
	CleanupInterval time.Duration
}

// DefaultTokenBucketConfig allows 100 requests per minute
func DefaultTokenBucketConfig() TokenBucketConfig {
	return TokenBucketConfig{
		Capacity:        100,
		RefillRate:      time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewTokenBucket creates a token bucket limiter
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	tb := &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   config.Capacity,
		refillRate: config.RefillRate,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		tb.cleanup = time.NewTicker(config.CleanupInterval)
		go tb.cleanupLoop()
	}
	return tb
}

// Allow takes a token from the bucket of key
func (tb *TokenBucket) Allow(ctx context.Context, key string) (*Info, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.capacity), lastRefill: now}
		tb.buckets[key] = b
	} else if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		refill := float64(tb.capacity) * elapsed.Seconds() / tb.refillRate.Seconds()
		b.tokens = minFloat(float64(tb.capacity), b.tokens+refill)
		b.lastRefill = now
	}

	info := &Info{Limit: tb.capacity}
	if b.tokens >= 1 {
		b.tokens--
		info.Allowed = true
		info.Remaining = int(b.tokens)
	}
	info.ResetAt = now.Add(tb.untilNextToken(b))
	return info, nil
}

// untilNextToken returns how long b needs to hold a whole token again
func (tb *TokenBucket) untilNextToken(b *bucket) time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) * float64(tb.refillRate) / float64(tb.capacity))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func (tb *TokenBucket) cleanupLoop() {
	for {
		select {
		case <-tb.cleanup.C:
			tb.cleanupIdle()
		case <-tb.done:
			return
		}
	}
}

// cleanupIdle drops buckets untouched for two refill periods; they would be full again
func (tb *TokenBucket) cleanupIdle() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	threshold := 2 * tb.refillRate
	now := tb.now()
	for key, b := range tb.buckets {
		if now.Sub(b.lastRefill) > threshold {
			delete(tb.buckets, key)
		}
	}
}

// Len returns the number of tracked keys
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (tb *TokenBucket) Close() error {
	tb.closeOnce.Do(func() {
		close(tb.done)
		if tb.cleanup != nil {
			tb.cleanup.Stop()
		}
	})
	return nil
}
