// Package ratelimit implements a per-key token bucket limiter with
// continuous monotonic-clock refill. Idle buckets are bounded by an LRU so
// memory never grows with the lifetime cardinality of keys, only its
// recently-active set.
package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// KeyFunc extracts the rate-limit key (IP, user, API key, ...) from a
// request context. A nil KeyFunc is equivalent to a single global key.
type KeyFunc func(ctx context.Context) string

// GlobalKey is a KeyFunc that rate-limits every caller together.
func GlobalKey(context.Context) string { return "global" }

// Config parameterizes a Limiter.
type Config struct {
	MaxRequests int           // bucket capacity, i.e. burst size
	Refill      time.Duration // time to refill one full bucket
	KeyFunc     KeyFunc
	BucketCap   int // max distinct keys tracked at once (LRU-evicted)
	Disabled    bool
}

// DefaultBucketCapacity mirrors the teacher's RateLimiterBoundedMapConfig
// sizing: generous capacity, since entries are cheap. Buckets are evicted
// only by LRU order once this many keys are tracked; there is no idle TTL.
const DefaultBucketCapacity = 50000

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refillPerSec float64
	lastRefill time.Time
}

func newBucket(capacity int, refill time.Duration) *bucket {
	rate := float64(capacity) / refill.Seconds()
	return &bucket{
		tokens:       float64(capacity),
		capacity:     float64(capacity),
		refillPerSec: rate,
		lastRefill:   time.Now(),
	}
}

func (b *bucket) tryConsume(cost float64) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return true, 0
	}

	deficit := cost - b.tokens
	retryAfter := time.Duration(deficit/b.refillPerSec*1000) * time.Millisecond
	return false, retryAfter
}

// Limiter is a key-sharded token bucket rate limiter.
type Limiter struct {
	cfg     Config
	buckets *lru.Cache[string, *bucket]
	mu      sync.Mutex // guards bucket creation races on the underlying cache
}

// New constructs a Limiter. Sane defaults apply if cfg leaves fields zero.
func New(cfg Config) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 60
	}
	if cfg.Refill <= 0 {
		cfg.Refill = time.Minute
	}
	if cfg.BucketCap <= 0 {
		cfg.BucketCap = DefaultBucketCapacity
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = GlobalKey
	}
	cache, _ := lru.New[string, *bucket](cfg.BucketCap)
	return &Limiter{cfg: cfg, buckets: cache}
}

// Allow consumes one token for the key derived from ctx. It returns whether
// the request is allowed and, if not, how long the caller should wait.
func (l *Limiter) Allow(ctx context.Context) (bool, time.Duration) {
	return l.AllowN(ctx, 1)
}

// AllowN consumes cost tokens for the key derived from ctx.
func (l *Limiter) AllowN(ctx context.Context, cost float64) (bool, time.Duration) {
	if l.cfg.Disabled {
		return true, 0
	}
	key := l.cfg.KeyFunc(ctx)

	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = newBucket(l.cfg.MaxRequests, l.cfg.Refill)
		l.buckets.Add(key, b)
	}
	l.mu.Unlock()

	return b.tryConsume(cost)
}

// Len reports the number of distinct keys currently tracked.
func (l *Limiter) Len() int { return l.buckets.Len() }
