// Package ratelimit provides token buckets for inbound frames and HTTP
// lookups.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket refilled continuously at capacity per interval.
type Bucket struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

// New returns a full bucket. Non-positive arguments fall back to one token
// per second.
func New(capacity int, interval time.Duration) *Bucket {
	return newBucket(capacity, interval, time.Now)
}

func newBucket(capacity int, interval time.Duration, now func() time.Time) *Bucket {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &Bucket{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      float64(capacity) / interval.Seconds(),
		lastCheck: now(),
		now:       now,
	}
}

// Allow takes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refill(now)

	if b.tokens < 1 {
		return false
	}

	b.tokens--
	return true
}

// full reports whether the bucket has refilled to capacity. A full bucket
// behaves exactly like a new one.
func (b *Bucket) full(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	return b.tokens >= b.capacity
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.lastCheck = now

	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
}

// DefaultMaxKeys bounds a Keyed limiter when no limit is given.
const DefaultMaxKeys = 10000

// Keyed keeps one bucket per key, for example per client address.
type Keyed struct {
	mu       sync.Mutex
	buckets  map[string]*Bucket
	capacity int
	interval time.Duration
	maxKeys  int
	now      func() time.Time
}

// NewKeyed returns a limiter granting each key capacity requests per
// interval. Once maxKeys buckets exist, full buckets are dropped before a
// new key is admitted.
func NewKeyed(capacity int, interval time.Duration, maxKeys int) *Keyed {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Keyed{
		buckets:  make(map[string]*Bucket),
		capacity: capacity,
		interval: interval,
		maxKeys:  maxKeys,
		now:      time.Now,
	}
}

// Allow takes a token from key's bucket.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		if len(k.buckets) >= k.maxKeys {
			k.prune()
		}
		if len(k.buckets) >= k.maxKeys {
			k.mu.Unlock()
			return false
		}
		b = newBucket(k.capacity, k.interval, k.now)
		k.buckets[key] = b
	}
	k.mu.Unlock()

	return b.Allow()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// prune drops buckets that have refilled. Caller holds mu.
func (k *Keyed) prune() {
	now := k.now()
	for key, b := range k.buckets {
		if b.full(now) {
			delete(k.buckets, key)
		}
	}
}
