package http

import (
	"sync"
	"time"
)

const (
	bucketCleanupThreshold = 1 * time.Hour
	cleanupInterval        = 30 * time.Minute
)

type clientBucket struct {
	tokens     int
	lastRefill time.Time
}

// RateLimiter is a per-client token bucket. Every bucket is refilled to
// capacity once refillDur has passed since its last refill.
type RateLimiter struct {
	mu          sync.Mutex
	capacity    int
	refillDur   time.Duration
	clients     map[string]*clientBucket
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func NewRateLimiter(capacity int, refillDur time.Duration) *RateLimiter {
	rl := &RateLimiter{
		capacity:    capacity,
		refillDur:   refillDur,
		clients:     make(map[string]*clientBucket),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (r *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopCleanup:
			return
		}
	}
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, bucket := range r.clients {
		if now.Sub(bucket.lastRefill) > bucketCleanupThreshold {
			delete(r.clients, key)
		}
	}
}

func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCleanup) })
}

// Allow takes a token for key. When the bucket is empty it reports how long
// until the next refill.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket, exists := r.clients[key]

	if !exists {
		r.clients[key] = &clientBucket{
			tokens:     r.capacity - 1,
			lastRefill: now,
		}
		return true, 0
	}

	if now.Sub(bucket.lastRefill) >= r.refillDur {
		bucket.tokens = r.capacity
		bucket.lastRefill = now
	}

	if bucket.tokens <= 0 {
		return false, bucket.lastRefill.Add(r.refillDur).Sub(now)
	}

	bucket.tokens--
	return true, 0
}
