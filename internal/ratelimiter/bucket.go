// Package ratelimiter implements the token-bucket admission gate described
// in spec §4.1 (P1, P2).
package ratelimiter

import "sync"

// Clock is a caller-supplied monotonic millisecond source, kept explicit for
// testability instead of reaching for time.Now() directly.
type Clock func() int64

// Config holds the tunable token-bucket parameters (spec §4.2).
type Config struct {
	Capacity    int64
	MsPerToken  int64
}

// Bucket is a token-bucket rate limiter. All operations are mutually
// exclusive via mu.
type Bucket struct {
	mu sync.Mutex

	clock Clock

	capacity   int64
	msPerToken int64

	tokens   int64
	lastFeed int64
}

// New creates a Bucket with the given capacity, initial token count and
// ms-per-token refill rate, using clock as the monotonic time source.
func New(capacity, initialCapacity, msPerToken int64, clock Clock) *Bucket {
	b := &Bucket{
		clock:      clock,
		capacity:   capacity,
		msPerToken: msPerToken,
		tokens:     initialCapacity,
		lastFeed:   clock(),
	}
	return b
}

// Take refills first, then deducts n tokens if enough are available. It
// never "borrows" tokens it doesn't yet have.
func (b *Bucket) Take(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

func (b *Bucket) refillLocked() {
	if b.msPerToken <= 0 {
		b.tokens = b.capacity
		return
	}
	now := b.clock()
	elapsed := now - b.lastFeed
	if elapsed <= 0 {
		return
	}
	periods := elapsed / b.msPerToken
	if periods <= 0 {
		return
	}
	b.tokens = min64(b.capacity, b.tokens+periods)
	b.lastFeed += periods * b.msPerToken
}

// Reconfigure updates capacity/msPerToken and clamps the current token
// count down to the new capacity if it shrank.
func (b *Bucket) Reconfigure(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = min64(b.tokens, cfg.Capacity)
	b.capacity = cfg.Capacity
	b.msPerToken = cfg.MsPerToken
}

// Tokens reports the current token count, refilling first. Exposed for
// tests and introspection only.
func (b *Bucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
