package replay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	// nanoseconds since the cache was created (monotonic)
	offset int64
}

// MemoryCache is an in-process nonce cache backed by a sync.Map.
type MemoryCache struct {
	entries    sync.Map
	count      atomic.Int64
	maxEntries int64
	ttl        time.Duration
	createdAt  time.Time

	cleanupInterval time.Duration // 0 means default, -1 disabled
	stop            chan struct{}
	done            chan struct{}
	closeOnce       sync.Once
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithTTL sets how long a nonce is remembered.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of remembered nonces.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = int64(n)
		}
	}
}

// WithCleanupInterval sets the sweep interval. Zero or less disables sweeping.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		if interval <= 0 {
			c.cleanupInterval = -1
		} else {
			c.cleanupInterval = interval
		}
	}
}

// NewMemoryCache starts a MemoryCache. Call Close to stop its sweeper.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		createdAt:  time.Now(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cleanupInterval < 0 {
		close(c.done)
		return c
	}
	interval := c.cleanupInterval
	if interval == 0 {
		interval = DefaultCleanupInterval
	}
	go c.sweepLoop(interval)
	return c
}

// Record remembers nonce. The check-and-set is atomic, so of two concurrent
// callers with the same nonce exactly one sees true.
func (c *MemoryCache) Record(_ context.Context, nonce string) (bool, error) {
	if err := validNonce(nonce); err != nil {
		return false, err
	}

	now := time.Since(c.createdAt).Nanoseconds()
	e := &entry{offset: now}

	existing, loaded := c.entries.LoadOrStore(nonce, e)
	if loaded {
		if time.Duration(now-existing.(*entry).offset) < c.ttl {
			return false, nil
		}
		// expired: take it over unless someone else already did
		return c.entries.CompareAndSwap(nonce, existing, e), nil
	}

	if c.count.Add(1) > c.maxEntries {
		c.entries.Delete(nonce)
		c.count.Add(-1)
		return false, ErrCacheFull
	}
	return true, nil
}

// Len returns the number of remembered nonces, expired ones included until
// the next sweep.
func (c *MemoryCache) Len() int {
	return int(c.count.Load())
}

// Close stops the sweeper. It is safe to call more than once.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Since(c.createdAt).Nanoseconds()
	ttl := c.ttl.Nanoseconds()
	c.entries.Range(func(key, value any) bool {
		if now-value.(*entry).offset >= ttl && c.entries.CompareAndDelete(key, value) {
			c.count.Add(-1)
		}
		return true
	})
}
