package state

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"shardswap/pkg/shard"
)

// DefaultTTL is how long a fetched pool state stays valid for reads.
const DefaultTTL = 30 * time.Second

// FetchFunc fetches live state for a shard. *Fetcher.Fetch satisfies it.
type FetchFunc func(ctx context.Context, sh shard.Shard) (PoolState, error)

type cacheEntry struct {
	state     PoolState
	expiresAt time.Time
}

// Cache wraps a fetcher with a TTL cache. On fetch failure it degrades to a
// config-derived state instead of propagating the error: a flagged-stale
// quote is more useful than no quote, as long as execution re-validates.
//
// Entries are replaced wholesale, never mutated in place. Concurrent misses
// for the same shard collapse into a single fetch.
type Cache struct {
	mu       sync.Mutex
	entries  map[solana.PublicKey]cacheEntry
	inflight map[solana.PublicKey]chan struct{}

	fetch FetchFunc
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

func NewCache(fetch FetchFunc, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		entries:  make(map[solana.PublicKey]cacheEntry),
		inflight: make(map[solana.PublicKey]chan struct{}),
		fetch:    fetch,
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
}

// Get returns the cached state for the shard, fetching on miss or expiry.
// It never returns an error: a failed fetch degrades to ConfigFallback.
func (c *Cache) Get(ctx context.Context, sh shard.Shard) PoolState {
	key := sh.PoolAddress

	for {
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok && c.now().Before(entry.expiresAt) {
			c.mu.Unlock()
			return entry.state
		}
		if wait, busy := c.inflight[key]; busy {
			c.mu.Unlock()
			select {
			case <-wait:
				continue // re-check the entry the winner stored
			case <-ctx.Done():
				return ConfigFallback(sh)
			}
		}
		done := make(chan struct{})
		c.inflight[key] = done
		c.mu.Unlock()

		st, err := c.fetch(ctx, sh)

		c.mu.Lock()
		delete(c.inflight, key)
		close(done)
		if err != nil {
			c.mu.Unlock()
			c.log.Warn("pool state fetch failed, degrading to config state",
				zap.String("pool", key.String()),
				zap.Error(err))
			return ConfigFallback(sh)
		}
		c.entries[key] = cacheEntry{state: st, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return st
	}
}

// ApplyReserveUpdate replaces the cached entry after a pushed balance change
// on one of the shard's reserve accounts. The update only applies when a
// chain-verified entry already exists; the whole entry is rebuilt, never
// patched in place. Reports whether the update was applied.
func (c *Cache) ApplyReserveUpdate(sh shard.Shard, account solana.PublicKey, balance uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sh.PoolAddress]
	if !ok || !entry.state.Trusted() {
		return false
	}

	st := entry.state
	switch account {
	case sh.ReserveAccountA:
		st.ReserveA = balance
	case sh.ReserveAccountB:
		st.ReserveB = balance
	default:
		return false
	}
	st.FetchedAt = c.now()

	c.entries[sh.PoolAddress] = cacheEntry{state: st, expiresAt: c.now().Add(c.ttl)}
	return true
}

// Invalidate drops the entry for one pool.
func (c *Cache) Invalidate(pool solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, pool)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[solana.PublicKey]cacheEntry)
}

// Size returns the number of cached entries, expired or not.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
