package bus

import (
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/cuemby/databay/pkg/clock"
	"github.com/cuemby/databay/pkg/message"
)

// idempotencyKey is the composite (sender, key) the cache is keyed on —
// scoping a key to its sender prevents one tenant's idempotency key from
// colliding with another's (spec §4.3).
type idempotencyKey struct {
	sender string
	key    string
}

type idempotencyEntry struct {
	response  message.Response
	expiresAt time.Time
}

// idempotencyCache is a bounded, process-local LRU of (sender, key) ->
// prior response. It is never persisted: spec §9 pins idempotency scope
// to process-local only, leaving cross-restart dedup to callers.
type idempotencyCache struct {
	cache *lru.Cache
	ttl   time.Duration
	clock clock.Clock
}

func newIdempotencyCache(size int, ttl time.Duration, clk clock.Clock) (*idempotencyCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &idempotencyCache{cache: c, ttl: ttl, clock: clk}, nil
}

func (c *idempotencyCache) get(sender, key string) (message.Response, bool) {
	raw, ok := c.cache.Get(idempotencyKey{sender: sender, key: key})
	if !ok {
		return message.Response{}, false
	}
	entry := raw.(idempotencyEntry)
	if c.clock.NowUTC().After(entry.expiresAt) {
		c.cache.Remove(idempotencyKey{sender: sender, key: key})
		return message.Response{}, false
	}
	return entry.response, true
}

func (c *idempotencyCache) put(sender, key string, resp message.Response) {
	c.cache.Add(idempotencyKey{sender: sender, key: key}, idempotencyEntry{
		response:  resp,
		expiresAt: c.clock.NowUTC().Add(c.ttl),
	})
}
