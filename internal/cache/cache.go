package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"
	"github.com/sdko-org/swapi-proxy/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the freshness window applied to every cached response.
const DefaultTTL = time.Hour

// Entry is a cached upstream response.
type Entry struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Outcome describes how GetOrCompute satisfied a lookup.
type Outcome string

const (
	Hit    Outcome = "hit"
	Miss   Outcome = "miss"
	Shared Outcome = "shared"
)

// Producer computes the value for a missing key.
type Producer func(ctx context.Context) (Entry, error)

// ResponseCache stores upstream responses for a fixed TTL and collapses
// concurrent productions of the same key into one call.
type ResponseCache struct {
	store otter.Cache[string, Entry]
	group singleflight.Group
	ttl   time.Duration
}

func NewResponseCache(maxEntries int, ttl time.Duration) (*ResponseCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	store, err := otter.MustBuilder[string, Entry](maxEntries).
		CollectStats().
		Cost(func(_ string, _ Entry) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build response cache: %w", err)
	}
	return &ResponseCache{store: store, ttl: ttl}, nil
}

func (c *ResponseCache) Get(key string) (Entry, bool) {
	return c.store.Get(key)
}

// Set stores an entry for the cache's TTL.
func (c *ResponseCache) Set(key string, entry Entry) {
	c.store.Set(key, entry)
}

func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

func (c *ResponseCache) Len() int {
	return c.store.Size()
}

func (c *ResponseCache) Close() {
	c.store.Close()
}

// GetOrCompute returns the cached entry for key, or runs produce once for all
// concurrent callers of the same key and caches its result. A failed
// production is returned to every waiter and leaves the key uncached.
//
// produce runs detached from ctx cancellation so that one caller going away
// does not fail the shared production; ctx only bounds how long this caller
// waits.
func (c *ResponseCache) GetOrCompute(ctx context.Context, key string, produce Producer) (Entry, Outcome, error) {
	if entry, ok := c.store.Get(key); ok {
		metrics.CacheLookups.WithLabelValues(string(Hit)).Inc()
		return entry, Hit, nil
	}

	outcome := Shared
	results := c.group.DoChan(key, func() (any, error) {
		if entry, ok := c.store.Get(key); ok {
			outcome = Hit
			return entry, nil
		}
		outcome = Miss
		entry, err := produce(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store.Set(key, entry)
		return entry, nil
	})

	select {
	case res := <-results:
		metrics.CacheLookups.WithLabelValues(string(outcome)).Inc()
		if res.Err != nil {
			return Entry{}, outcome, res.Err
		}
		return res.Val.(Entry), outcome, nil
	case <-ctx.Done():
		return Entry{}, Shared, ctx.Err()
	}
}
