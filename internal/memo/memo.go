// Package memo memoizes keyed fetches and coalesces concurrent loads of the
// same key into one in-flight call.
//
// A key is absent, pending (a fetch is running and every Load returns its
// Future) or resolved (the Future holds the value). A failed fetch returns the
// key to absent so the next Load retries.
package memo

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

type State int

const (
	Absent State = iota
	Pending
	Resolved
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	default:
		return "absent"
	}
}

// FetchFunc loads the value for key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Future is the shared result of one fetch.
type Future[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func newFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

// Wait blocks until the fetch completes or ctx ends. Giving up does not cancel
// the fetch; other waiters still receive its result.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Done is closed once the result is available.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[V]) resolved() bool {
	select {
	case <-f.done:
		return f.err == nil
	default:
		return false
	}
}

type Cache[K comparable, V any] struct {
	fetch   FetchFunc[K, V]
	entries *xsync.Map[K, *Future[V]]
	ctx     context.Context
}

// New returns a cache that loads missing keys with fetch. Fetches run on ctx,
// not on the context of whoever triggered them.
func New[K comparable, V any](ctx context.Context, fetch func(ctx context.Context, key K) (V, error)) *Cache[K, V] {
	return &Cache[K, V]{
		fetch:   fetch,
		entries: xsync.NewMap[K, *Future[V]](),
		ctx:     ctx,
	}
}

// Load returns the Future for key, starting a fetch only when the key is
// absent.
func (c *Cache[K, V]) Load(key K) *Future[V] {
	var started *Future[V]
	future, _ := c.entries.Compute(key, func(current *Future[V], loaded bool) (*Future[V], xsync.ComputeOp) {
		if loaded {
			return current, xsync.CancelOp
		}
		started = newFuture[V]()
		return started, xsync.UpdateOp
	})
	if started != nil {
		go c.run(key, started)
	}
	return future
}

// Get is Load followed by Wait.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	return c.Load(key).Wait(ctx)
}

func (c *Cache[K, V]) State(key K) State {
	future, ok := c.entries.Load(key)
	switch {
	case !ok:
		return Absent
	case future.resolved():
		return Resolved
	default:
		return Pending
	}
}

// Forget drops a resolved or pending key. Waiters on a pending fetch still
// receive its result.
func (c *Cache[K, V]) Forget(key K) {
	c.entries.Delete(key)
}

func (c *Cache[K, V]) run(key K, future *Future[V]) {
	value, err := c.fetch(c.ctx, key)
	if err != nil {
		// Remove before completing so that a caller retrying after Wait
		// returns starts a fresh fetch.
		c.entries.Compute(key, func(current *Future[V], loaded bool) (*Future[V], xsync.ComputeOp) {
			if loaded && current == future {
				return current, xsync.DeleteOp
			}
			return current, xsync.CancelOp
		})
		future.err = err
		close(future.done)
		return
	}
	future.value = value
	close(future.done)
}
