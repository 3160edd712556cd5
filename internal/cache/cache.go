// Package cache is the injected key/value cache used for embeddings and
// other recomputable lookups. Entries expire after a TTL and the in-memory
// implementation evicts the least recently used entry past MaxEntries.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V)
}

type Options struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

const (
	defaultTTL        = 24 * time.Hour
	defaultMaxEntries = 4096
)

type entry[V any] struct {
	key     string
	value   V
	expires time.Time
}

// LRU is a bounded in-process cache. It is safe for concurrent use.
type LRU[V any] struct {
	mu      sync.Mutex
	opts    Options
	order   *list.List
	entries map[string]*list.Element

	hits   uint64
	misses uint64
}

func NewLRU[V any](opts Options) *LRU[V] {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU[V]{
		opts:    opts,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *LRU[V]) Get(_ context.Context, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	ent := elem.Value.(*entry[V])
	if !c.opts.Now().Before(ent.expires) {
		c.removeElement(elem)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return ent.value, true
}

func (c *LRU[V]) Set(_ context.Context, key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.opts.Now().Add(c.opts.TTL)
	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.value = value
		ent.expires = expires
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&entry[V]{key: key, value: value, expires: expires})
	for c.order.Len() > c.opts.MaxEntries {
		c.removeElement(c.order.Back())
	}
}

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit and miss counters since creation.
func (c *LRU[V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LRU[V]) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry[V])
	delete(c.entries, ent.key)
	c.order.Remove(elem)
}
