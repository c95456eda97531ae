package dataset

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cached memoizes successful fetches from another Source. Concurrent fetches
// of the same name share one upstream call. Failures are never cached.
type Cached struct {
	src   Source
	cache *lru.LRU[string, string]
	group singleflight.Group
}

// NewCached wraps src with an LRU of size entries. A zero ttl keeps entries
// until evicted.
func NewCached(src Source, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 16
	}
	return &Cached{
		src:   src,
		cache: lru.NewLRU[string, string](size, nil, ttl),
	}
}

type fetchResult struct {
	text string
	err  error
}

func (c *Cached) Fetch(ctx context.Context, name string) (string, error) {
	if text, ok := c.cache.Get(name); ok {
		return text, nil
	}

	v, _, _ := c.group.Do(name, func() (any, error) {
		text, err := c.src.Fetch(ctx, name)
		if err == nil {
			c.cache.Add(name, text)
		}
		return fetchResult{text: text, err: err}, nil
	})
	res := v.(fetchResult)
	return res.text, res.err
}

// Purge drops every cached dataset.
func (c *Cached) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached datasets.
func (c *Cached) Len() int {
	return c.cache.Len()
}
