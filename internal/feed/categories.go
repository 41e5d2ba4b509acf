package feed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"horse.fit/newsfeed/internal/globaltime"
	"horse.fit/newsfeed/internal/metrics"
)

// CategoryLister loads the full category set.
type CategoryLister interface {
	ListCategories(ctx context.Context) ([]string, error)
}

// CategoryCache holds the category list for a fixed TTL. It expires by time
// only; concurrent misses share one load.
type CategoryCache struct {
	source CategoryLister
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	values    []string
	expiresAt time.Time
}

func NewCategoryCache(source CategoryLister, ttl time.Duration) *CategoryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CategoryCache{source: source, ttl: ttl, now: globaltime.UTC}
}

// TTL is how long a loaded list is served.
func (c *CategoryCache) TTL() time.Duration { return c.ttl }

func (c *CategoryCache) Get(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	if c.values != nil && c.now().Before(c.expiresAt) {
		values := c.values
		c.mu.RUnlock()
		metrics.CategoryCacheLookups.WithLabelValues("hit").Inc()
		return append([]string(nil), values...), nil
	}
	c.mu.RUnlock()
	metrics.CategoryCacheLookups.WithLabelValues("miss").Inc()

	loaded, err, _ := c.group.Do("categories", func() (any, error) {
		values, err := c.source.ListCategories(ctx)
		if err != nil {
			return nil, err
		}
		if values == nil {
			values = []string{}
		}
		c.mu.Lock()
		c.values = values
		c.expiresAt = c.now().Add(c.ttl)
		c.mu.Unlock()
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), loaded.([]string)...), nil
}
