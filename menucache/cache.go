// Package menucache holds fetched menu snapshots for a freshness window.
package menucache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"diningagent/menu"
)

// DefaultTTL matches how often dining menus change during service.
const DefaultTTL = 10 * time.Minute

// FetchFunc produces a fresh snapshot on a cache miss.
type FetchFunc func(ctx context.Context) (menu.Corpus, error)

type entry struct {
	corpus    menu.Corpus
	fetchedAt time.Time
}

// Cache hands out snapshots keyed by an arbitrary string. Stored snapshots are
// never exposed directly: every read returns a clone, so callers may not
// mutate shared state.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
	now     func() time.Time
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

// Key builds the conventional cache key for a meal on a date.
func Key(meal menu.Meal, date time.Time) string {
	return fmt.Sprintf("%s:%s", date.Format(time.DateOnly), meal)
}

// GetOrFetch returns the cached snapshot for key if it is younger than ttl and
// otherwise calls fetch. Concurrent misses on one key share a single fetch.
// Failed fetches are not cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (menu.Corpus, error) {
	if corpus, ok := c.lookup(key, ttl); ok {
		slog.Debug("MENU_CACHE: Hit", "key", key, "items", corpus.Len())
		return corpus, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		if corpus, ok := c.lookup(key, ttl); ok {
			return corpus, nil
		}
		slog.Info("MENU_CACHE: Fetching", "key", key)
		corpus, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{corpus: corpus.Clone(), fetchedAt: c.now()}
		c.mu.Unlock()
		return corpus, nil
	})
	if err != nil {
		return menu.Corpus{}, fmt.Errorf("fetch menu %s: %w", key, err)
	}
	if shared {
		slog.Debug("MENU_CACHE: Shared fetch", "key", key)
	}
	return v.(menu.Corpus).Clone(), nil
}

// Invalidate drops key so the next read refetches.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache) lookup(key string, ttl time.Duration) (menu.Corpus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || ttl <= 0 || c.now().Sub(e.fetchedAt) >= ttl {
		return menu.Corpus{}, false
	}
	return e.corpus.Clone(), true
}
