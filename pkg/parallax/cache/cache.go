// Package cache persists optimization decisions so that later runs of the
// same job on the same machine can skip sampling. Decisions live in a
// Badger store with a TTL, fronted by an in-memory LRU.
package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jamesainslie/parallax/pkg/parallax/logging"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

var logger = logging.Get("cache")

// Defaults for Options.
const (
	DefaultTTL           = 7 * 24 * time.Hour
	DefaultMemoryEntries = 256
)

// Options configures a Cache.
type Options struct {
	// Path is the Badger directory. Empty keeps everything in memory.
	Path string

	// TTL is how long a decision stays valid. Zero never expires.
	TTL time.Duration

	// MemoryEntries is the size of the in-memory LRU.
	MemoryEntries int
}

// DefaultOptions returns options for a cache at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:          path,
		TTL:           DefaultTTL,
		MemoryEntries: DefaultMemoryEntries,
	}
}

// Stats reports cache activity since Open.
type Stats struct {
	Entries       int    `json:"entries" yaml:"entries"`
	MemoryEntries int    `json:"memory_entries" yaml:"memory_entries"`
	Hits          uint64 `json:"hits" yaml:"hits"`
	Misses        uint64 `json:"misses" yaml:"misses"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Cache provides high-level caching operations for decisions.
type Cache struct {
	store  *Store
	memory *lru.Cache[string, *CachedResult]
	opts   Options
	now    func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Open opens or creates a cache.
func Open(opts Options) (*Cache, error) {
	var (
		store *Store
		err   error
	)
	if opts.Path == "" {
		store, err = OpenMemoryStore()
	} else {
		store, err = OpenStore(opts.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	size := opts.MemoryEntries
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	memory, err := lru.New[string, *CachedResult](size)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}

	return &Cache{
		store:  store,
		memory: memory,
		opts:   opts,
		now:    time.Now,
	}, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Lookup returns the decision stored under key.
func (c *Cache) Lookup(key string) (*types.Result, bool) {
	now := c.now()

	if entry, ok := c.memory.Get(key); ok {
		if !entry.Expired(c.opts.TTL, now) {
			c.hits.Add(1)
			return entry.Result(), true
		}
		c.memory.Remove(key)
	}

	entry, err := c.store.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		c.misses.Add(1)
		return nil, false
	case err != nil:
		logger.Warn("cache read failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}

	if entry.Version != CacheVersion || entry.Expired(c.opts.TTL, now) {
		logger.Debug("dropping stale entry", "key", key, "version", entry.Version)
		if err := c.store.Delete(key); err != nil {
			logger.Warn("cache delete failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}

	c.memory.Add(key, entry)
	c.hits.Add(1)
	return entry.Result(), true
}

// Store saves a decision under key.
func (c *Cache) Store(key string, r *types.Result) error {
	entry := FromResult(r, c.now())
	if err := c.store.Put(key, entry, c.opts.TTL); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	c.memory.Add(key, entry)
	logger.Debug("stored decision", "key", key, "workers", r.Workers, "backend", r.Backend)
	return nil
}

// Clear removes every decision whose key starts with prefix. An empty
// prefix clears the whole cache.
func (c *Cache) Clear(prefix string) (int, error) {
	n, err := c.store.DeletePrefix(prefix)
	if err != nil {
		return n, fmt.Errorf("clearing cache: %w", err)
	}
	if prefix == "" {
		c.memory.Purge()
	} else {
		for _, key := range c.memory.Keys() {
			if strings.HasPrefix(key, prefix) {
				c.memory.Remove(key)
			}
		}
	}
	return n, nil
}

// Keys returns the stored decision keys starting with prefix.
func (c *Cache) Keys(prefix string) ([]string, error) {
	return c.store.Keys(prefix)
}

// Stats returns entry counts and hit rates.
func (c *Cache) Stats() (Stats, error) {
	keys, err := c.store.Keys("")
	if err != nil {
		return Stats{}, fmt.Errorf("counting cache entries: %w", err)
	}
	return Stats{
		Entries:       len(keys),
		MemoryEntries: c.memory.Len(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Path:          c.opts.Path,
	}, nil
}
