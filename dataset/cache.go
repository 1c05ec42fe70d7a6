package dataset

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Load when the dataset path does not exist.
var ErrNotFound = errors.New("dataset not found")

// DefaultMaxEntries is the cache capacity used when none is configured.
const DefaultMaxEntries = 10

type cacheKey struct {
	path  string
	mtime int64
}

type cacheEntry struct {
	dataset    *Dataset
	insertedAt time.Time
}

// Cache loads datasets from disk, keyed by path plus modification time.
// A changed mtime produces a new key rather than updating the old entry, so
// stale data is never served. The cache holds at most maxEntries datasets;
// inserting beyond that evicts the oldest insertion.
//
// Lookup, insert and eviction run under one mutex; parsing happens outside
// it so slow files do not block concurrent callers. Two concurrent misses
// for the same key may both parse and the last writer wins, which is an
// accepted low-cost race.
type Cache struct {
	logger     *zap.Logger
	maxEntries int

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCache creates a Cache bounded at maxEntries.
func NewCache(logger *zap.Logger, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		logger:     logger,
		maxEntries: maxEntries,
		entries:    make(map[cacheKey]cacheEntry),
	}
}

// Load returns an independent copy of the dataset at path, parsing and
// caching it on first use. Missing paths fail with ErrNotFound.
func (c *Cache) Load(path string) (*Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	key := cacheKey{path: path, mtime: info.ModTime().UnixNano()}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return entry.dataset.Copy(), nil
	}
	c.mu.Unlock()

	// Parse outside the lock.
	ds, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{dataset: ds, insertedAt: time.Now()}
	size := len(c.entries)
	c.mu.Unlock()

	c.logger.Debug("dataset cached",
		zap.String("path", path),
		zap.Int("rows", ds.NumRows()),
		zap.Int("columns", len(ds.Columns)),
		zap.Int("cache_size", size))

	return ds.Copy(), nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	var oldest cacheKey
	var oldestAt time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.insertedAt.Before(oldestAt) {
			oldest = key
			oldestAt = entry.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldest)
	}
}
