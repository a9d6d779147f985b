package compaction

import (
	"sync"

	"snapdb/pkg/bloom"
	"snapdb/pkg/sstable"
)

// BloomCache keeps the bloom filters a pass has already read, keyed by table
// id. A disabled cache reads the filter file on every lookup.
type BloomCache struct {
	dir     string
	enabled bool

	mu      sync.Mutex
	filters map[uint64]*bloom.Filter
	loads   int
}

func NewBloomCache(dir string, enabled bool) *BloomCache {
	return &BloomCache{
		dir:     dir,
		enabled: enabled,
		filters: make(map[uint64]*bloom.Filter),
	}
}

// Get returns the filter of table id.
func (c *BloomCache) Get(id uint64) (*bloom.Filter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.filters[id]; ok {
		return f, nil
	}
	f, err := sstable.ReadBloom(c.dir, id)
	if err != nil {
		return nil, err
	}
	c.loads++
	if c.enabled {
		c.filters[id] = f
	}
	return f, nil
}

// Clear drops every cached filter.
func (c *BloomCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.filters)
}

// Len returns the number of cached filters.
func (c *BloomCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.filters)
}

// Loads returns how many filter files were read.
func (c *BloomCache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}
