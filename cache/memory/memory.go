// Package memory provides an in-memory LRU implementation of
// cache.ChunkCache.
package memory

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ZclassicCommunity/zclassic/cache"
)

// Cache is an in-memory LRU cache of snapshot chunk bytes.
type Cache struct {
	lru *lru.Cache[uint32, []byte]
	mu  sync.RWMutex
}

var _ cache.ChunkCache = (*Cache)(nil)

// New creates a new in-memory LRU cache holding up to size chunks.
func New(size int) (*Cache, error) {
	l, err := lru.New[uint32, []byte](size)
	if err != nil {
		return nil, err
	}

	return &Cache{
		lru: l,
	}, nil
}

// Get retrieves a cached chunk.
func (c *Cache) Get(chunk uint32) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lru.Get(chunk)
}

// Put stores a chunk's bytes.
func (c *Cache) Put(chunk uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(chunk, data)
	return nil
}

// Delete removes a cached chunk, if present.
func (c *Cache) Delete(chunk uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(chunk)
	return nil
}

// Clear removes all cached entries.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	return nil
}
