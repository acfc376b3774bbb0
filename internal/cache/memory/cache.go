// Package memory is an in-process embedding cache with LRU eviction and an
// optional per-entry TTL.
package memory

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	embedding []float32
	expires   time.Time
}

type Cache struct {
	lru *lru.Cache[string, entry]
	ttl time.Duration
	now func() time.Time
}

// New returns a cache holding at most size embeddings. ttl <= 0 disables expiry.
func New(size int, ttl time.Duration) (*Cache, error) {
	l, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cache{lru: l, ttl: ttl, now: time.Now}, nil
}

func (c *Cache) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, false, nil
	}
	return e.embedding, true, nil
}

func (c *Cache) SetEmbedding(_ context.Context, key string, embedding []float32) error {
	stored := make([]float32, len(embedding))
	copy(stored, embedding)

	e := entry{embedding: stored}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.lru.Add(key, e)
	return nil
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) Purge() {
	c.lru.Purge()
}
