package models

import (
	"context"
	"time"

	"github.com/Protocol-Lattice/ragd/src/cache"
)

// CachedLLM wraps an Agent and caches Generate calls.
type CachedLLM struct {
	Agent Agent
	Cache *cache.LRUCache
}

// NewCachedLLM creates a new CachedLLM wrapper.
func NewCachedLLM(agent Agent, size int, ttl time.Duration) *CachedLLM {
	return &CachedLLM{
		Agent: agent,
		Cache: cache.NewLRUCache(size, ttl),
	}
}

// Generate checks the cache before calling the underlying agent.
func (c *CachedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	key := cache.HashKey(prompt)
	if val, ok := c.Cache.Get(key); ok {
		return val, nil
	}

	res, err := c.Agent.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	c.Cache.Set(key, res)
	return res, nil
}

var _ Agent = (*CachedLLM)(nil)
