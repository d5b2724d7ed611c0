// Package cache keeps the most recent upstream tools list so repeated
// list/discover requests do not hammer the remote server.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mrecos/mcp-gateway/internal/mcp"
)

const toolsKey = "tools/list"

// ToolCache stores tool descriptors with a TTL. Disabled instances are no-ops.
type ToolCache struct {
	enabled bool
	ttl     time.Duration
	store   *ristretto.Cache
}

// Config captures cache construction parameters.
type Config struct {
	Enabled     bool
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

// New creates a ToolCache according to the configuration.
func New(cfg Config) (*ToolCache, error) {
	if !cfg.Enabled {
		return &ToolCache{}, nil
	}

	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64OrDefault(cfg.NumCounters, 1e4),
		MaxCost:     int64OrDefault(cfg.MaxCost, 1<<20),
		BufferItems: int64OrDefault(cfg.BufferItems, 64),
	})
	if err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &ToolCache{enabled: true, ttl: ttl, store: store}, nil
}

// Get returns the cached tools list, if fresh.
func (c *ToolCache) Get() ([]mcp.ToolDescriptor, bool) {
	if !c.enabled {
		return nil, false
	}
	v, ok := c.store.Get(toolsKey)
	if !ok {
		return nil, false
	}
	tools, ok := v.([]mcp.ToolDescriptor)
	return tools, ok
}

// Set stores the tools list. Waits for the write to become visible so a
// discover immediately after a list hits the cache.
func (c *ToolCache) Set(tools []mcp.ToolDescriptor) {
	if !c.enabled {
		return
	}
	c.store.SetWithTTL(toolsKey, tools, int64(len(tools))+1, c.ttl)
	c.store.Wait()
}

// Invalidate drops the cached tools list.
func (c *ToolCache) Invalidate() {
	if !c.enabled {
		return
	}
	c.store.Del(toolsKey)
}

func int64OrDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
