package cache

import (
	"fmt"
	"time"
)

// CacheConfig holds configuration for the attribute definition cache.
type CacheConfig struct {
	// DefinitionsTTL is how long a loaded snapshot is served before the next
	// read triggers a refresh.
	DefinitionsTTL time.Duration

	// MaxSize bounds the number of definitions held. Definitions beyond it
	// (highest ids first) are dropped with a warning.
	MaxSize int

	// LoadTimeout bounds a single refresh query.
	LoadTimeout time.Duration
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		DefinitionsTTL: 5 * time.Minute,
		MaxSize:        5000,
		LoadTimeout:    5 * time.Second,
	}
}

// Validate rejects settings the cache cannot honor.
func (c *CacheConfig) Validate() error {
	if c.DefinitionsTTL <= 0 {
		return fmt.Errorf("cache.definitions_ttl must be positive, got %s", c.DefinitionsTTL)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("cache.max_size must be at least 1, got %d", c.MaxSize)
	}
	if c.LoadTimeout <= 0 {
		return fmt.Errorf("cache load timeout must be positive, got %s", c.LoadTimeout)
	}
	return nil
}
