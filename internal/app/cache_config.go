package app

import (
	"strings"

	"github.com/charlesng35/softcenter/internal/cache"
)

// StoreConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) StoreConfig() cache.Config {
	return cache.Config{
		Driver:      strings.TrimSpace(c.Driver),
		BoltPath:    strings.TrimSpace(c.Bolt.Path),
		BoltTimeout: c.Bolt.Timeout,
	}
}
