package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store represents a shared cache interface used across the application.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Purger is implemented by stores that keep expired entries until swept.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Config selects and configures a Store.
type Config struct {
	Driver      string
	BoltPath    string
	BoltTimeout time.Duration
}

// Open builds the Store named by cfg.Driver. The returned close function releases any
// resources held by the store and is never nil.
func Open(cfg Config, db *gorm.DB) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "database":
		if db == nil {
			return nil, noop, errors.New("cache: database driver requires a db handle")
		}
		return NewDatabaseStore(db), noop, nil
	case "bolt":
		store, err := OpenBoltStore(cfg.BoltPath, cfg.BoltTimeout)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "memory":
		store := NewMemoryStore()
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("cache: unsupported driver %q", cfg.Driver)
	}
}
