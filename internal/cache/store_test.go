package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/softcenter/internal/database/testutil"
)

type clockedStore interface {
	Store
	Purger
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func storesUnderTest(t *testing.T, clock *testClock) map[string]clockedStore {
	t.Helper()

	dbStore := NewDatabaseStore(testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()))
	dbStore.now = clock.Now

	boltStore, err := OpenBoltStore(filepath.Join(t.TempDir(), "cache", "cache.bolt"), time.Second)
	require.NoError(t, err)
	boltStore.now = clock.Now
	t.Cleanup(func() { _ = boltStore.Close() })

	memStore := NewMemoryStore()
	memStore.now = clock.Now
	t.Cleanup(func() { _ = memStore.Close() })

	return map[string]clockedStore{
		"database": dbStore,
		"bolt":     boltStore,
		"memory":   memStore,
	}
}

func TestStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	clock := newClock()

	for name, store := range storesUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.Set(ctx, "greeting", []byte("hello"), time.Minute))
			value, ok, err := store.Get(ctx, "greeting")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("hello"), value)

			require.NoError(t, store.Set(ctx, "greeting", []byte("hi"), time.Minute))
			value, _, err = store.Get(ctx, "greeting")
			require.NoError(t, err)
			require.Equal(t, []byte("hi"), value)

			require.NoError(t, store.Delete(ctx, "greeting"))
			_, ok, err = store.Get(ctx, "greeting")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.Delete(ctx))
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	stores := storesUnderTest(t, clock)

	for _, store := range stores {
		require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Second))
		require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))
	}

	clock.Advance(2 * time.Second)

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, "short")
			require.NoError(t, err)
			require.False(t, ok)

			value, ok, err := store.Get(ctx, "forever")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("y"), value)
		})
	}
}

func TestStoreIncrementFixedWindow(t *testing.T) {
	ctx := context.Background()
	clock := newClock()

	for name, store := range storesUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			key := "counter:" + name

			count, ttl, err := store.IncrementWithTTL(ctx, key, 10*time.Second)
			require.NoError(t, err)
			require.EqualValues(t, 1, count)
			require.Equal(t, 10*time.Second, ttl)

			clock.Advance(4 * time.Second)
			count, ttl, err = store.IncrementWithTTL(ctx, key, 10*time.Second)
			require.NoError(t, err)
			require.EqualValues(t, 2, count)
			require.Equal(t, 6*time.Second, ttl, "window is not extended by later increments")

			clock.Advance(7 * time.Second)
			count, ttl, err = store.IncrementWithTTL(ctx, key, 10*time.Second)
			require.NoError(t, err)
			require.EqualValues(t, 1, count)
			require.Equal(t, 10*time.Second, ttl)
		})
	}
}

func TestStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	stores := storesUnderTest(t, clock)

	for _, store := range stores {
		require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Second))
		require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Second))
		require.NoError(t, store.Set(ctx, "keep", []byte("3"), time.Hour))
		require.NoError(t, store.Set(ctx, "never", []byte("4"), 0))
	}

	clock.Advance(time.Minute)

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			removed, err := store.PurgeExpired(ctx)
			require.NoError(t, err)
			require.EqualValues(t, 2, removed)

			_, ok, err := store.Get(ctx, "keep")
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestStoreConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	clock := newClock()

	for name, store := range storesUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			const workers = 16
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _, err := store.IncrementWithTTL(ctx, "burst", time.Minute)
					require.NoError(t, err)
				}()
			}
			wg.Wait()

			count, _, err := store.IncrementWithTTL(ctx, "burst", time.Minute)
			require.NoError(t, err)
			require.EqualValues(t, workers+1, count)
		})
	}
}

func TestOpen(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	store, closeFn, err := Open(Config{Driver: "database"}, db)
	require.NoError(t, err)
	require.IsType(t, &DatabaseStore{}, store)
	require.NoError(t, closeFn())

	store, closeFn, err = Open(Config{Driver: "bolt", BoltPath: filepath.Join(t.TempDir(), "c.bolt")}, nil)
	require.NoError(t, err)
	require.IsType(t, &BoltStore{}, store)
	require.NoError(t, closeFn())

	store, closeFn, err = Open(Config{Driver: "memory"}, nil)
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)
	require.NoError(t, closeFn())

	_, closeFn, err = Open(Config{Driver: "database"}, nil)
	require.Error(t, err)
	require.NotNil(t, closeFn)

	_, _, err = Open(Config{Driver: "redis"}, db)
	require.ErrorContains(t, err, "unsupported driver")
}
