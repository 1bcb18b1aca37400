package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("cache_entries")

// boltRecord is the CBOR encoded value stored per key.
type boltRecord struct {
	Value     []byte `cbor:"1,keyasint"`
	Count     int64  `cbor:"2,keyasint,omitempty"`
	ExpiresAt int64  `cbor:"3,keyasint,omitempty"` // unix nanoseconds, 0 = never
}

func (r boltRecord) expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.UnixNano() >= r.ExpiresAt
}

// BoltStore implements Store on an embedded bbolt file. Updates are serialised by bbolt,
// which makes IncrementWithTTL atomic without row locks.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenBoltStore opens (creating if needed) the bbolt file at path.
func OpenBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("cache: bolt path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create bolt dir: %w", err)
		}
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("cache: open bolt: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: create bucket: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close releases the bbolt file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func readRecord(b *bbolt.Bucket, key string) (boltRecord, bool, error) {
	raw := b.Get([]byte(key))
	if raw == nil {
		return boltRecord{}, false, nil
	}
	var rec boltRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return boltRecord{}, false, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return rec, true, nil
}

func writeRecord(b *bbolt.Bucket, key string, rec boltRecord) error {
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return b.Put([]byte(key), raw)
}

// IncrementWithTTL increments a fixed-window counter.
func (s *BoltStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	var rec boltRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		current, ok, err := readRecord(b, key)
		if err != nil {
			return err
		}
		if !ok || current.expired(now) {
			current = boltRecord{ExpiresAt: now.Add(window).UnixNano()}
		}
		current.Count++
		rec = current
		return writeRecord(b, key, rec)
	})
	if err != nil {
		return 0, 0, err
	}

	return rec.Count, time.Unix(0, rec.ExpiresAt).Sub(now), nil
}

// Set stores value under key. A non-positive ttl never expires.
func (s *BoltStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	rec := boltRecord{Value: value}
	if ttl > 0 {
		rec.ExpiresAt = s.now().Add(ttl).UnixNano()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return writeRecord(tx.Bucket(bucketEntries), key, rec)
	})
}

// Get returns the value stored under key when present and unexpired.
func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		rec boltRecord
		ok  bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, ok, err = readRecord(tx.Bucket(bucketEntries), key)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	if rec.expired(s.now()) {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Delete removes keys from the store.
func (s *BoltStore) Delete(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for _, key := range keys {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeExpired removes every expired record.
func (s *BoltStore) PurgeExpired(_ context.Context) (int64, error) {
	now := s.now()
	var removed int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := cbor.Unmarshal(v, &rec); err != nil || rec.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = int64(len(stale))
		return nil
	})
	return removed, err
}
