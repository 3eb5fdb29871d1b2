// Package dedupe caches counting results by image content hash so identical
// images never hit the model twice.
package dedupe

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
)

// Sum identifies image content.
type Sum [sha256.Size]byte

// HashImage hashes raw image bytes.
func HashImage(data []byte) Sum {
	return sha256.Sum256(data)
}

// Cache is a badger-backed count store. A nil *Cache is a no-op: Lookup
// always misses and Store does nothing.
type Cache struct {
	db *badger.DB
}

// Open creates or reopens the cache at dir.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Lookup returns the cached count for sum, if any.
func (c *Cache) Lookup(sum Sum) (int, bool) {
	if c == nil || c.db == nil {
		return 0, false
	}
	var count int
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sum[:])
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) == 8 {
				count = int(binary.BigEndian.Uint64(v))
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return 0, false
	}
	return count, found
}

// Store records the count for sum. Failures are ignored; the cache is an
// optimization, not a system of record.
func (c *Cache) Store(sum Sum, count int) {
	if c == nil || c.db == nil || count < 0 {
		return
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(count))
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sum[:], v[:])
	})
}
