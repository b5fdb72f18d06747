// SPDX-License-Identifier: MIT

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// BadgerCache is a persistent Cache backed by an embedded badger store.
// Values survive daemon restarts, which keeps upstream tokens and title
// matches warm across cycles.
type BadgerCache struct {
	db     *badger.DB
	logger zerolog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// NewBadgerCache opens (or creates) a badger store at path.
func NewBadgerCache(path string, logger zerolog.Logger) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache at %s: %w", path, err)
	}

	logger.Debug().
		Str("event", "cache.badger.opened").
		Str("path", path).
		Msg("badger cache opened")

	return &BadgerCache{
		db:     db,
		logger: logger.With().Str("component", "badger-cache").Logger(),
	}, nil
}

// Get retrieves a value from the cache. Values are JSON-decoded, so a
// stored string comes back as a string and structured values come back
// as generic JSON types.
func (c *BadgerCache) Get(key string) (any, bool) {
	var value any
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &value)
		})
	})

	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn().
				Str("event", "cache.badger.get_failed").
				Str("key", key).
				Err(err).
				Msg("badger get failed")
		}
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return value, true
}

// Set stores a value in the cache. Badger expires the entry after ttl.
func (c *BadgerCache) Set(key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().
			Str("event", "cache.badger.marshal_failed").
			Str("key", key).
			Err(err).
			Msg("badger set skipped")
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		c.logger.Warn().
			Str("event", "cache.badger.set_failed").
			Str("key", key).
			Err(err).
			Msg("badger set failed")
		return
	}

	c.sets.Add(1)
}

// Delete removes a value from the cache.
func (c *BadgerCache) Delete(key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		c.logger.Warn().
			Str("event", "cache.badger.delete_failed").
			Str("key", key).
			Err(err).
			Msg("badger delete failed")
		return
	}
	c.evictions.Add(1)
}

// Clear removes all values from the cache.
func (c *BadgerCache) Clear() {
	if err := c.db.DropAll(); err != nil {
		c.logger.Warn().
			Str("event", "cache.badger.clear_failed").
			Err(err).
			Msg("badger clear failed")
	}
}

// Stats returns cache statistics. CurrentSize counts live keys, which
// requires a key-only scan.
func (c *BadgerCache) Stats() CacheStats {
	size := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			size++
		}
		return nil
	})
	if err != nil {
		c.logger.Warn().
			Str("event", "cache.badger.stats_failed").
			Err(err).
			Msg("badger key count failed")
	}

	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

// Close flushes and closes the underlying store.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
