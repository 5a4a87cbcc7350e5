// Package cache persists reverse-search results keyed by content
// fingerprint, with time-based expiry. Caching is best-effort: a write
// failure or a corrupt stored record must never fail the caller's primary
// operation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"booru-tagger/pkg/log"
	"booru-tagger/pkg/models"
	"booru-tagger/pkg/utils"
)

const resultKeyPrefix = "search:" // Prefix for fingerprint keys in DB

// entry is the stored value: the serialized result plus its creation time.
// Validity is age <= ttl at read time; expired entries are treated as absent
// until an explicit sweep removes them.
type entry struct {
	Result   models.SearchResult `json:"result"`
	CachedAt time.Time           `json:"cached_at"`
}

// ResultCache stores SearchResults in BadgerDB with insert-or-replace
// semantics (at most one live entry per fingerprint, newest write wins).
type ResultCache struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
	log *logrus.Entry
}

// New opens (or creates) the cache database at dir.
func New(dir string, ttl time.Duration, logger *logrus.Entry) (*ResultCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create cache directory %s: %w", utils.ErrFilesystem, dir, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest result per fingerprint matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open cache database at %s: %w", utils.ErrDatabase, dir, err)
	}

	logger.WithFields(logrus.Fields{"dir": dir, "ttl": ttl}).Info("Result cache initialized")
	return &ResultCache{db: db, ttl: ttl, now: time.Now, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (c *ResultCache) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		c.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Get returns the cached result for a fingerprint, or (zero, false) when the
// entry is absent, expired, or unreadable. A malformed stored record is a
// miss, not an error.
func (c *ResultCache) Get(fingerprint string) (models.SearchResult, bool) {
	var result models.SearchResult
	found := false
	key := []byte(resultKeyPrefix + fingerprint)

	errView := c.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting cache key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			var e entry
			if errJson := json.Unmarshal(val, &e); errJson != nil {
				c.log.Warnf("Failed to unmarshal cache entry for '%s': %v. Treating as miss.", fingerprint, errJson)
				return nil
			}
			if c.now().Sub(e.CachedAt) > c.ttl {
				c.log.Debugf("Cache entry expired for %s", fingerprint)
				return nil
			}
			result = e.Result
			found = true
			return nil
		})
	})

	if errView != nil {
		c.log.Errorf("DB View error in cache Get for '%s': %v", fingerprint, errView)
		return models.SearchResult{}, false
	}
	if found {
		c.log.Debugf("Cache hit for %s", fingerprint)
	}
	return result, found
}

// Set stores a result under a fingerprint with a fresh creation timestamp,
// replacing any previous entry. Failures are logged and swallowed.
func (c *ResultCache) Set(fingerprint string, result models.SearchResult) {
	key := []byte(resultKeyPrefix + fingerprint)

	entryBytes, errJson := json.Marshal(entry{Result: result, CachedAt: c.now()})
	if errJson != nil {
		c.log.Errorf("Failed to marshal cache entry for '%s': %v", fingerprint, errJson)
		return
	}

	err := c.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		c.log.WithField("key", string(key)).Errorf("Failed to cache result: %v", err)
		return
	}
	c.log.Debugf("Cached result for %s", fingerprint)
}

// CleanupExpired deletes all entries whose age exceeds the TTL and returns
// the count removed.
func (c *ResultCache) CleanupExpired() (int, error) {
	expired, err := c.collectKeys(true)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	err = c.dbUpdate(func(txn *badger.Txn) error {
		for _, key := range expired {
			if errDel := txn.Delete(key); errDel != nil {
				return errDel
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed deleting expired cache entries: %w", utils.ErrDatabase, err)
	}

	c.log.Infof("Cleaned up %d expired cache entries", len(expired))
	return len(expired), nil
}

// Stats reports total entries, entries still valid under the current TTL,
// and the TTL in effect.
func (c *ResultCache) Stats() (models.CacheStats, error) {
	stats := models.CacheStats{TTL: c.ttl}
	now := c.now()

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(resultKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stats.TotalEntries++
			errVal := it.Item().Value(func(val []byte) error {
				var e entry
				if errJson := json.Unmarshal(val, &e); errJson != nil {
					return nil // Corrupt entries count as expired
				}
				if now.Sub(e.CachedAt) <= c.ttl {
					stats.ValidEntries++
				}
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("%w: failed reading cache stats: %w", utils.ErrDatabase, err)
	}

	stats.ExpiredEntries = stats.TotalEntries - stats.ValidEntries
	return stats, nil
}

// ClearAll wipes the store and returns the count removed.
func (c *ResultCache) ClearAll() (int, error) {
	keys, err := c.collectKeys(false)
	if err != nil {
		return 0, err
	}

	err = c.dbUpdate(func(txn *badger.Txn) error {
		for _, key := range keys {
			if errDel := txn.Delete(key); errDel != nil {
				return errDel
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed clearing cache: %w", utils.ErrDatabase, err)
	}

	c.log.Infof("Cleared all cache entries (%d deleted)", len(keys))
	return len(keys), nil
}

// collectKeys gathers entry keys, optionally only those past the TTL.
func (c *ResultCache) collectKeys(expiredOnly bool) ([][]byte, error) {
	var keys [][]byte
	now := c.now()

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = expiredOnly
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(resultKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if !expiredOnly {
				keys = append(keys, item.KeyCopy(nil))
				continue
			}
			errVal := item.Value(func(val []byte) error {
				var e entry
				if errJson := json.Unmarshal(val, &e); errJson != nil {
					// Unreadable entries are dead weight; sweep them too
					keys = append(keys, item.KeyCopy(nil))
					return nil
				}
				if now.Sub(e.CachedAt) > c.ttl {
					keys = append(keys, item.KeyCopy(nil))
				}
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed scanning cache keys: %w", utils.ErrDatabase, err)
	}
	return keys, nil
}

// RunGC runs BadgerDB's value log garbage collection periodically until the
// context is cancelled.
func (c *ResultCache) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.db == nil || c.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Run GC while the value log is at least 50% reclaimable
				err = c.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				c.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			c.log.Debugf("Stopping cache GC goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close shuts down the underlying database.
func (c *ResultCache) Close() error {
	if c.db != nil && !c.db.IsClosed() {
		if err := c.db.Close(); err != nil {
			c.log.Errorf("Error closing cache DB: %v", err)
			return err
		}
	}
	return nil
}
