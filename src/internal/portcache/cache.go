// Package portcache keeps the last-known port snapshot and refreshes it in the background.
package portcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jongio/portwarden/src/internal/ports"
)

// ErrLockUnavailable is returned when the cache lock is not obtained within the wait.
var ErrLockUnavailable = errors.New("port cache lock unavailable")

const lockPollInterval = 5 * time.Millisecond

// Cache is the shared snapshot. The list is only ever swapped whole.
type Cache struct {
	mu      sync.Mutex
	records []ports.PortRecord
	version atomic.Uint64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// tryLock polls TryLock until wait has passed. It never blocks longer than wait.
func (c *Cache) tryLock(wait time.Duration) bool {
	if c.mu.TryLock() {
		return true
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		time.Sleep(lockPollInterval)
		if c.mu.TryLock() {
			return true
		}
	}
	return false
}

// TryRead returns a copy of the snapshot.
func (c *Cache) TryRead(wait time.Duration) ([]ports.PortRecord, error) {
	if !c.tryLock(wait) {
		return nil, ErrLockUnavailable
	}
	defer c.mu.Unlock()
	return ports.Clone(c.records), nil
}

// TryKeys returns the key set of the snapshot.
func (c *Cache) TryKeys(wait time.Duration) (map[string]struct{}, error) {
	if !c.tryLock(wait) {
		return nil, ErrLockUnavailable
	}
	defer c.mu.Unlock()
	return ports.KeySet(c.records), nil
}

// TryReplace swaps in a copy of records and bumps the version.
func (c *Cache) TryReplace(records []ports.PortRecord, wait time.Duration) error {
	next := ports.Clone(records)
	if next == nil {
		next = []ports.PortRecord{}
	}
	if !c.tryLock(wait) {
		return ErrLockUnavailable
	}
	c.records = next
	c.version.Add(1)
	c.mu.Unlock()
	return nil
}

// Version counts replacements since creation.
func (c *Cache) Version() uint64 {
	return c.version.Load()
}
