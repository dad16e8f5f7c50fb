package season

import (
	"sync"
	"time"

	"pickem/ingestion/internal/models"
)

// Cache holds the most recently resolved season year. It is owned by a
// Resolver and safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	entry *models.SeasonCacheEntry
	now   func() time.Time
}

// NewCache creates an empty cache. A nil clock uses time.Now.
func NewCache(clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{now: clock}
}

// Get returns the cached year if it has not expired
func (c *Cache) Get() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return 0, false
	}
	if c.entry.Expired(c.now()) {
		c.entry = nil
		return 0, false
	}
	return c.entry.Year, true
}

// Set stores year for ttl
func (c *Cache) Set(year int, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry = &models.SeasonCacheEntry{
		Year:      year,
		ExpiresAt: c.now().Add(ttl),
	}
}

// Clear drops the cached year
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry = nil
}

// Entry returns a copy of the current entry, expired or not
func (c *Cache) Entry() (models.SeasonCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return models.SeasonCacheEntry{}, false
	}
	return *c.entry, true
}
