package scene

import (
	"scene-sync/internal/models"

	cache "github.com/patrickmn/go-cache"
)

// VersionOf returns the scene version of a set of elements: the sum of the
// per-element versions. It ignores order, and grows whenever any element is
// edited, deleted or added.
func VersionOf(elements models.ElementSet) int64 {
	var v int64
	for _, el := range elements {
		v += el.Version
	}
	return v
}

// VersionCache remembers, per connection, the scene version that connection
// last persisted. It only ever lets a caller skip work; a miss or a stale
// entry just means the save runs.
//
// Entries live as long as the connection does and must be dropped with
// Forget when it closes.
type VersionCache struct {
	versions *cache.Cache
}

// NewVersionCache creates an empty cache with no expiry
func NewVersionCache() *VersionCache {
	return &VersionCache{versions: cache.New(cache.NoExpiration, 0)}
}

// Get returns the cached version for a connection
func (c *VersionCache) Get(connectionID string) (int64, bool) {
	v, ok := c.versions.Get(connectionID)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// Set records elements as saved by a connection
func (c *VersionCache) Set(connectionID string, elements models.ElementSet) {
	if connectionID == "" {
		return
	}
	c.versions.Set(connectionID, VersionOf(elements), cache.NoExpiration)
}

// Forget drops a connection's entry; call it when the connection closes
func (c *VersionCache) Forget(connectionID string) {
	c.versions.Delete(connectionID)
}

// Len returns the number of tracked connections
func (c *VersionCache) Len() int {
	return c.versions.ItemCount()
}

// IsUpToDate reports whether elements are already saved for a connection.
// Without a connection there is no collaborative session to protect, so
// the answer is always true.
func (c *VersionCache) IsUpToDate(connectionID string, elements models.ElementSet) bool {
	if connectionID == "" {
		return true
	}
	saved, ok := c.Get(connectionID)
	return ok && saved == VersionOf(elements)
}
