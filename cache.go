package wrapfs

import (
	"sync"

	"github.com/absfs/wrapfs/lower"
)

// Cache maps lower inode identities to their live Objects
type Cache struct {
	mu      sync.Mutex
	objects map[lower.Ident]*Object

	hits   uint64
	misses uint64
	races  uint64
}

// CacheStats is a snapshot of identity cache counters
type CacheStats struct {
	Objects int
	Hits    uint64
	Misses  uint64
	// Races counts lookups that found a dying object and replaced it
	Races uint64
}

// newCache creates an empty identity cache
func newCache() *Cache {
	return &Cache{objects: make(map[lower.Ident]*Object)}
}

// lookup returns the live object for id with a reference held
func (c *Cache) lookup(id lower.Ident) *Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[id]
	if !ok || !obj.tryGet() {
		c.misses++
		return nil
	}
	c.hits++
	return obj
}

// lookupOrCreate returns the live object for id, or publishes the one
// built by create. created reports which happened; a newly created
// object is not ready until its creator closes obj.ready.
func (c *Cache) lookupOrCreate(id lower.Ident, create func() *Object) (obj *Object, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.objects[id]; ok {
		if cur.tryGet() {
			c.hits++
			return cur, false
		}
		// the current object is on its way out
		c.races++
	}
	c.misses++
	obj = create()
	c.objects[id] = obj
	return obj, true
}

// remove forgets obj unless a newer object already took its identity
func (c *Cache) remove(obj *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.objects[obj.ident] == obj {
		delete(c.objects, obj.ident)
	}
}

// Len returns the number of cached objects
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Objects: len(c.objects),
		Hits:    c.hits,
		Misses:  c.misses,
		Races:   c.races,
	}
}
