package cache

import (
	"sync"
)

// Cache is a mutex-guarded map used for the in-process registries: running
// jobs, held locks, heartbeats. Entries are owned by whoever stored them.
type Cache[T interface{}] struct {
	cache map[string]T
	mutex sync.RWMutex
}

func New[T interface{}]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
}

func (c *Cache[T]) Get(key string) T {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	info, ok := c.cache[key]
	if ok {
		return info
	}
	var zero T
	return zero
}

func (c *Cache[T]) GetKeys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	keys := make([]string, 0, len(c.cache))
	for k := range c.cache {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = value
}

// LoadOrStore returns the existing value for the key if present, otherwise it
// stores value. loaded is true if the value was already present. This is the
// primitive behind enqueue-twice-is-a-noop job identity.
func (c *Cache[T]) LoadOrStore(key string, value T) (actual T, loaded bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if existing, ok := c.cache[key]; ok {
		return existing, true
	}
	c.cache[key] = value
	return value, false
}

func (c *Cache[T]) UnittestIntrospection() *map[string]T {
	return &c.cache
}
