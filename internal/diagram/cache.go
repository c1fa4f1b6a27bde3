package diagram

import (
	"container/list"
	"sync"

	"github.com/starford/draglass/internal/checksum"
)

// DefaultCacheSize bounds the number of rendered diagrams kept per view.
const DefaultCacheSize = 200

// CacheKey identifies a render by theme and source digest.
func CacheKey(source, theme string) string {
	return theme + ":" + checksum.Text(source)
}

// Cache is a bounded map of sanitized renders. Eviction follows insertion
// order: Put moves a key to the newest position, Get does not.
type Cache struct {
	mu        sync.Mutex
	size      int
	evictList *list.List
	items     map[string]*list.Element
}

type entry struct {
	key string
	svg string
}

// NewCache creates a cache holding at most size entries.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{
		size:      size,
		evictList: list.New(),
		items:     make(map[string]*list.Element),
	}
}

// Get returns the cached render for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, hit := c.items[key]; hit {
		return ele.Value.(*entry).svg, true
	}
	return "", false
}

// Put stores svg under key, replacing and refreshing any existing entry, and
// evicts the oldest entry when over capacity.
func (c *Cache) Put(key, svg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ele, hit := c.items[key]; hit {
		c.evictList.Remove(ele)
		delete(c.items, key)
	}
	c.items[key] = c.evictList.PushFront(&entry{key: key, svg: svg})

	if c.evictList.Len() > c.size {
		if oldest := c.evictList.Back(); oldest != nil {
			c.evictList.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Len returns the number of cached renders.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictList.Init()
	clear(c.items)
}
