package sqlfn

import (
	"container/list"
	"sync"

	"github.com/dbsqldef/docql/fleece"
)

// pathCache is a small LRU of parsed Path objects keyed by their
// source string, standing in for the reference implementation's
// per-SQL-context auxiliary data (a compiled path object cached
// between calls to the same UDF on the same argument). Here it is
// owned by the UDF-layer Env rather than by a SQL context pointer, and
// evicted entries are simply garbage collected rather than explicitly
// destructed.
type pathCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type pathCacheEntry struct {
	key  string
	path fleece.Path
}

func newPathCache(capacity int) *pathCache {
	return &pathCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *pathCache) get(key string) (fleece.Path, error) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		p := el.Value.(*pathCacheEntry).path
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	parsed, err := fleece.ParsePath(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*pathCacheEntry).path, nil
	}
	el := c.ll.PushFront(&pathCacheEntry{key: key, path: parsed})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*pathCacheEntry).key)
		}
	}
	return parsed, nil
}
