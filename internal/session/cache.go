package session

import (
	"container/list"

	"github.com/vianexus/agentmemory/pkg/types"
)

// record is a cached session plus its persistence state. The dirty flag is
// set while an in-memory mutation has not yet been acknowledged by the
// backend. Access is serialized by the session's lock shard; the cache map
// itself is guarded by the manager's cache mutex.
type record struct {
	data  *types.SessionRecord
	dirty bool
}

// lruCache is a bounded cache with least-recently-accessed eviction. It is
// not internally synchronized; the manager holds its cache mutex around
// every call and only briefly, never across backend I/O. No LRU package
// exists in this codebase's dependency set and the structure is small, so
// it sits on container/list.
type lruCache struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	id  string
	rec *record
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// get returns the cached record and marks it most recently used.
func (c *lruCache) get(id string) (*record, bool) {
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).rec, true
}

// put inserts or refreshes a record. When the capacity is exceeded the
// least recently used entry is returned for the caller to dispose of.
func (c *lruCache) put(id string, rec *record) (evictedID string, evicted *record) {
	if el, ok := c.items[id]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*lruEntry).rec = rec
		return "", nil
	}
	c.items[id] = c.ll.PushFront(&lruEntry{id: id, rec: rec})
	if c.ll.Len() <= c.capacity {
		return "", nil
	}
	oldest := c.ll.Back()
	if oldest == nil {
		return "", nil
	}
	entry := oldest.Value.(*lruEntry)
	c.ll.Remove(oldest)
	delete(c.items, entry.id)
	return entry.id, entry.rec
}

// peek returns the cached record without changing recency.
func (c *lruCache) peek(id string) (*record, bool) {
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*lruEntry).rec, true
}

// remove drops an entry if present.
func (c *lruCache) remove(id string) {
	if el, ok := c.items[id]; ok {
		c.ll.Remove(el)
		delete(c.items, id)
	}
}

// each visits every cached entry without changing recency.
func (c *lruCache) each(fn func(id string, rec *record)) {
	for el := c.ll.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*lruEntry)
		fn(entry.id, entry.rec)
	}
}

func (c *lruCache) len() int {
	return c.ll.Len()
}
