package offline0

import (
	"container/list"
	"strings"
	"sync"
)

type ramItem struct {
	key  string
	ent  Entry
	size int64
}

// ramCache is a byte-bounded LRU in front of the disk store. Entries are
// written through to disk, so evicting from RAM never loses data.
type ramCache struct {
	maxBytes int64

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
	total int64

	overflowLog *rateLimitedLogger
}

func newRAMCache(maxBytes int64, overflowLog *rateLimitedLogger) *ramCache {
	return &ramCache{
		maxBytes:    maxBytes,
		items:       map[string]*list.Element{},
		lru:         list.New(),
		overflowLog: overflowLog,
	}
}

func entrySize(ent Entry) int64 {
	n := int64(len(ent.Body)) + 64
	for k, vs := range ent.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

func (c *ramCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*ramItem).ent, true
}

func (c *ramCache) Put(key string, ent Entry) {
	sz := entrySize(ent)
	if c.maxBytes > 0 && sz > c.maxBytes {
		c.Delete(key)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		it := el.Value.(*ramItem)
		c.total += sz - it.size
		it.ent, it.size = ent, sz
		c.lru.MoveToFront(el)
	} else {
		c.items[key] = c.lru.PushFront(&ramItem{key: key, ent: ent, size: sz})
		c.total += sz
	}

	if c.maxBytes > 0 && c.total > c.maxBytes {
		c.overflowLog.Printf("RAM cache over %s, evicting least recently used", formatBytes(uint64(c.maxBytes)))
		for c.total > c.maxBytes && c.lru.Len() > 1 {
			c.evictLocked(c.lru.Back())
		}
	}
}

func (c *ramCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.evictLocked(el)
	}
}

// DeletePrefix drops every key starting with prefix, used when a namespace goes away.
func (c *ramCache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, el := range c.items {
		if strings.HasPrefix(k, prefix) {
			c.evictLocked(el)
		}
	}
}

func (c *ramCache) evictLocked(el *list.Element) {
	it := el.Value.(*ramItem)
	c.lru.Remove(el)
	delete(c.items, it.key)
	c.total -= it.size
}

func (c *ramCache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
