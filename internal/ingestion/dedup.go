package ingestion

import (
	"container/list"
	"fmt"
)

// DedupLRU is an LRU cache of already-applied idempotency keys.
// Not thread-safe: only accessed from the single ingestion loop.
type DedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewDedupLRU(capacity int) *DedupLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &DedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains reports whether the key is cached, refreshing its recency.
func (l *DedupLRU) Contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.lruList.MoveToFront(elem)
	}
	return ok
}

// Add inserts a key, evicting the least recently used entry at capacity.
func (l *DedupLRU) Add(key string) {
	if elem, ok := l.cache[key]; ok {
		l.lruList.MoveToFront(elem)
		return
	}
	elem := l.lruList.PushFront(&lruEntry{key: key})
	l.cache[key] = elem

	if l.lruList.Len() > l.capacity {
		oldest := l.lruList.Back()
		if oldest != nil {
			l.lruList.Remove(oldest)
			delete(l.cache, oldest.Value.(*lruEntry).key)
			l.evictions++
		}
	}
}

// Evictions returns the lifetime eviction count.
func (l *DedupLRU) Evictions() int64 { return l.evictions }

// composite builds the dedup cache key.
func composite(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}
