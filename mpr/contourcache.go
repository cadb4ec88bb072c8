package mpr

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Contour cache configuration constants.
const (
	// contourShardCount is the number of shards for reduced lock
	// contention. Must be a power of 2 for fast modulo via bitwise AND.
	contourShardCount = 16

	// DefaultContourCapacity is the default maximum entries per shard.
	DefaultContourCapacity = 128

	contourShardMask = contourShardCount - 1
)

// contourKey identifies one cached slice extraction. Version is the
// ROI's commit version at extraction time; a commit bumps the version,
// so stale entries simply stop matching and age out via LRU.
type contourKey struct {
	roiID   int
	view    ViewType
	slice   int
	version uint64
}

// ContourCache is a thread-safe sharded LRU cache of raw slice
// extraction counters, keyed by (roi, view, slice, commit version).
// It lets a view re-request a sync for untouched slices without
// re-dispatching the slice kernel.
type ContourCache struct {
	shards   [contourShardCount]*contourShard
	capacity int // per shard

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// contourShard is a single shard with its own lock.
type contourShard struct {
	mu      sync.RWMutex
	entries map[contourKey]*contourEntry
	lru     *contourLRU
}

type contourEntry struct {
	value RawCounters
	node  *contourNode
}

// NewContourCache creates a cache with the given per-shard capacity.
// If capacity <= 0, DefaultContourCapacity is used.
func NewContourCache(capacity int) *ContourCache {
	if capacity <= 0 {
		capacity = DefaultContourCapacity
	}
	c := &ContourCache{capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &contourShard{
			entries: make(map[contourKey]*contourEntry),
			lru:     newContourLRU(),
		}
	}
	return c
}

// getShard selects the shard for a key by FNV-1a hash of its fields.
func (c *ContourCache) getShard(key contourKey) *contourShard {
	h := fnv.New64a()
	var buf [24]byte
	putUint64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	putUint64(0, uint64(key.roiID))
	putUint64(8, uint64(key.view)|uint64(key.slice)<<8)
	putUint64(16, key.version)
	_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	return c.shards[h.Sum64()&contourShardMask]
}

// Get retrieves cached counters. On hit the entry moves to the front
// of its shard's LRU list.
func (c *ContourCache) Get(roiID int, view ViewType, slice int, version uint64) (RawCounters, bool) {
	key := contourKey{roiID: roiID, view: view, slice: slice, version: version}
	shard := c.getShard(key)

	shard.mu.Lock()
	entry, ok := shard.entries[key]
	if !ok {
		shard.mu.Unlock()
		c.misses.Add(1)
		return RawCounters{}, false
	}
	shard.lru.moveToFront(entry.node)
	value := entry.value
	shard.mu.Unlock()

	c.hits.Add(1)
	return value, true
}

// Put stores counters, evicting the oldest entries when the shard is
// at capacity.
func (c *ContourCache) Put(roiID int, view ViewType, slice int, version uint64, value RawCounters) {
	key := contourKey{roiID: roiID, view: view, slice: slice, version: version}
	shard := c.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if existing, ok := shard.entries[key]; ok {
		existing.value = value
		shard.lru.moveToFront(existing.node)
		return
	}

	for shard.lru.len() >= c.capacity {
		oldest, ok := shard.lru.removeOldest()
		if !ok {
			break
		}
		delete(shard.entries, oldest)
		c.evictions.Add(1)
	}

	node := shard.lru.pushFront(key)
	shard.entries[key] = &contourEntry{value: value, node: node}
}

// InvalidateROI drops every cached slice for the ROI, regardless of
// version. Used when an ROI is cleared or its session resets.
func (c *ContourCache) InvalidateROI(roiID int) {
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if key.roiID == roiID {
				shard.lru.remove(entry.node)
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Len returns the total number of cached entries across all shards.
func (c *ContourCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// CacheStats holds cache effectiveness counters.
type CacheStats struct {
	Len       int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns current cache statistics.
func (c *ContourCache) Stats() CacheStats {
	return CacheStats{
		Len:       c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// contourLRU is an intrusive doubly-linked recency list.
// Front is most recently used.
type contourLRU struct {
	head *contourNode // sentinel
	n    int
}

type contourNode struct {
	key        contourKey
	prev, next *contourNode
}

func newContourLRU() *contourLRU {
	s := &contourNode{}
	s.prev = s
	s.next = s
	return &contourLRU{head: s}
}

func (l *contourLRU) len() int { return l.n }

func (l *contourLRU) pushFront(key contourKey) *contourNode {
	node := &contourNode{key: key}
	l.insertAfter(node, l.head)
	l.n++
	return node
}

func (l *contourLRU) moveToFront(node *contourNode) {
	l.unlink(node)
	l.insertAfter(node, l.head)
}

func (l *contourLRU) remove(node *contourNode) {
	l.unlink(node)
	l.n--
}

func (l *contourLRU) removeOldest() (contourKey, bool) {
	if l.n == 0 {
		return contourKey{}, false
	}
	oldest := l.head.prev
	l.remove(oldest)
	return oldest.key, true
}

func (l *contourLRU) insertAfter(node, at *contourNode) {
	node.prev = at
	node.next = at.next
	at.next.prev = node
	at.next = node
}

func (l *contourLRU) unlink(node *contourNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	node.prev = nil
	node.next = nil
}
