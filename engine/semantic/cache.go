package semantic

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// searchCache memoizes search results for a short window. Concurrent reads
// and inserts are safe; contention is negligible next to network latency.
type searchCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uint64]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	hits []Hit
	at   time.Time
}

func newSearchCache(ttl time.Duration) *searchCache {
	return &searchCache{
		ttl:     ttl,
		entries: make(map[uint64]cacheEntry),
		now:     time.Now,
	}
}

func (c *searchCache) get(key uint64) ([]Hit, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.at) > c.ttl {
		return nil, false
	}
	return e.hits, true
}

func (c *searchCache) put(key uint64, hits []Hit) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{hits: hits, at: c.now()}
	c.mu.Unlock()
}

func (c *searchCache) clear() {
	c.mu.Lock()
	c.entries = make(map[uint64]cacheEntry)
	c.mu.Unlock()
}

// searchKey hashes (collection, query vector, filters, topK) into a cache key.
func searchKey(collection string, vector []float32, filters Filters, topK int) uint64 {
	h := fnv.New64a()
	h.Write([]byte(collection))
	var buf [4]byte
	for _, v := range vector {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	fmt.Fprintf(h, "|%s|%v|%g|%g|%s|%d|%d|%d",
		filters.CourseID, filters.ResourceIDs, filters.MinQuality, filters.MaxQuality,
		filters.Language, filters.Since.Unix(), filters.Until.Unix(), topK)
	return h.Sum64()
}
