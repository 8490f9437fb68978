package retrieval

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
	"github.com/CourseForgeAI/courseforge-mvp/engine/semantic"
)

// resultCache is a write-through TTL cache over final responses.
// Expired entries are dropped lazily on read.
type resultCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uint64]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	resp    *Response
	expires time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{ttl: ttl, entries: make(map[uint64]cacheEntry), now: time.Now}
}

func (c *resultCache) get(key uint64) (*Response, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.resp, true
}

func (c *resultCache) put(key uint64, resp *Response) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{resp: resp, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *resultCache) clear() {
	c.mu.Lock()
	c.entries = make(map[uint64]cacheEntry)
	c.mu.Unlock()
}

// cacheKey hashes the request identity: query text, filters, mode, and
// the knobs that change the result list.
func cacheKey(query string, f semantic.Filters, mode domain.SearchType, topK int, rerank bool) uint64 {
	h := fnv.New64a()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(f.CourseID))
	h.Write([]byte{0})
	for _, rid := range f.ResourceIDs {
		h.Write([]byte(rid))
		h.Write([]byte{0})
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f.MinQuality))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f.MaxQuality))
	h.Write(buf[:])
	h.Write([]byte(f.Language))
	h.Write([]byte(strconv.FormatInt(f.Since.UnixNano(), 10)))
	h.Write([]byte(strconv.FormatInt(f.Until.UnixNano(), 10)))
	h.Write([]byte(strconv.Itoa(topK)))
	if rerank {
		h.Write([]byte{1})
	}
	return h.Sum64()
}
