package tts

import (
	"container/list"
	"sync"
)

// defaultCacheBytes caps the chunk cache. The lead-in chunk repeats
// for every message a user sends, so even a small cache absorbs most
// duplicate API calls.
const defaultCacheBytes = 8 << 20

// chunkCache is a byte-capped LRU of synthesized chunk audio keyed by
// voice and chunk text. Safe for concurrent use.
type chunkCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[string]*list.Element
	order    *list.List

	hits, misses int64
}

type chunkEntry struct {
	key   string
	audio []byte
}

func newChunkCache(capacity int64) *chunkCache {
	return &chunkCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func cacheKey(voice, text string) string {
	return voice + "\x00" + text
}

func (c *chunkCache) get(voice, text string) ([]byte, bool) {
	if c == nil || c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[cacheKey(voice, text)]
	if !ok {
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return elem.Value.(*chunkEntry).audio, true
}

func (c *chunkCache) put(voice, text string, audio []byte) {
	if c == nil || c.capacity <= 0 || int64(len(audio)) > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(voice, text)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*chunkEntry)
		c.size += int64(len(audio)) - int64(len(entry.audio))
		entry.audio = audio
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&chunkEntry{key: key, audio: audio})
		c.size += int64(len(audio))
	}

	for c.size > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*chunkEntry)
		c.order.Remove(oldest)
		delete(c.items, entry.key)
		c.size -= int64(len(entry.audio))
	}
}

// stats reports lifetime hit and miss counts.
func (c *chunkCache) stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
