package synth

import (
	"fmt"
	"sync"

	"github.com/voxlink/voxlink/internal/audio"
)

// Cache is a bounded FIFO cache of synthesized segments. When full, the
// oldest insertion is evicted regardless of how recently it was read.
// Overwriting an existing key keeps its original insertion position.
type Cache struct {
	mu    sync.Mutex
	max   int
	items map[string]audio.Clip
	order []string

	hits   int64
	misses int64
}

func NewCache(max int) *Cache {
	if max < 1 {
		max = 1
	}
	return &Cache{
		max:   max,
		items: make(map[string]audio.Clip, max),
	}
}

// CacheKey identifies one synthesized segment: the exact text, the speaker
// it was rendered with, and the guidance scale.
func CacheKey(text, speakerID string, guidanceScale float64) string {
	return fmt.Sprintf("%s|%s|%.4f", text, speakerID, guidanceScale)
}

func (c *Cache) Get(key string) (audio.Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clip, ok := c.items[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return clip, ok
}

func (c *Cache) Put(key string, clip audio.Clip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; exists {
		c.items[key] = clip
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = clip
	c.order = append(c.order, key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats reports cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops all cached segments.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]audio.Clip, c.max)
	c.order = nil
}
