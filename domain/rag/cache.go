package rag

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	cacheTTL        = 5 * time.Minute
	cacheMaxEntries = 200
)

type cacheEntry struct {
	record   *AnswerRecord
	storedAt time.Time
}

// answerCache is a bounded process-local answer cache: 5-minute TTL,
// capacity 200, FIFO eviction by insertion order. Expired entries are
// dropped on access.
type answerCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string
	now     func() time.Time
}

func newAnswerCache() *answerCache {
	return &answerCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// cacheKey scopes an answer to the question, requester (or file), mode,
// and retrieval knobs
func cacheKey(question, scope string, mode SearchMode, topK int, minScore float64) string {
	return fmt.Sprintf("%s|%s|%s|%d|%g",
		strings.ToLower(strings.TrimSpace(question)), scope, mode, topK, minScore)
}

func (c *answerCache) get(key string) (*AnswerRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > cacheTTL {
		delete(c.entries, key)
		c.dropOrder(key)
		return nil, false
	}
	return entry.record, true
}

// dropOrder removes key from the insertion-order slice so a later re-insert
// is treated as new, not as the original position. Keeps order and entries
// in lockstep.
func (c *answerCache) dropOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *answerCache) put(key string, record *AnswerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
		// Evict oldest by insertion order once over capacity. order holds
		// exactly the live keys, so the head is always the oldest insert.
		for len(c.entries)+1 > cacheMaxEntries && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[key] = cacheEntry{record: record, storedAt: c.now()}
}

func (c *answerCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
