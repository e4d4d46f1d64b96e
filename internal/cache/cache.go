// Package cache is the process-wide response cache shared by every session.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cognitive-blackbox/internal/domain"
)

const (
	DefaultSize        = 512
	DefaultTTL         = time.Hour
	DefaultInputPrefix = 50
)

// Key identifies a cached response.
type Key struct {
	Role         domain.Role
	InputPrefix  string
	Stage        int
	Personalized bool
}

// NewKey builds a Key from the first prefixLen runes of input.
func NewKey(role domain.Role, input string, stage int, personalized bool, prefixLen int) Key {
	if prefixLen <= 0 {
		prefixLen = DefaultInputPrefix
	}
	r := []rune(input)
	if len(r) > prefixLen {
		r = r[:prefixLen]
	}
	return Key{Role: role, InputPrefix: string(r), Stage: stage, Personalized: personalized}
}

type Stats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Cache is a size-bounded LRU whose entries also expire after a TTL.
// It is safe for concurrent use; writes are last-write-wins.
type Cache struct {
	lru    *expirable.LRU[Key, string]
	hits   atomic.Int64
	misses atomic.Int64
}

func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[Key, string](size, nil, ttl)}
}

func (c *Cache) Get(k Key) (string, bool) {
	v, ok := c.lru.Get(k)
	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return v, true
}

func (c *Cache) Put(k Key, text string) {
	c.lru.Add(k, text)
}

func (c *Cache) Stats() Stats {
	return Stats{Size: c.lru.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Clear drops every entry and resets the hit counters.
func (c *Cache) Clear() {
	c.lru.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
}
