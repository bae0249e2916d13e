package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/bme3412/clarity/internal/core/ports"
)

const (
	DefaultCapacity = 256
	DefaultTTL      = 3 * time.Minute
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// FIFO is a bounded cache evicting the oldest-inserted entry once capacity
// is exceeded. A zero TTL disables expiry. The clock is injectable so tests
// control time.
type FIFO struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      ports.Clock
	order    *list.List
	items    map[string]*list.Element
}

func NewFIFO(capacity int, ttl time.Duration, now ports.Clock) *FIFO {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl < 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &FIFO{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *FIFO) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.expired(ent) {
		c.remove(el)
		return nil, false
	}
	return ent.value, true
}

// Set inserts or replaces a value. Replacing keeps the original insertion
// position, so a refreshed key still evicts in its original order.
func (c *FIFO) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.expiry()
		return
	}

	el := c.order.PushBack(&entry{key: key, value: value, expiresAt: c.expiry()})
	c.items[key] = el
	for c.order.Len() > c.capacity {
		c.remove(c.order.Front())
	}
}

func (c *FIFO) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

func (c *FIFO) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *FIFO) expiry() time.Time {
	if c.ttl == 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *FIFO) expired(ent *entry) bool {
	return !ent.expiresAt.IsZero() && c.now().After(ent.expiresAt)
}

func (c *FIFO) remove(el *list.Element) {
	if el == nil {
		return
	}
	ent := el.Value.(*entry)
	delete(c.items, ent.key)
	c.order.Remove(el)
}
