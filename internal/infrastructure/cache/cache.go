// Package cache provides a size- and age-bounded key-value store whose
// eviction runs lazily on every Nth operation.
package cache

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultMaxSize = 50
	DefaultMaxAge  = -1
	DefaultCadence = 10
)

type Config struct {
	// MaxSize < 0 disables size eviction.
	MaxSize int
	// MaxAge < 0 disables age eviction.
	MaxAge time.Duration
	// Cadence <= 0 evicts on every operation.
	Cadence int
}

func DefaultConfig() Config {
	return Config{
		MaxSize: DefaultMaxSize,
		MaxAge:  DefaultMaxAge,
		Cadence: DefaultCadence,
	}
}

type entry struct {
	value     string
	createdAt time.Time
}

// Expiring is safe for concurrent use. A cache that sees no traffic is never
// trimmed.
type Expiring struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]entry
	calls   int
	now     func() time.Time
}

type Option func(*Expiring)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Expiring) { c.now = now }
}

func New(cfg Config, opts ...Option) *Expiring {
	c := &Expiring{
		cfg:     cfg,
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the stored value or def.
func (c *Expiring) Get(key, def string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick()

	e, ok := c.entries[key]
	if !ok {
		return def
	}
	return e.value
}

// Lookup is Get with a presence flag.
func (c *Expiring) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick()

	e, ok := c.entries[key]
	return e.value, ok
}

// Set stores value and resets the entry's creation time.
func (c *Expiring) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, createdAt: c.now()}
	c.tick()
}

func (c *Expiring) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.tick()
}

func (c *Expiring) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick()

	_, ok := c.entries[key]
	return ok
}

// Clear drops every entry and resets the operation counter.
func (c *Expiring) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.calls = 0
}

func (c *Expiring) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns keys oldest first.
func (c *Expiring) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sortedKeys()
}

// tick counts one operation and evicts when the cadence is reached.
// Callers hold mu.
func (c *Expiring) tick() {
	c.calls++
	if c.cfg.Cadence <= 0 || c.calls%c.cfg.Cadence == 0 {
		c.evict()
	}
}

func (c *Expiring) sortedKeys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]].createdAt, c.entries[keys[j]].createdAt
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
	return keys
}

func (c *Expiring) evict() {
	keys := c.sortedKeys()

	if c.cfg.MaxSize >= 0 {
		for len(keys) > c.cfg.MaxSize {
			delete(c.entries, keys[0])
			keys = keys[1:]
		}
	}

	if c.cfg.MaxAge >= 0 {
		now := c.now()
		for len(keys) > 0 && now.Sub(c.entries[keys[0]].createdAt) > c.cfg.MaxAge {
			delete(c.entries, keys[0])
			keys = keys[1:]
		}
	}
}
