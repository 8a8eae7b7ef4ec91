// Package cache provides a TTL-bounded store for memoizing read-only tool
// results. Eviction is lazy on read; a periodic sweep can be scheduled by
// the caller but is not required.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// Options configures the cache.
type Options struct {
	// TTL is how long entries stay valid. Zero or negative disables caching.
	TTL time.Duration
}

// DefaultOptions returns the default cache configuration.
func DefaultOptions() Options {
	return Options{TTL: 5 * time.Minute}
}

type entry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// Cache is a process-wide TTL map, safe for concurrent use. Entries are
// unbounded by count; expiry is the only eviction policy.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
}

// New creates an empty cache.
func New(opts Options) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     opts.TTL,
	}
}

// Get returns the cached value for key if present and unexpired.
// Reads never extend an entry's lifetime.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	return c.GetAt(key, time.Now())
}

// GetAt is Get with an explicit clock, for tests.
func (c *Cache) GetAt(key string, now time.Time) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Put stores value under key with the configured TTL. A non-positive TTL
// makes Put a no-op.
func (c *Cache) Put(key string, value json.RawMessage) {
	c.PutAt(key, value, time.Now())
}

// PutAt is Put with an explicit clock, for tests.
func (c *Cache) PutAt(key string, value json.RawMessage, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: now.Add(c.ttl)}
}

// SetTTL changes the TTL applied to subsequent writes. Existing entries
// keep their original expiry.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	return c.SweepAt(time.Now())
}

// SweepAt is Sweep with an explicit clock, for tests.
func (c *Cache) SweepAt(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset drops all entries.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Key computes the deterministic cache key for a tool invocation. Args are
// normalized through a decode/encode round trip so that key order and
// insignificant whitespace do not produce distinct keys.
func Key(toolName string, args json.RawMessage, scope string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(NormalizeArgs(args))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeArgs returns a canonical encoding of a JSON document: object keys
// sorted, whitespace stripped. Invalid or empty input normalizes to "{}".
func NormalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return json.RawMessage(`{}`)
	}
	normalized, err := json.Marshal(decoded)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return normalized
}
