package cache

import (
	"encoding/json"
	"sync"
)

// MemoryCache is an in-process Cache used in tests and as a fallback when no
// database path is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage

	// FailWrites makes Set and Remove report failure, for exercising the
	// best-effort degradation path in tests.
	FailWrites bool
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]json.RawMessage)}
}

// Get unmarshals the stored value into target.
func (c *MemoryCache) Get(key string, target any) bool {
	c.mu.Lock()
	raw, exists := c.entries[key]
	c.mu.Unlock()
	if !exists {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}

// Set marshals and stores the value under key.
func (c *MemoryCache) Set(key string, value any) bool {
	if c.FailWrites {
		return false
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return false
	}
	c.mu.Lock()
	c.entries[key] = encoded
	c.mu.Unlock()
	return true
}

// Remove deletes the entry stored under key.
func (c *MemoryCache) Remove(key string) bool {
	if c.FailWrites {
		return false
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return true
}

// SetRaw stores a pre-encoded JSON payload, letting tests seed corrupt or
// hand-built mirrors.
func (c *MemoryCache) SetRaw(key string, raw []byte) {
	c.mu.Lock()
	c.entries[key] = append(json.RawMessage(nil), raw...)
	c.mu.Unlock()
}
