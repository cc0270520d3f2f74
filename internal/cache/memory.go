package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process cache with a fixed TTL.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, bool) {
	k := key.String()
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.ttl > 0 && !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[k]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) {
	m.mu.Lock()
	m.entries[key.String()] = entry{value: value, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context, view string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if hasViewPrefix(k, view) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
