package repository

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// MockCache is the in-memory CacheRepository used in offline mode and tests.
type MockCache struct {
	mu   sync.Mutex
	Data map[string]cacheEntry
	now  func() time.Time
}

func NewMockCache() *MockCache {
	return &MockCache{
		Data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// WithClock replaces the clock used to expire entries.
func (m *MockCache) WithClock(now func() time.Time) *MockCache {
	m.now = now
	return m
}

func (m *MockCache) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.Data[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.Data, key)
		return "", false
	}
	return e.value, true
}

func (m *MockCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.Data[key] = e
	return nil
}

func (m *MockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Data, key)
	return nil
}
