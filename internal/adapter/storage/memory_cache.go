package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryEvictInterval = time.Minute

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryCache is the single-process stand-in for RedisAdapter. Locks and idempotency
// keys live only as long as the process.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	lastEvict time.Time
	now       func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryCache) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.setNX(idempotencyKeyPrefix+key, "1", ttl), nil
}

func (m *MemoryCache) ClearIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, idempotencyKeyPrefix+key)
	return nil
}

func (m *MemoryCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	if !m.setNX(lockKeyPrefix+key, token, ttl) {
		return "", false, nil
	}
	return token, true, nil
}

func (m *MemoryCache) ReleaseLock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := lockKeyPrefix + key
	if e, ok := m.entries[k]; ok && e.value == token {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryCache) setNX(key, value string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return false
	}

	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	m.entries[key] = memoryEntry{value: value, expires: expires}
	if now.Sub(m.lastEvict) > memoryEvictInterval {
		m.evictExpired(now)
		m.lastEvict = now
	}
	return true
}

// evictExpired drops lapsed entries. Callers hold mu.
func (m *MemoryCache) evictExpired(now time.Time) {
	for k, e := range m.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}
