package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTTL is how long an entry counts as fresh when no TTL is configured.
const DefaultTTL = 2 * time.Minute

// Memory is a process-local Store. Entries are never evicted by age so that
// stale data stays available for fallback; the key set is small and fixed.
type Memory struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu    sync.RWMutex
	slots map[string]Entry
}

// NewMemory returns an empty store. A nil clock uses the real clock.
func NewMemory(ttl time.Duration, clock clockwork.Clock) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{ttl: ttl, clock: clock, slots: make(map[string]Entry)}
}

func (m *Memory) Get(ctx context.Context, key string) (Entry, bool) {
	e, ok := m.GetStale(ctx, key)
	if !ok || m.clock.Since(e.FetchedAt) >= m.ttl {
		return Entry{}, false
	}
	return e, true
}

func (m *Memory) GetStale(_ context.Context, key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.slots[key]
	return e, ok
}

func (m *Memory) Set(ctx context.Context, key string, data []byte) {
	m.put(key, Entry{Data: data, FetchedAt: m.clock.Now()})
}

// put stores e as is, keeping its FetchedAt.
func (m *Memory) put(key string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.slots[key]; ok && cur.FetchedAt.After(e.FetchedAt) {
		return
	}
	m.slots[key] = e
}
