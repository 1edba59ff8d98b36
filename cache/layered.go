package cache

import "context"

// Layered reads the in-process tier first and then Redis, copying Redis hits
// into memory. Redis may be nil.
type Layered struct {
	Memory *Memory
	Redis  *Redis
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
	_ Store = (*Layered)(nil)
)

func (l *Layered) Get(ctx context.Context, key string) (Entry, bool) {
	if e, ok := l.Memory.Get(ctx, key); ok {
		return e, true
	}
	if l.Redis == nil {
		return Entry{}, false
	}
	e, ok := l.Redis.Get(ctx, key)
	if ok {
		l.Memory.put(key, e)
	}
	return e, ok
}

func (l *Layered) GetStale(ctx context.Context, key string) (Entry, bool) {
	mem, memOK := l.Memory.GetStale(ctx, key)
	if l.Redis == nil {
		return mem, memOK
	}
	// Another replica may have written a newer entry.
	if shared, ok := l.Redis.GetStale(ctx, key); ok && (!memOK || shared.FetchedAt.After(mem.FetchedAt)) {
		l.Memory.put(key, shared)
		return shared, true
	}
	return mem, memOK
}

func (l *Layered) Set(ctx context.Context, key string, data []byte) {
	e := Entry{Data: data, FetchedAt: l.Memory.clock.Now()}
	l.Memory.put(key, e)
	if l.Redis != nil {
		l.Redis.put(ctx, key, e)
	}
}
