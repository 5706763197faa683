package lock

import (
	"context"
	"sync"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// localLocker 进程内按 key 加锁，无人等待的 key 会被回收
type localLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocal builds an in-process keyed mutex.
func NewLocal() Locker {
	return &localLocker{entries: make(map[string]*localEntry)}
}

func (l *localLocker) acquireRef(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *localLocker) releaseRef(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *localLocker) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquireRef(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.releaseRef(key, e)
		})
	}, nil
}

func (l *localLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *localLocker) Close() error {
	return nil
}
