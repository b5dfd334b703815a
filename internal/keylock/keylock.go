// Package keylock serializes operations that target the same ledger key
// while letting unrelated keys proceed in parallel.
package keylock

import (
	"context"
	"sort"
	"sync"
)

// Unlock releases a held key. Calling it more than once is a no-op.
type Unlock func()

// Locker grants exclusive ownership of a key until the returned Unlock is
// called. Lock blocks until the key is free or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// LockAll acquires every distinct key in sorted order so that two callers
// locking overlapping key sets cannot deadlock.
func LockAll(ctx context.Context, l Locker, keys ...string) (Unlock, error) {
	sorted := dedupe(keys)
	held := make([]Unlock, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, k := range sorted {
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func dedupe(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// Local is an in-process Locker. Entries are reference counted and removed
// once no goroutine holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.drop(key, e)
		})
	}, nil
}

func (l *Local) drop(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Len is the number of keys currently held or awaited.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
