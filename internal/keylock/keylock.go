// Package keylock serializes work per key (meeting, session) without sharing a lock across keys.
package keylock

import (
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per key. Entries are dropped once no goroutine holds or waits on them.
type Locker struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[uuid.UUID]*entry)}
}

// Lock acquires the mutex for key and returns its release function.
func (l *Locker) Lock(key uuid.UUID) (unlock func()) {
	l.mu.Lock()
	e := l.entries[key]
	if e == nil {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
