// Package tenantlock serializes work per tenant without blocking other tenants.
package tenantlock

import (
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per tenant id. Entries are dropped when no
// goroutine holds or waits on them, so the map only grows with live contention.
type Locker struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

func New() *Locker {
	return &Locker{entries: make(map[uuid.UUID]*entry)}
}

// Lock blocks until the tenant's critical section is free and returns its release func
func (l *Locker) Lock(tenantID uuid.UUID) func() {
	l.mu.Lock()
	e, ok := l.entries[tenantID]
	if !ok {
		e = &entry{}
		l.entries[tenantID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, tenantID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of tenants currently holding or waiting on a lock
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
