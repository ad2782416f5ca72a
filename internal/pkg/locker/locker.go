// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package locker provides mutexes keyed by name. Operations on the same
// key serialize; distinct keys proceed concurrently. Idle locks are
// garbage-collected so the map does not grow with every ID ever seen.
package locker

import "sync"

type lockCtr struct {
	mu sync.Mutex
	// waiters counts holders plus goroutines blocked in Lock, guarded
	// by Locker.mu.
	waiters int
}

// Locker is a set of mutexes addressed by string key.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockCtr
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*lockCtr)}
}

// Lock acquires the mutex for name, creating it on first use.
func (l *Locker) Lock(name string) {
	l.mu.Lock()
	ctr, ok := l.locks[name]
	if !ok {
		ctr = &lockCtr{}
		l.locks[name] = ctr
	}
	ctr.waiters++
	l.mu.Unlock()

	ctr.mu.Lock()
}

// Unlock releases the mutex for name and drops it from the map when no
// other goroutine holds or waits on it.
func (l *Locker) Unlock(name string) {
	l.mu.Lock()
	ctr, ok := l.locks[name]
	if !ok {
		l.mu.Unlock()
		panic("locker: unlock of unlocked key " + name)
	}
	ctr.waiters--
	if ctr.waiters == 0 {
		delete(l.locks, name)
	}
	l.mu.Unlock()

	ctr.mu.Unlock()
}
