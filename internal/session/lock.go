// Package session provides per-session mutual exclusion and the session
// status state machine.
package session

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when another turn already holds the session.
var ErrBusy = errors.New("session is busy")

// Locker grants exclusive, non-blocking access to a key.
type Locker interface {
	// TryLock acquires key or fails immediately with ErrBusy. The returned
	// unlock func is safe to call more than once.
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryLocker is an in-process try-lock table.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty lock table.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]struct{}{}}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
