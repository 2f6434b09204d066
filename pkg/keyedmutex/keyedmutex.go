// Package keyedmutex provides named mutual exclusion: operations sharing a key
// run one at a time in arrival order, operations under different keys run
// independently.
package keyedmutex

import "sync"

// KeyedMutex serialises functions per key. The zero value is not usable; use New.
type KeyedMutex struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func New() *KeyedMutex {
	return &KeyedMutex{tails: map[string]chan struct{}{}}
}

// RunExclusive runs fn with the guarantee that no other function sharing key is
// running, and that queued callers for the same key run in the order they
// arrived. The slot is released on every exit path, including an error or panic
// from fn.
func (m *KeyedMutex) RunExclusive(key string, fn func() error) error {
	m.mu.Lock()
	predecessor := m.tails[key]
	turn := make(chan struct{})
	m.tails[key] = turn
	m.mu.Unlock()

	if predecessor != nil {
		<-predecessor
	}
	defer func() {
		close(turn)
		m.mu.Lock()
		if m.tails[key] == turn {
			delete(m.tails, key)
		}
		m.mu.Unlock()
	}()
	return fn()
}
