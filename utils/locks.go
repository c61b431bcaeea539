// utils/locks.go
package utils

import "sync"

// KeyedMutex serializes work per string key. The webhook reconciler locks on
// "team:<id>" / "account:<id>" so two deliveries for the same entity never
// interleave their read-modify-write.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}
