package pipeline

import "sync"

// KeyedMutex hands out one mutex per key. Mutexes are created on first use
// and live as long as the process; the set of keys is the set of accounts.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// Lock blocks until key is free and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	l := k.get(key)
	l.Lock()
	return l.Unlock
}

// TryLock acquires key only if it is free.
func (k *KeyedMutex) TryLock(key string) (func(), bool) {
	l := k.get(key)
	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}

// size reports how many keys have been seen.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
