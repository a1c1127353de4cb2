package concurrency

import "sync"

// KeyedMutex serializes work per key (one session id, one storage key).
// Entries are reference counted and dropped once no holder or waiter remains.
type KeyedMutex struct {
	locks map[string]*keyedEntry
	mu    sync.Mutex
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*keyedEntry),
	}
}

func (m *KeyedMutex) Lock(key string) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyedEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()
	entry.mu.Lock()
}

func (m *KeyedMutex) Unlock(key string) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
	entry.mu.Unlock()
}

// Len reports how many keys are currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
