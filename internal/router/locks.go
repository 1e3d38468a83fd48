package router

import "sync"

// lockRegistry hands out one mutex per controller target key. Mutexes are
// created lazily on first use and never removed; the alias catalog bounds
// the key space, so the registry stays small for the life of the process.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for key, creating it if absent. The registry lock
// is held only for the map access, never across the target mutex.
func (r *lockRegistry) get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// size reports how many target locks exist. Used by tests.
func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
