package service

import "sync"

// keyedLocks hands out one mutex per room key. Rooms serialize independently;
// there is no global lock on the hot path beyond the key map itself.
type keyedLocks struct {
	mx    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the key's mutex and returns the matching unlock. Entries are
// reference counted so deleted rooms do not leak mutexes.
func (kl *keyedLocks) lock(key string) func() {
	kl.mx.Lock()
	if kl.locks == nil {
		kl.locks = make(map[string]*lockEntry)
	}
	e, ok := kl.locks[key]
	if !ok {
		e = &lockEntry{}
		kl.locks[key] = e
	}
	e.refs++
	kl.mx.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		kl.mx.Lock()
		e.refs--
		if e.refs == 0 {
			delete(kl.locks, key)
		}
		kl.mx.Unlock()
	}
}
