package cache

import "sync"

// keyLocks serializes read-modify-write cycles per partition key. Append,
// the time sweep and emergency eviction all re-encode the full list; two
// of them interleaving on the same key would lose the other's write.
// Independent keys proceed in parallel.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for key, creating it on first use. The returned
// function releases the mutex and drops the entry once no one holds it.
func (k *keyLocks) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
