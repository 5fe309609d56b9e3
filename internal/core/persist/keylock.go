package persist

import (
	"sort"
	"sync"
)

// KeyLock serializes work per key. Entries are reference counted and removed
// once no goroutine holds or waits on them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: map[string]*keyEntry{}}
}

// Lock acquires every key in sorted order and returns the release func.
func (l *KeyLock) Lock(keys ...string) func() {
	keys = uniqueSorted(keys)
	entries := make([]*keyEntry, len(keys))

	l.mu.Lock()
	for i, k := range keys {
		e := l.locks[k]
		if e == nil {
			e = &keyEntry{}
			l.locks[k] = e
		}
		e.refs++
		entries[i] = e
	}
	l.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(entries) - 1; i >= 0; i-- {
				entries[i].mu.Unlock()
			}
			l.mu.Lock()
			for i, k := range keys {
				entries[i].refs--
				if entries[i].refs == 0 {
					delete(l.locks, k)
				}
			}
			l.mu.Unlock()
		})
	}
}

// Len is the number of keys currently held or awaited.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
