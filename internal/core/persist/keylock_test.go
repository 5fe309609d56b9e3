package persist

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	l := NewKeyLock()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("exos")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
	assert.Equal(t, 0, l.Len())
}

func TestKeyLock_MultipleKeysDoNotDeadlock(t *testing.T) {
	l := NewKeyLock()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); l.Lock("a", "b")() }()
		go func() { defer wg.Done(); l.Lock("b", "a", "b")() }()
	}
	wg.Wait()
	assert.Equal(t, 0, l.Len())
}

func TestKeyLock_UnlockIsIdempotent(t *testing.T) {
	l := NewKeyLock()
	unlock := l.Lock("k")
	unlock()
	assert.NotPanics(t, unlock)
}
