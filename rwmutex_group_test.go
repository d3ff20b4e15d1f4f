package adaptrw

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRWMutexGroup_Basic(t *testing.T) {
	var g RWMutexGroup[string]
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)

	// Concurrent readers
	for range n {
		go func() {
			defer wg.Done()
			g.RLock("key")
			time.Sleep(time.Microsecond)
			g.RUnlock("key")
		}()
	}
	wg.Wait()

	// Writer exclusion
	g.Lock("key")
	done := make(chan struct{})
	go func() {
		g.RLock("key") // Should block
		close(done)
		g.RUnlock("key")
	}()

	select {
	case <-done:
		t.Fatal("RLock acquired while Lock held")
	case <-time.After(10 * time.Millisecond):
	}
	g.Unlock("key")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RLock not acquired after Unlock")
	}
	waitFor(t, "key cleanup", func() bool { return g.Len() == 0 })
}

func TestRWMutexGroup_RefCounting(t *testing.T) {
	var g RWMutexGroup[int]

	g.RLock(1)
	g.RLock(1)
	_, ok := g.table().Load(1)
	require.True(t, ok, "entry should exist after RLock")
	assert.Equal(t, 1, g.Len())

	g.RUnlock(1)
	_, ok = g.table().Load(1)
	assert.True(t, ok, "entry should survive while a reader remains")

	g.RUnlock(1)
	_, ok = g.table().Load(1)
	assert.False(t, ok, "entry should be deleted after the last RUnlock")
}

func TestRWMutexGroup_TryLock(t *testing.T) {
	var g RWMutexGroup[string]

	require.True(t, g.TryLock("a"))
	assert.False(t, g.TryLock("a"))
	assert.False(t, g.TryRLock("a"))
	assert.True(t, g.TryRLock("b"), "keys are independent")
	assert.Equal(t, 2, g.Len(), "failed attempts must not leak references")

	g.Unlock("a")
	g.RUnlock("b")
	assert.Equal(t, 0, g.Len())
}

func TestRWMutexGroup_WriteQuota(t *testing.T) {
	g := NewRWMutexGroup[int](3)
	g.Lock(7)
	e, ok := g.table().Load(7)
	require.True(t, ok)
	assert.Equal(t, uint32(3), e.mu.WriteQuota())
	g.Unlock(7)

	var zero RWMutexGroup[int]
	zero.Lock(7)
	e, ok = zero.table().Load(7)
	require.True(t, ok)
	assert.Equal(t, uint32(DefaultWriteQuota), e.mu.WriteQuota())
	zero.Unlock(7)
}

func TestRWMutexGroup_UnlockUnknownKey(t *testing.T) {
	var g RWMutexGroup[string]
	assert.Panics(t, func() { g.Unlock("missing") })
	assert.Panics(t, func() { g.RUnlock("missing") })
}

func TestRWMutexGroup_Exclusion(t *testing.T) {
	g := NewRWMutexGroup[int](2)
	const keys = 4
	var writers [keys]atomic.Int32
	var readers [keys]atomic.Int32

	var eg errgroup.Group
	for w := range 8 {
		eg.Go(func() error {
			for i := range 300 {
				k := (w + i) % keys
				if i%3 == 0 {
					g.Lock(k)
					if writers[k].Add(1) != 1 || readers[k].Load() != 0 {
						t.Errorf("key %d: writer not exclusive", k)
					}
					writers[k].Add(-1)
					g.Unlock(k)
					continue
				}
				g.RLock(k)
				readers[k].Add(1)
				if writers[k].Load() != 0 {
					t.Errorf("key %d: reader saw a writer", k)
				}
				readers[k].Add(-1)
				g.RUnlock(k)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, 0, g.Len())
}

func TestRWMutexGroup_ZeroValueConcurrentFirstUse(t *testing.T) {
	for range 5 {
		var g RWMutexGroup[int]
		start := make(chan struct{})
		var eg errgroup.Group
		for i := range 8 {
			eg.Go(func() error {
				<-start
				g.RLock(i)
				g.RUnlock(i)
				g.Lock(i % 2)
				g.Unlock(i % 2)
				return nil
			})
		}
		close(start)
		require.NoError(t, eg.Wait())
		assert.Equal(t, 0, g.Len())
	}
}
