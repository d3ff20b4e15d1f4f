package adaptrw

import (
	"sync"

	"github.com/llxisdsh/pb"
)

// RWMutexGroup allows adaptive reader/writer locking on arbitrary keys.
//
// Features:
//   - Lock/Unlock and RLock/RUnlock per key, with the FIFO writer order
//     and write quota of RWMutex.
//   - Infinite Keys & Auto-Cleanup: an entry exists only while some
//     goroutine holds or waits for its lock.
//
// Usage:
//
//	var group RWMutexGroup[string]
//
//	// Readers
//	group.RLock("config")
//	read(config)
//	group.RUnlock("config")
//
//	// Writer
//	group.Lock("config")
//	write(config)
//	group.Unlock("config")
type RWMutexGroup[K comparable] struct {
	_          noCopy
	initOnce   sync.Once
	m          pb.MapOf[K, *rwMutexGroupEntry]
	writeQuota uint32
}

type rwMutexGroupEntry struct {
	mu RWMutex
	// ref is only touched inside ProcessEntry callbacks, which run
	// serialized per key.
	ref int32
}

// NewRWMutexGroup returns a group whose per-key locks use writeQuota.
// Zero selects DefaultWriteQuota, as does the zero-value group.
func NewRWMutexGroup[K comparable](writeQuota uint32) *RWMutexGroup[K] {
	g := &RWMutexGroup[K]{writeQuota: writeQuota}
	g.table()
	return g
}

// table returns the key table, setting it up exactly once. The lazy
// setup inside a zero-value MapOf is not safe for concurrent first use.
func (g *RWMutexGroup[K]) table() *pb.MapOf[K, *rwMutexGroupEntry] {
	g.initOnce.Do(func() {
		g.m.InitWithOptions()
	})
	return &g.m
}

// acquire returns the entry for k with its reference count raised.
func (g *RWMutexGroup[K]) acquire(k K) *rwMutexGroupEntry {
	v, _ := g.table().ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *rwMutexGroupEntry]) (*pb.EntryOf[K, *rwMutexGroupEntry], *rwMutexGroupEntry, bool) {
			if l != nil {
				l.Value.ref++
				return l, l.Value, true
			}
			e := &rwMutexGroupEntry{ref: 1}
			e.mu.writeQuota = g.writeQuota
			return &pb.EntryOf[K, *rwMutexGroupEntry]{Value: e}, e, false
		},
	)
	return v
}

// release drops one reference to the entry for k, deleting it at zero.
func (g *RWMutexGroup[K]) release(k K) {
	_, ok := g.table().ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *rwMutexGroupEntry]) (*pb.EntryOf[K, *rwMutexGroupEntry], *rwMutexGroupEntry, bool) {
			if l == nil {
				return nil, nil, false
			}
			l.Value.ref--
			if l.Value.ref <= 0 {
				return nil, l.Value, true
			}
			return l, l.Value, true
		},
	)
	if !ok {
		panic("adaptrw: release of unknown RWMutexGroup key")
	}
}

func (g *RWMutexGroup[K]) lookup(k K) *rwMutexGroupEntry {
	v, ok := g.table().Load(k)
	if !ok {
		panic("adaptrw: unlock of unlocked RWMutexGroup key")
	}
	return v
}

// Lock locks key k for writing.
func (g *RWMutexGroup[K]) Lock(k K) {
	g.acquire(k).mu.Acquire(WriteMode)
}

// Unlock unlocks key k for writing.
func (g *RWMutexGroup[K]) Unlock(k K) {
	g.lookup(k).mu.Release(WriteMode)
	g.release(k)
}

// RLock locks key k for reading.
func (g *RWMutexGroup[K]) RLock(k K) {
	g.acquire(k).mu.Acquire(ReadMode)
}

// RUnlock undoes a single RLock(k) call.
func (g *RWMutexGroup[K]) RUnlock(k K) {
	g.lookup(k).mu.Release(ReadMode)
	g.release(k)
}

// TryLock tries to lock key k for writing and reports whether it succeeded.
func (g *RWMutexGroup[K]) TryLock(k K) bool {
	if g.acquire(k).mu.TryAcquire(WriteMode) {
		return true
	}
	g.release(k)
	return false
}

// TryRLock tries to lock key k for reading and reports whether it succeeded.
func (g *RWMutexGroup[K]) TryRLock(k K) bool {
	if g.acquire(k).mu.TryAcquire(ReadMode) {
		return true
	}
	g.release(k)
	return false
}

// Len returns the number of keys currently held or waited on.
func (g *RWMutexGroup[K]) Len() int {
	return g.table().Size()
}
