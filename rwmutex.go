package adaptrw

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/adaptrw/internal/opt"
)

// Mode selects shared (read) or exclusive (write) access.
type Mode uint8

const (
	ReadMode Mode = iota
	WriteMode
)

func (m Mode) String() string {
	switch m {
	case ReadMode:
		return "read"
	case WriteMode:
		return "write"
	default:
		return "invalid"
	}
}

const (
	// writerActive is bit 0 of cntFlag.
	writerActive = 1
	// readerIncr steps the reader count in bits 1..31 so reader
	// arithmetic never touches writerActive.
	readerIncr = 2
	// maxAdaptiveSpins caps the spin phase of Acquire.
	maxAdaptiveSpins = 100
)

// RWMutex is an adaptive reader/writer lock.
//
// Writers queue in FIFO order: each blocking writer draws a ticket from
// writeRequests and proceeds once writeCompletions reaches it. Readers do
// not join while a writer is queued, so writers cannot starve. After
// writeQuota consecutive writer grants, a writer unlock wakes waiting
// readers instead of the next writer, so readers cannot starve either.
//
// Acquire tries the non-blocking path first and spins on it briefly
// before sleeping. The spin budget adapts to how long recent
// acquisitions took. A reader that finds a writer queued or active does
// not spin: it parks at once, so it counts as a waiting reader and the
// quota applies to it. While readers are waiting and the quota is used
// up, a spinning writer stops spinning and a queued writer whose turn has
// come steps aside until those readers have run.
//
// The non-blocking write paths bypass the ticket queue: they take the lock
// whenever it is free and pull writeCompletions back by one so the ticket
// arithmetic still balances. That covers TryAcquire(WriteMode), TryUpgrade
// and the spin phase of Acquire(WriteMode), and so Lock as well. Only a
// writer that has fallen through to the blocking path holds a ticket, and
// strict FIFO order holds among those writers alone.
//
// The reader bound is counted from the moment a reader parks: it acquires
// before more than writeQuota+1 further writer grants, the extra one being
// a spinning writer that looked just before the reader parked.
//
// The zero value is an unlocked RWMutex with DefaultWriteQuota.
// An RWMutex must not be copied after first use.
type RWMutex struct {
	_ noCopy
	_ [opt.CacheLineSize_]byte

	// cntFlag: bit 0 = writer active, bits 1..31 = reader count * 2.
	cntFlag          atomic.Int32
	writeRequests    atomic.Uint32
	writeCompletions atomic.Uint32
	_                [(opt.CacheLineSize_ - unsafe.Sizeof(struct {
		a int32
		b uint32
		c uint32
	}{})%opt.CacheLineSize_) % opt.CacheLineSize_]byte

	// writeGranted counts writer grants since readers last ran.
	writeGranted atomic.Int32
	// spins estimates how many spin attempts are worth making.
	spins      atomic.Int32
	writeQuota uint32

	// mu guards the two conditions. readersWaiting only changes with mu
	// held but is read without it on the spin path.
	mu             sync.Mutex
	readable       sync.Cond
	writeable      sync.Cond
	readersWaiting atomic.Int32
}

// lockMu acquires mu and binds both conditions to it on first use.
// Conditions are only touched with mu held, which keeps the lazy
// binding free of races and the zero value usable.
func (rw *RWMutex) lockMu() {
	rw.mu.Lock()
	if rw.readable.L == nil {
		rw.readable.L = &rw.mu
		rw.writeable.L = &rw.mu
	}
}

//go:nosplit
func (rw *RWMutex) writersPending() bool {
	return rw.writeRequests.Load() != rw.writeCompletions.Load()
}

// resetGranted marks that readers have run. The load avoids dirtying the
// cache line on every read acquisition.
//
//go:nosplit
func (rw *RWMutex) resetGranted() {
	if rw.writeGranted.Load() != 0 {
		rw.writeGranted.Store(0)
	}
}

// Acquire locks rw in mode m, spinning on TryAcquire for an adaptive
// number of attempts before blocking.
func (rw *RWMutex) Acquire(m Mode) {
	checkMode(m)
	spins := rw.spins.Load()
	limit := min(spins*2+10, maxAdaptiveSpins)
	var n int32
	var relax int
	for {
		n++
		if rw.spinFutile(m) {
			rw.lockSlow(m)
			break
		}
		if rw.TryAcquire(m) {
			break
		}
		if n >= limit {
			rw.lockSlow(m)
			break
		}
		cpuRelax(&relax)
	}
	if d := (n - spins) / 8; d != 0 {
		rw.spins.Add(d)
	}
}

// spinFutile reports whether spinning in mode m cannot succeed fairly.
// Readers cannot enter while a writer is queued or active; writers must
// not keep barging once the quota is spent and readers are parked.
//
//go:nosplit
func (rw *RWMutex) spinFutile(m Mode) bool {
	if m == ReadMode {
		return rw.writersPending()
	}
	return rw.yieldToReaders()
}

// yieldToReaders reports whether writers have used up the quota while
// readers are parked.
//
//go:nosplit
func (rw *RWMutex) yieldToReaders() bool {
	return rw.readersWaiting.Load() > 0 && rw.writeGranted.Load() >= rw.quota()
}

// lockSlow acquires rw in mode m, sleeping on the conditions as needed.
//
// Every sleep follows the same shape: check the atomic state, take mu,
// check again, and only then wait. Wakers change the atomic state before
// taking mu to broadcast, so a waiter that passed the second check is
// already parked when the broadcast happens.
func (rw *RWMutex) lockSlow(m Mode) {
	if m == ReadMode {
		entered := false
		if rw.writersPending() {
			rw.lockMu()
			if rw.writersPending() {
				rw.readersWaiting.Add(1)
				rw.readable.Wait()
				// Show up as a reader before leaving the waiting set, so a
				// spinning writer always sees one or the other.
				rw.cntFlag.Add(readerIncr)
				entered = true
				rw.readersWaiting.Add(-1)
			}
			rw.mu.Unlock()
		}

		if !entered {
			rw.cntFlag.Add(readerIncr)
		}
		// A writer that was granted before our increment may still be
		// active; keep waiting until it clears the flag.
		for rw.cntFlag.Load()&writerActive != 0 {
			rw.lockMu()
			rw.readersWaiting.Add(1)
			if rw.cntFlag.Load()&writerActive != 0 {
				rw.readable.Wait()
			}
			rw.readersWaiting.Add(-1)
			rw.mu.Unlock()
		}

		rw.resetGranted()
		return
	}

	ticket := rw.writeRequests.Add(1) - 1
	for rw.writeCompletions.Load() != ticket {
		rw.lockMu()
		if rw.writeCompletions.Load() != ticket {
			rw.writeable.Wait()
		}
		rw.mu.Unlock()
	}

	// Our turn: wait for the active readers (or a writer that cut the
	// line) to leave. Once the quota is spent, parked readers go first;
	// the last of them out wakes us again.
	for {
		if !rw.yieldToReaders() && rw.cntFlag.CompareAndSwap(0, writerActive) {
			break
		}
		rw.lockMu()
		if rw.yieldToReaders() {
			rw.readable.Broadcast()
			rw.writeable.Wait()
		} else if rw.cntFlag.Load() != 0 {
			rw.writeable.Wait()
		}
		rw.mu.Unlock()
	}

	rw.writeGranted.Add(1)
}

// TryAcquire tries to lock rw in mode m without blocking and reports
// whether it succeeded. A false result means the lock is busy.
//
// A read attempt fails whenever a writer is queued or active. A write
// attempt succeeds whenever the lock is entirely free, ahead of any
// queued writers.
func (rw *RWMutex) TryAcquire(m Mode) bool {
	switch m {
	case ReadMode:
		if rw.writersPending() {
			return false
		}
		if rw.cntFlag.Add(readerIncr)&writerActive != 0 {
			// Lost the race to a writer. If the writer left in between,
			// we may be the last reader it is waiting on: wake it.
			prev := rw.cntFlag.Add(-readerIncr) + readerIncr
			if prev == readerIncr && rw.writersPending() {
				rw.lockMu()
				rw.writeable.Broadcast()
				rw.mu.Unlock()
			}
			return false
		}
		rw.resetGranted()
		return true

	case WriteMode:
		if !rw.cntFlag.CompareAndSwap(0, writerActive) {
			return false
		}
		// Jump the queue: Release(WriteMode) will add this back.
		rw.writeCompletions.Add(^uint32(0))
		rw.writeGranted.Add(1)
		return true
	}
	panic(badMode(m))
}

// Release unlocks rw held in mode m.
//
// It is a run-time error if rw is not held in mode m on entry.
func (rw *RWMutex) Release(m Mode) {
	switch m {
	case ReadMode:
		prev := rw.cntFlag.Add(-readerIncr) + readerIncr
		if prev&^writerActive == 0 {
			panic("adaptrw: RUnlock of unlocked RWMutex")
		}
		// Last reader out with a writer queued. Broadcast, not signal:
		// every queued writer must recheck its ticket.
		if prev == readerIncr && rw.writersPending() {
			rw.lockMu()
			rw.writeable.Broadcast()
			rw.mu.Unlock()
		}

	case WriteMode:
		prev := rw.cntFlag.Add(-writerActive) + writerActive
		if prev&writerActive == 0 {
			panic("adaptrw: Unlock of unlocked RWMutex")
		}
		rw.writeCompletions.Add(1)

		wakeWriters := true
		if rw.writeGranted.Load() >= rw.quota() ||
			!rw.writersPending() ||
			rw.cntFlag.Load()&^writerActive != 0 {
			rw.lockMu()
			if rw.readersWaiting.Load() > 0 {
				wakeWriters = false
				rw.readable.Broadcast()
			}
			rw.mu.Unlock()
		}

		if wakeWriters && rw.writersPending() {
			rw.lockMu()
			rw.writeable.Broadcast()
			rw.mu.Unlock()
		}

	default:
		panic(badMode(m))
	}
}

// TryUpgrade converts the caller's read lock into a write lock if the
// caller is the only reader, and reports whether it did. On failure the
// caller still holds its read lock.
//
// Like TryAcquire(WriteMode), a successful upgrade goes ahead of any
// queued writers.
func (rw *RWMutex) TryUpgrade() bool {
	if !rw.cntFlag.CompareAndSwap(readerIncr, writerActive) {
		return false
	}
	rw.writeCompletions.Add(^uint32(0))
	return true
}

// Downgrade converts the caller's write lock into a read lock without
// releasing it. Waiting readers are admitted; writers stay out until all
// readers, the caller included, have released.
func (rw *RWMutex) Downgrade() {
	prev := rw.cntFlag.Add(readerIncr) - readerIncr
	if prev&writerActive == 0 {
		rw.cntFlag.Add(-readerIncr)
		panic("adaptrw: Downgrade of RWMutex not locked for writing")
	}
	rw.cntFlag.Add(-writerActive)
	rw.writeCompletions.Add(1)

	rw.lockMu()
	if rw.readersWaiting.Load() > 0 {
		rw.readable.Broadcast()
	}
	rw.mu.Unlock()
}

// Destroy checks that rw is idle: no holders, no queued writers and no
// waiting readers. It panics otherwise. After Destroy, rw may be reused
// only after Init.
func (rw *RWMutex) Destroy() {
	rw.lockMu()
	waiting := rw.readersWaiting.Load()
	rw.mu.Unlock()
	if rw.writersPending() || rw.cntFlag.Load() != 0 || waiting != 0 {
		panic("adaptrw: Destroy of busy RWMutex")
	}
}

// Lock locks rw for writing.
func (rw *RWMutex) Lock() { rw.Acquire(WriteMode) }

// Unlock unlocks rw for writing.
func (rw *RWMutex) Unlock() { rw.Release(WriteMode) }

// RLock locks rw for reading.
func (rw *RWMutex) RLock() { rw.Acquire(ReadMode) }

// RUnlock undoes a single RLock call.
func (rw *RWMutex) RUnlock() { rw.Release(ReadMode) }

// TryLock tries to lock rw for writing and reports whether it succeeded.
func (rw *RWMutex) TryLock() bool { return rw.TryAcquire(WriteMode) }

// TryRLock tries to lock rw for reading and reports whether it succeeded.
func (rw *RWMutex) TryRLock() bool { return rw.TryAcquire(ReadMode) }

// RLocker returns a sync.Locker that calls rw.RLock and rw.RUnlock.
func (rw *RWMutex) RLocker() sync.Locker {
	return (*rlocker)(rw)
}

type rlocker RWMutex

func (r *rlocker) Lock()   { (*RWMutex)(r).RLock() }
func (r *rlocker) Unlock() { (*RWMutex)(r).RUnlock() }

func checkMode(m Mode) {
	if m != ReadMode && m != WriteMode {
		panic(badMode(m))
	}
}

func badMode(m Mode) string {
	return "adaptrw: invalid lock mode " + m.String()
}
