package adaptrw

// RWMutexStats is a point-in-time snapshot of an RWMutex's counters.
// Fields are read one at a time, so a snapshot taken while the lock is
// busy need not be mutually consistent.
type RWMutexStats struct {
	// WriteRequests is the number of tickets drawn by blocking writers.
	WriteRequests uint32
	// WriteCompletions is the number of writer releases, less the
	// writers that bypassed the queue and are still holding.
	WriteCompletions uint32
	// WritersQueued is WriteRequests - WriteCompletions: writers queued
	// or holding the lock.
	WritersQueued uint32
	// Readers is the number of readers holding (or speculatively
	// entering) the lock.
	Readers int32
	// WriterActive reports whether a writer holds the lock.
	WriterActive bool
	// ReadersWaiting is the number of readers parked on the lock.
	ReadersWaiting int32
	// WriteGranted is the number of writer grants since readers last ran.
	WriteGranted int32
	// WriteQuota is the effective writer-grant quota.
	WriteQuota uint32
	// SpinEstimate is the current adaptive spin estimate.
	SpinEstimate int32
}

// Stats returns a snapshot of rw's counters.
func (rw *RWMutex) Stats() RWMutexStats {
	rw.lockMu()
	waiting := rw.readersWaiting.Load()
	rw.mu.Unlock()

	req := rw.writeRequests.Load()
	done := rw.writeCompletions.Load()
	c := rw.cntFlag.Load()
	return RWMutexStats{
		WriteRequests:    req,
		WriteCompletions: done,
		WritersQueued:    req - done,
		Readers:          c / readerIncr,
		WriterActive:     c&writerActive != 0,
		ReadersWaiting:   waiting,
		WriteGranted:     rw.writeGranted.Load(),
		WriteQuota:       uint32(rw.quota()),
		SpinEstimate:     rw.spins.Load(),
	}
}
