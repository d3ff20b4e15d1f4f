package adaptrw

import (
	"errors"
	"fmt"
	"math"
)

// DefaultWriteQuota is the number of consecutive writer grants allowed
// before a writer unlock prefers waiting readers.
const DefaultWriteQuota = 4

// ErrReadQuotaUnsupported is returned when a nonzero read quota is
// requested. Only the write quota is implemented.
var ErrReadQuotaUnsupported = errors.New("adaptrw: read quota is not supported")

// ============================================================================
// Configuration
// ============================================================================

// RWMutexConfig defines configurable options for RWMutex initialization.
type RWMutexConfig struct {
	// readQuota is accepted for interface parity only. Any nonzero value
	// makes NewRWMutex fail with ErrReadQuotaUnsupported.
	readQuota uint32

	// writeQuota is the maximum number of consecutive writer grants before
	// an unlock wakes waiting readers instead of the next writer.
	// Zero selects DefaultWriteQuota.
	writeQuota uint32
}

// WithWriteQuota sets the writer-grant quota. Zero selects DefaultWriteQuota.
func WithWriteQuota(n uint32) func(*RWMutexConfig) {
	return func(c *RWMutexConfig) {
		c.writeQuota = n
	}
}

// WithReadQuota requests a reader quota. It exists so callers carrying
// a (read, write) quota pair can pass both; a nonzero value is rejected.
func WithReadQuota(n uint32) func(*RWMutexConfig) {
	return func(c *RWMutexConfig) {
		c.readQuota = n
	}
}

// NewRWMutex creates an RWMutex configured by options.
//
// Usage:
//
//	rw, err := NewRWMutex(WithWriteQuota(8))
func NewRWMutex(options ...func(*RWMutexConfig)) (*RWMutex, error) {
	var c RWMutexConfig
	for _, o := range options {
		o(&c)
	}
	rw := &RWMutex{}
	if err := rw.Init(c.readQuota, c.writeQuota); err != nil {
		return nil, err
	}
	return rw, nil
}

// Init resets rw to the unlocked state with the given quotas.
// A zero writeQuota selects DefaultWriteQuota; a nonzero readQuota fails
// with ErrReadQuotaUnsupported and leaves rw untouched.
//
// Init must not be called while rw is in use.
func (rw *RWMutex) Init(readQuota, writeQuota uint32) error {
	if readQuota != 0 {
		return fmt.Errorf("%w (requested %d)", ErrReadQuotaUnsupported, readQuota)
	}
	if writeQuota == 0 {
		writeQuota = DefaultWriteQuota
	}
	rw.cntFlag.Store(0)
	rw.writeRequests.Store(0)
	rw.writeCompletions.Store(0)
	rw.writeGranted.Store(0)
	rw.spins.Store(0)
	rw.writeQuota = min(writeQuota, math.MaxInt32)
	rw.readersWaiting.Store(0)
	return nil
}

// WriteQuota returns the effective writer-grant quota.
func (rw *RWMutex) WriteQuota() uint32 {
	return uint32(rw.quota())
}

//go:nosplit
func (rw *RWMutex) quota() int32 {
	if q := rw.writeQuota; q != 0 {
		return int32(q)
	}
	return DefaultWriteQuota
}
