package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/adaptrw"
)

// maxSamples bounds the latency samples kept per worker.
const maxSamples = 1 << 16

// writerUnit marks a writer in a key's occupancy word; readers count
// in the low bits.
const writerUnit = 1 << 32

// Config describes a stress run.
type Config struct {
	Readers  int
	Writers  int
	Duration time.Duration
	// Quota is the write quota; zero selects adaptrw.DefaultWriteQuota.
	Quota uint32
	// Hold is how long each acquisition keeps the lock.
	Hold time.Duration
	// Keys > 0 spreads the workload over a RWMutexGroup with that many
	// keys instead of a single RWMutex.
	Keys int
	// TryFraction is the share of attempts made with the non-blocking path.
	TryFraction float64
}

func (c *Config) validate() error {
	switch {
	case c.Readers < 0 || c.Writers < 0:
		return errors.New("negative worker count")
	case c.Readers+c.Writers == 0:
		return errors.New("need at least one reader or writer")
	case c.Duration <= 0:
		return errors.New("duration must be positive")
	case c.Hold < 0:
		return errors.New("hold must not be negative")
	case c.Keys < 0:
		return errors.New("keys must not be negative")
	case c.TryFraction < 0 || c.TryFraction > 1:
		return fmt.Errorf("try fraction %v outside [0, 1]", c.TryFraction)
	}
	return nil
}

// Latency summarizes acquisition latencies of one mode.
type Latency struct {
	N    int
	Mean time.Duration
	P50  time.Duration
	P99  time.Duration
	Max  time.Duration
}

func summarize(xs []float64) Latency {
	if len(xs) == 0 {
		return Latency{}
	}
	s := stats.Sample{Xs: xs}
	s.Sort()
	_, hi := s.Bounds()
	return Latency{
		N:    len(xs),
		Mean: time.Duration(s.Mean()),
		P50:  time.Duration(s.Quantile(0.5)),
		P99:  time.Duration(s.Quantile(0.99)),
		Max:  time.Duration(hi),
	}
}

// Report is the outcome of a stress run.
type Report struct {
	Read        Latency
	Write       Latency
	ReadOps     int64
	WriteOps    int64
	TryFailures int64
	Violations  int64
	// Lock holds the final counters of the single lock; nil for group runs.
	Lock *adaptrw.RWMutexStats
}

// target is the lock under test, addressed by key.
type target interface {
	acquire(k int, m adaptrw.Mode)
	tryAcquire(k int, m adaptrw.Mode) bool
	release(k int, m adaptrw.Mode)
}

type single struct{ rw *adaptrw.RWMutex }

func (s single) acquire(_ int, m adaptrw.Mode)         { s.rw.Acquire(m) }
func (s single) tryAcquire(_ int, m adaptrw.Mode) bool { return s.rw.TryAcquire(m) }
func (s single) release(_ int, m adaptrw.Mode)         { s.rw.Release(m) }

type group struct{ g *adaptrw.RWMutexGroup[int] }

func (g group) acquire(k int, m adaptrw.Mode) {
	if m == adaptrw.WriteMode {
		g.g.Lock(k)
	} else {
		g.g.RLock(k)
	}
}

func (g group) tryAcquire(k int, m adaptrw.Mode) bool {
	if m == adaptrw.WriteMode {
		return g.g.TryLock(k)
	}
	return g.g.TryRLock(k)
}

func (g group) release(k int, m adaptrw.Mode) {
	if m == adaptrw.WriteMode {
		g.g.Unlock(k)
	} else {
		g.g.RUnlock(k)
	}
}

type stresser struct {
	cfg      Config
	target   target
	occupied []atomic.Int64

	ops         [2]atomic.Int64
	tryFailures atomic.Int64
	violations  atomic.Int64
}

// Run drives cfg's workload until cfg.Duration elapses or ctx is done.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &stresser{cfg: cfg}
	var rw *adaptrw.RWMutex
	keys := 1
	if cfg.Keys > 0 {
		keys = cfg.Keys
		s.target = group{adaptrw.NewRWMutexGroup[int](cfg.Quota)}
	} else {
		var err error
		rw, err = adaptrw.NewRWMutex(adaptrw.WithWriteQuota(cfg.Quota))
		if err != nil {
			return nil, err
		}
		s.target = single{rw}
	}
	s.occupied = make([]atomic.Int64, keys)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	samples := make([][]float64, cfg.Readers+cfg.Writers)
	eg, ctx := errgroup.WithContext(ctx)
	for i := range samples {
		m := adaptrw.ReadMode
		if i >= cfg.Readers {
			m = adaptrw.WriteMode
		}
		eg.Go(func() error {
			samples[i] = s.work(ctx, m)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var reads, writes []float64
	for i, xs := range samples {
		if i < cfg.Readers {
			reads = append(reads, xs...)
		} else {
			writes = append(writes, xs...)
		}
	}
	r := &Report{
		Read:        summarize(reads),
		Write:       summarize(writes),
		ReadOps:     s.ops[adaptrw.ReadMode].Load(),
		WriteOps:    s.ops[adaptrw.WriteMode].Load(),
		TryFailures: s.tryFailures.Load(),
		Violations:  s.violations.Load(),
	}
	if rw != nil {
		st := rw.Stats()
		r.Lock = &st
		rw.Destroy()
	}
	return r, nil
}

// work runs one worker in mode m and returns its latency samples in ns.
func (s *stresser) work(ctx context.Context, m adaptrw.Mode) []float64 {
	var xs []float64
	for ctx.Err() == nil {
		k := rand.IntN(len(s.occupied))

		start := time.Now()
		if s.cfg.TryFraction > 0 && rand.Float64() < s.cfg.TryFraction {
			if !s.target.tryAcquire(k, m) {
				s.tryFailures.Add(1)
				continue
			}
		} else {
			s.target.acquire(k, m)
		}
		if len(xs) < maxSamples {
			xs = append(xs, float64(time.Since(start)))
		}

		s.critical(k, m)
		s.target.release(k, m)
		s.ops[m].Add(1)
	}
	return xs
}

// critical occupies key k and records any overlap that breaks exclusion.
func (s *stresser) critical(k int, m adaptrw.Mode) {
	occ := &s.occupied[k]
	if m == adaptrw.WriteMode {
		if occ.Add(writerUnit) != writerUnit {
			s.violations.Add(1)
		}
	} else if occ.Add(1) >= writerUnit {
		s.violations.Add(1)
	}

	if s.cfg.Hold > 0 {
		time.Sleep(s.cfg.Hold)
	}

	if m == adaptrw.WriteMode {
		occ.Add(-writerUnit)
	} else {
		occ.Add(-1)
	}
}
