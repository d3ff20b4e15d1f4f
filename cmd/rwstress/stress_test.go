package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSingleLock(t *testing.T) {
	r, err := Run(context.Background(), Config{
		Readers:     4,
		Writers:     2,
		Duration:    200 * time.Millisecond,
		Quota:       2,
		TryFraction: 0.25,
	})
	require.NoError(t, err)
	assert.Zero(t, r.Violations)
	assert.Positive(t, r.ReadOps)
	assert.Positive(t, r.WriteOps)
	require.NotNil(t, r.Lock)
	assert.Equal(t, uint32(2), r.Lock.WriteQuota)
	assert.Zero(t, r.Lock.WritersQueued)
	assert.LessOrEqual(t, r.Read.P50, r.Read.Max)
}

func TestRunGroup(t *testing.T) {
	r, err := Run(context.Background(), Config{
		Readers:  3,
		Writers:  3,
		Duration: 200 * time.Millisecond,
		Keys:     4,
		Hold:     time.Microsecond,
	})
	require.NoError(t, err)
	assert.Zero(t, r.Violations)
	assert.Nil(t, r.Lock)
	assert.Positive(t, r.ReadOps+r.WriteOps)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := Run(ctx, Config{Writers: 1, Duration: time.Hour})
	require.NoError(t, err)
	assert.Zero(t, r.WriteOps)
	assert.Zero(t, r.Write.N)
}

func TestConfigValidate(t *testing.T) {
	for name, cfg := range map[string]Config{
		"no workers":    {Duration: time.Second},
		"negative":      {Readers: -1, Writers: 2, Duration: time.Second},
		"zero duration": {Readers: 1},
		"try fraction":  {Readers: 1, Duration: time.Second, TryFraction: 1.5},
		"keys":          {Readers: 1, Duration: time.Second, Keys: -2},
	} {
		_, err := Run(context.Background(), cfg)
		assert.Error(t, err, name)
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Latency{}, summarize(nil))

	l := summarize([]float64{40, 10, 30, 20})
	assert.Equal(t, 4, l.N)
	assert.Equal(t, 25*time.Nanosecond, l.Mean)
	assert.Equal(t, 40*time.Nanosecond, l.Max)
	assert.LessOrEqual(t, l.P50, l.P99)

	xs := make([]float64, 101)
	for i := range xs {
		xs[i] = float64(100 - i)
	}
	l = summarize(xs)
	assert.Equal(t, 50*time.Nanosecond, l.P50)
	assert.GreaterOrEqual(t, l.P99, 98*time.Nanosecond)
	assert.LessOrEqual(t, l.P99, 100*time.Nanosecond)
	assert.Equal(t, 100*time.Nanosecond, l.Max)
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &Report{ReadOps: 3, WriteOps: 1, Lock: nil})
	assert.Contains(t, buf.String(), "read")
	assert.Contains(t, buf.String(), "try failures: 0")
}
