package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls   atomic.Int32
	running atomic.Int32
	overlap atomic.Bool
	delay   time.Duration
}

func (r *countingRunner) RunCycle(ctx context.Context) (CycleStats, error) {
	if r.running.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.running.Add(-1)

	r.calls.Add(1)
	time.Sleep(r.delay)
	return CycleStats{}, nil
}

func TestScheduler_RunsImmediatelyAndRepeats(t *testing.T) {
	runner := &countingRunner{}
	s, err := NewScheduler(runner, 20*time.Millisecond, discardLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, 500*time.Millisecond, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	stopped := runner.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, runner.calls.Load())
}

func TestScheduler_CyclesDoNotOverlap(t *testing.T) {
	runner := &countingRunner{delay: 40 * time.Millisecond}
	s, err := NewScheduler(runner, 10*time.Millisecond, discardLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.False(t, runner.overlap.Load())
}
