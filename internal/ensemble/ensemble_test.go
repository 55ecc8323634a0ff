package ensemble

// ============================================================================
// Ensemble tests: pool lifecycle, concurrent replicates, timeouts, statistics
// ============================================================================

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/epiflight/pkg/types"
)

// fakeRun derives a deterministic outcome from the seed.
func fakeRun(_ context.Context, seed uint64) (Outcome, error) {
	return Outcome{
		PeakInfectious: int(seed * 10),
		PeakDay:        int(seed),
		Final:          types.Counts{F: int(seed), R: 100 - int(seed)},
		FlightsFlown:   int(seed) * 2,
		Days:           30,
	}, nil
}

// ============================================================================
// Pool lifecycle
// ============================================================================

func TestNewPool(t *testing.T) {
	pool := NewPool(context.Background(), 10, fakeRun)
	assert.NotNil(t, pool)
	assert.Equal(t, 0, pool.WorkerCount())
	assert.False(t, pool.IsStarted())
}

func TestPoolStart(t *testing.T) {
	pool := NewPool(context.Background(), 10, fakeRun)

	require.NoError(t, pool.Start(4))
	assert.Equal(t, 4, pool.WorkerCount())
	assert.True(t, pool.IsStarted())

	assert.Error(t, pool.Start(2), "second start must fail")
	pool.Stop()
}

func TestPoolStartNoWorkers(t *testing.T) {
	pool := NewPool(context.Background(), 1, fakeRun)
	assert.ErrorIs(t, pool.Start(0), ErrNoWorkers)
}

func TestSubmitBeforeStart(t *testing.T) {
	pool := NewPool(context.Background(), 1, fakeRun)
	assert.ErrorIs(t, pool.Submit(Task{}), ErrPoolNotStarted)
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool(context.Background(), 1, fakeRun)
	require.NoError(t, pool.Start(1))
	pool.Stop()
	pool.Stop() // idempotent

	assert.ErrorIs(t, pool.Submit(Task{}), ErrPoolClosed)
	_, err := pool.ReceiveResult(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestStopDiscardsUnreadResults(t *testing.T) {
	pool := NewPool(context.Background(), 2, fakeRun)
	require.NoError(t, pool.Start(2))
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(Task{Index: i, Seed: uint64(i)}))
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestNoGoroutineLeak(t *testing.T) {
	before := runtime.NumGoroutine()

	_, err := Replicates(context.Background(), Options{Replicates: 20, Workers: 8}, fakeRun)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+2)
}

// ============================================================================
// Replicates
// ============================================================================

func TestReplicatesSeedsAndOrder(t *testing.T) {
	results, err := Replicates(context.Background(), Options{Replicates: 6, Workers: 3, Seed: 40}, fakeRun)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, uint64(40+i), r.Seed)
		assert.Equal(t, int(40+i)*10, r.PeakInfectious)
		assert.NoError(t, r.Err)
	}
}

func TestReplicatesRunConcurrently(t *testing.T) {
	var running, maxRunning int32
	run := func(ctx context.Context, seed uint64) (Outcome, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return fakeRun(ctx, seed)
	}

	_, err := Replicates(context.Background(), Options{Replicates: 8, Workers: 4}, run)
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt32(&maxRunning), int32(1))
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(4))
}

func TestReplicatesZero(t *testing.T) {
	results, err := Replicates(context.Background(), Options{}, fakeRun)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReplicateTimeout(t *testing.T) {
	slow := func(ctx context.Context, seed uint64) (Outcome, error) {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(2 * time.Second):
			return fakeRun(ctx, seed)
		}
	}

	results, err := Replicates(context.Background(), Options{Replicates: 2, Workers: 2, Timeout: 20 * time.Millisecond}, slow)
	require.NoError(t, err)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
	}
}

func TestReplicatesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := func(ctx context.Context, seed uint64) (Outcome, error) {
		time.Sleep(10 * time.Millisecond)
		return fakeRun(ctx, seed)
	}
	_, err := Replicates(ctx, Options{Replicates: 3, Workers: 1}, block)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplicatesCancelledWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 2)
	wait := func(ctx context.Context, seed uint64) (Outcome, error) {
		started <- struct{}{}
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(3 * time.Second):
			return fakeRun(ctx, seed)
		}
	}

	go func() {
		<-started
		cancel()
	}()

	start := time.Now()
	_, err := Replicates(ctx, Options{Replicates: 2, Workers: 2}, wait)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "running replicates must see the cancellation")
}

func TestStopCancelsRunningReplicates(t *testing.T) {
	var cancelled atomic.Bool
	started := make(chan struct{})
	wait := func(ctx context.Context, seed uint64) (Outcome, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return Outcome{}, ctx.Err()
	}

	pool := NewPool(context.Background(), 1, wait)
	require.NoError(t, pool.Start(1))
	require.NoError(t, pool.Submit(Task{Index: 0, Seed: 1}))
	<-started

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running replicate")
	}
	assert.True(t, cancelled.Load())
}

// ============================================================================
// Summarize
// ============================================================================

func TestSummarize(t *testing.T) {
	results := []Result{
		{Index: 0, Outcome: Outcome{PeakInfectious: 10, PeakDay: 5, Final: types.Counts{F: 1, R: 9}, FlightsFlown: 4}},
		{Index: 1, Outcome: Outcome{PeakInfectious: 20, PeakDay: 7, Final: types.Counts{F: 3, R: 7}, FlightsFlown: 4}},
		{Index: 2, Outcome: Outcome{PeakInfectious: 30, PeakDay: 9, Final: types.Counts{F: 5, R: 5}, FlightsFlown: 4}},
		{Index: 3, Err: errors.New("boom")},
	}

	s, err := Summarize(results)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Replicates)
	assert.Equal(t, 1, s.Failed)

	assert.InDelta(t, 20, s.PeakInfectious.Mean, 1e-9)
	assert.InDelta(t, 10, s.PeakInfectious.Std, 1e-9)
	assert.Equal(t, 10.0, s.PeakInfectious.Min)
	assert.Equal(t, 30.0, s.PeakInfectious.Max)
	assert.InDelta(t, 7, s.PeakDay.Mean, 1e-9)
	assert.InDelta(t, 3, s.FinalFatal.Mean, 1e-9)
	assert.InDelta(t, 0, s.FlightsFlown.Std, 1e-9)
}

func TestSummarizeSingle(t *testing.T) {
	s, err := Summarize([]Result{{Outcome: Outcome{PeakInfectious: 7}}})
	require.NoError(t, err)
	assert.Equal(t, 7.0, s.PeakInfectious.Mean)
	assert.Equal(t, 0.0, s.PeakInfectious.Std)
}

func TestSummarizeAllFailed(t *testing.T) {
	_, err := Summarize([]Result{{Err: errors.New("x")}})
	assert.ErrorIs(t, err, ErrAllFailed)
}
