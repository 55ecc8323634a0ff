// ============================================================================
// epiflight Ensemble Worker - replicate execution unit
// ============================================================================
//
// Package: internal/ensemble
// File: worker.go
// Function: Runs replicate simulations, one goroutine per Worker
//
// How it works:
//   1. Receive a Task from taskCh (blocking wait)
//   2. Run the replicate under a Context with the task's timeout
//   3. Send the Result to resultCh
//   4. Repeat until taskCh is closed
//
// Timeout Control:
//   The RunFunc checks ctx between simulated days, so an expired deadline
//   stops a replicate at a day boundary and surfaces DeadlineExceeded.
//   The replicate context derives from the pool's, so cancelling the
//   ensemble or stopping the pool stops running replicates too.
//
// ============================================================================

package ensemble

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs replicates pulled from the shared task channel.
type Worker struct {
	id       int
	ctx      context.Context
	run      RunFunc
	taskCh   <-chan Task
	resultCh chan<- Result
}

func newWorker(ctx context.Context, id int, run RunFunc, taskCh <-chan Task, resultCh chan<- Result) *Worker {
	return &Worker{
		id:       id,
		ctx:      ctx,
		run:      run,
		taskCh:   taskCh,
		resultCh: resultCh,
	}
}

// Run is the worker main loop.
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()

		ctx, cancel := context.WithCancel(w.ctx)
		if task.Timeout > 0 {
			ctx, cancel = context.WithTimeout(w.ctx, task.Timeout)
		}
		out, err := w.run(ctx, task.Seed)
		cancel()

		if err != nil {
			slog.Warn("replicate failed", "worker", w.id, "index", task.Index, "seed", task.Seed, "error", err)
		} else {
			slog.Debug("replicate finished", "worker", w.id, "index", task.Index, "seed", task.Seed,
				"peak", out.PeakInfectious, "elapsed", time.Since(start))
		}

		// resultCh is sized for every submitted task, so this never blocks for long
		w.resultCh <- Result{
			Outcome:  out,
			Index:    task.Index,
			Seed:     task.Seed,
			Err:      err,
			Duration: time.Since(start),
		}
	}
}
