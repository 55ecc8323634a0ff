package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrAllFailed is returned by Summarize when no replicate succeeded.
var ErrAllFailed = errors.New("every replicate failed")

// Options configures an ensemble.
type Options struct {
	Replicates int
	Workers    int
	Seed       uint64        // replicate i runs with Seed+i
	Timeout    time.Duration // per replicate; 0 means none
}

// Replicates runs opts.Replicates simulations through a worker pool and returns
// their results ordered by index. A failed replicate carries its error in
// Result.Err; only pool or context failures are returned as err.
func Replicates(ctx context.Context, opts Options, run RunFunc) ([]Result, error) {
	if opts.Replicates < 1 {
		return nil, nil
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > opts.Replicates {
		workers = opts.Replicates
	}

	pool := NewPool(ctx, opts.Replicates, run)
	if err := pool.Start(workers); err != nil {
		return nil, err
	}
	defer pool.Stop()

	slog.Info("ensemble started", "replicates", opts.Replicates, "workers", workers, "seed", opts.Seed)
	start := time.Now()

	for i := 0; i < opts.Replicates; i++ {
		task := Task{Index: i, Seed: opts.Seed + uint64(i), Timeout: opts.Timeout}
		if err := pool.Submit(task); err != nil {
			return nil, fmt.Errorf("failed to submit replicate %d: %w", i, err)
		}
	}

	results := make([]Result, 0, opts.Replicates)
	for len(results) < opts.Replicates {
		res, err := pool.ReceiveResult(ctx)
		if err != nil {
			return nil, fmt.Errorf("ensemble interrupted after %d replicates: %w", len(results), err)
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	slog.Info("ensemble finished", "replicates", len(results), "elapsed", time.Since(start))
	return results, nil
}

// Stat describes one quantity across replicates.
type Stat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Summary aggregates the successful replicates of an ensemble.
type Summary struct {
	Replicates     int  `json:"replicates"`
	Failed         int  `json:"failed"`
	PeakInfectious Stat `json:"peak_infectious"`
	PeakDay        Stat `json:"peak_day"`
	FinalFatal     Stat `json:"final_fatal"`
	FinalRecovered Stat `json:"final_recovered"`
	FlightsFlown   Stat `json:"flights_flown"`
}

// Summarize computes mean, standard deviation and range of each outcome.
func Summarize(results []Result) (Summary, error) {
	s := Summary{Replicates: len(results)}

	var peak, peakDay, fatal, recovered, flights []float64
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
			continue
		}
		peak = append(peak, float64(r.PeakInfectious))
		peakDay = append(peakDay, float64(r.PeakDay))
		fatal = append(fatal, float64(r.Final.F))
		recovered = append(recovered, float64(r.Final.R))
		flights = append(flights, float64(r.FlightsFlown))
	}
	if len(peak) == 0 {
		return s, ErrAllFailed
	}

	s.PeakInfectious = describe(peak)
	s.PeakDay = describe(peakDay)
	s.FinalFatal = describe(fatal)
	s.FinalRecovered = describe(recovered)
	s.FlightsFlown = describe(flights)
	return s, nil
}

func describe(x []float64) Stat {
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		// a single sample has no spread
		std = 0
	}
	return Stat{Mean: mean, Std: std, Min: floats.Min(x), Max: floats.Max(x)}
}
