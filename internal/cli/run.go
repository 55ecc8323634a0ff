package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/epiflight/internal/checkpoint"
	"github.com/ChuLiYu/epiflight/internal/config"
	"github.com/ChuLiYu/epiflight/internal/journal"
	"github.com/ChuLiYu/epiflight/internal/metrics"
	"github.com/ChuLiYu/epiflight/internal/report"
	"github.com/ChuLiYu/epiflight/internal/routes"
	"github.com/ChuLiYu/epiflight/internal/server"
	"github.com/ChuLiYu/epiflight/internal/simulation"
)

const (
	journalFile    = "events.log"
	checkpointFile = "checkpoint.json"
	checkpointKeep = 3
)

type runOptions struct {
	days     int
	seed     uint64
	resume   bool
	paranoid bool
	linger   time.Duration
}

func buildRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		Long: `Run the scenario day by day. The journal, checkpoints, reports, the HTTP
status/metrics server and the gRPC Observatory are enabled from the scenario file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, records, err := loadScenario(root.configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("days") {
				cfg.Simulation.Days = opts.days
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulation.Seed = opts.seed
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, cmd, cfg, records, opts)
		},
	}

	cmd.Flags().IntVar(&opts.days, "days", 0, "total days to simulate (default from scenario)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed (default from scenario)")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "continue from the last checkpoint")
	cmd.Flags().BoolVar(&opts.paranoid, "paranoid", false, "check every invariant after each day")
	cmd.Flags().DurationVar(&opts.linger, "linger", 0, "keep the servers running this long after the last day")

	return cmd
}

func runSimulation(ctx context.Context, cmd *cobra.Command, cfg *config.Config, records []routes.Record, opts *runOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)
	recorder := report.NewRecorder()

	simOpts := []simulation.Option{
		simulation.WithMetrics(collector),
		simulation.WithObserver(recorder),
		simulation.WithParanoid(opts.paranoid),
	}

	var j *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		j, err = journal.Open(filepath.Join(cfg.Journal.Dir, journalFile), journal.Options{
			BufferSize:    cfg.Journal.BufferSize,
			FlushInterval: cfg.JournalFlushInterval(),
			SyncOnFlush:   true,
		})
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				slog.Error("Failed to close journal", "error", err)
			}
		}()
		simOpts = append(simOpts, simulation.WithJournal(j))
	}

	var mgr *checkpoint.Manager
	if cfg.Checkpoint.Enabled {
		mgr = checkpoint.NewManager(filepath.Join(cfg.Checkpoint.Dir, checkpointFile), checkpointKeep)
		simOpts = append(simOpts, simulation.WithCheckpoints(mgr, cfg.Checkpoint.IntervalDays))
	}

	sim, err := simulation.New(cfg, records, simOpts...)
	if err != nil {
		return err
	}

	if opts.resume {
		if err := resume(sim, mgr, j); err != nil {
			return err
		}
	}

	srvCtx, stopServers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		stopServers()
		wg.Wait()
	}()
	serving, err := startServers(srvCtx, &wg, cfg, sim, reg)
	if err != nil {
		return err
	}

	remaining := cfg.Simulation.Days - sim.Day()
	if remaining < 0 {
		remaining = 0
	}
	slog.Info("Simulation started",
		"run_id", sim.RunID(),
		"seed", sim.Seed(),
		"from_day", sim.Day(),
		"days", remaining)

	start := time.Now()
	runErr := sim.Run(ctx, remaining)
	interrupted := errors.Is(runErr, context.Canceled)
	if runErr != nil && !interrupted {
		return runErr
	}

	if mgr != nil {
		if _, err := sim.WriteCheckpoint(); err != nil {
			slog.Error("Failed to write final checkpoint", "error", err)
		}
	}
	if j != nil {
		if err := j.Err(); err != nil {
			slog.Warn("Journal recorded errors during the run", "error", err)
		}
	}
	if err := writeReports(cfg, recorder, sim.RunID()); err != nil {
		return err
	}

	slog.Info("Simulation finished",
		"run_id", sim.RunID(),
		"day", sim.Day(),
		"interrupted", interrupted,
		"duration", time.Since(start))
	if err := printStatus(cmd.OutOrStdout(), sim.Status()); err != nil {
		return err
	}

	if serving && opts.linger > 0 && !interrupted {
		slog.Info("Lingering", "for", opts.linger)
		select {
		case <-ctx.Done():
		case <-time.After(opts.linger):
		}
	}
	return nil
}

// resume restores the last checkpoint. A missing checkpoint starts fresh.
func resume(sim *simulation.Simulation, mgr *checkpoint.Manager, j *journal.Journal) error {
	if mgr == nil {
		return errors.New("--resume needs checkpoint.enabled in the scenario")
	}
	data, err := mgr.Load()
	if errors.Is(err, checkpoint.ErrNotFound) {
		slog.Warn("No checkpoint to resume from, starting fresh", "path", mgr.Path())
		return nil
	}
	if err != nil {
		return err
	}
	if err := sim.Restore(data); err != nil {
		return err
	}

	// the checkpoint's own CHECKPOINT event follows JournalSeq; anything
	// later belongs to days that are about to be replayed
	if j != nil && j.LastSeq() > data.JournalSeq+1 {
		archive, err := j.Rotate()
		if err != nil {
			return fmt.Errorf("failed to archive journal: %w", err)
		}
		slog.Warn("Journal ran ahead of the checkpoint, archived it",
			"checkpoint_seq", data.JournalSeq,
			"journal_seq", j.LastSeq(),
			"archive", archive)
	}
	return nil
}

func startServers(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, sim *simulation.Simulation, reg *prometheus.Registry) (bool, error) {
	serving := false

	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		h := server.NewHandler(sim, reg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeHTTP(ctx, addr, h); err != nil {
				slog.Error("HTTP server failed", "addr", addr, "error", err)
			}
		}()
		serving = true
	}

	if cfg.Server.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return serving, fmt.Errorf("failed to listen on port %d: %w", cfg.Server.GRPCPort, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeGRPC(ctx, lis, sim); err != nil {
				slog.Error("gRPC server failed", "error", err)
			}
		}()
		serving = true
	}
	return serving, nil
}

func writeReports(cfg *config.Config, rec *report.Recorder, runID string) error {
	if cfg.Report.CSV != "" {
		if err := rec.SaveCSV(cfg.Report.CSV); err != nil {
			return err
		}
		slog.Info("Trajectory written", "path", cfg.Report.CSV)
	}
	if cfg.Report.Chart != "" {
		err := rec.WriteChart(cfg.Report.Chart, "epiflight run "+runID)
		switch {
		case errors.Is(err, report.ErrNoData):
			slog.Warn("No days simulated, chart skipped")
		case err != nil:
			return err
		default:
			slog.Info("Chart written", "path", cfg.Report.Chart)
		}
	}
	return nil
}
