package cli

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/epiflight/internal/ensemble"
	"github.com/ChuLiYu/epiflight/internal/simulation"
)

type ensembleOptions struct {
	replicates int
	workers    int
	days       int
	seed       uint64
	asJSON     bool
}

func buildEnsembleCommand(root *rootOptions) *cobra.Command {
	opts := &ensembleOptions{}

	cmd := &cobra.Command{
		Use:   "ensemble",
		Short: "Run replicates of a scenario concurrently and summarize them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, records, err := loadScenario(root.configFile)
			if err != nil {
				return err
			}

			eopts := ensemble.Options{
				Replicates: cfg.Ensemble.Replicates,
				Workers:    cfg.Ensemble.Workers,
				Seed:       cfg.Simulation.Seed,
				Timeout:    cfg.Ensemble.Timeout,
			}
			days := cfg.Simulation.Days
			if cmd.Flags().Changed("replicates") {
				eopts.Replicates = opts.replicates
			}
			if cmd.Flags().Changed("workers") {
				eopts.Workers = opts.workers
			}
			if cmd.Flags().Changed("seed") {
				eopts.Seed = opts.seed
			}
			if cmd.Flags().Changed("days") {
				days = opts.days
			}
			if eopts.Replicates < 1 {
				return fmt.Errorf("--replicates must be at least 1, got %d", eopts.Replicates)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, err := ensemble.Replicates(ctx, eopts, simulation.ReplicateRunner(cfg, records, days))
			if err != nil {
				return err
			}
			summary, err := ensemble.Summarize(results)
			if err != nil {
				return err
			}

			if opts.asJSON {
				out, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			}
			return printSummary(cmd.OutOrStdout(), eopts, days, summary)
		},
	}

	cmd.Flags().IntVar(&opts.replicates, "replicates", 0, "number of replicates (default from scenario)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent workers (default from scenario)")
	cmd.Flags().IntVar(&opts.days, "days", 0, "days per replicate (default from scenario)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "seed of the first replicate; replicate i uses seed+i")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the summary as JSON")

	return cmd
}

func printSummary(w io.Writer, opts ensemble.Options, days int, s ensemble.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "replicates %d\tfailed %d\tdays %d\tseeds %d..%d\t\n",
		s.Replicates, s.Failed, days, opts.Seed, opts.Seed+uint64(opts.Replicates)-1)
	fmt.Fprintln(tw, "OUTCOME\tMEAN\tSTD\tMIN\tMAX\t")
	rows := []struct {
		name string
		stat ensemble.Stat
	}{
		{"peak infectious", s.PeakInfectious},
		{"peak day", s.PeakDay},
		{"fatal", s.FinalFatal},
		{"recovered", s.FinalRecovered},
		{"flights", s.FlightsFlown},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.0f\t%.0f\t\n", r.name, r.stat.Mean, r.stat.Std, r.stat.Min, r.stat.Max)
	}
	return tw.Flush()
}
