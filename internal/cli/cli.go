// ============================================================================
// epiflight CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for running and inspecting simulations
//
// Command Structure:
//   epiflight                      # Root command
//   ├── run                        # Run one simulation
//   │   ├── --days, --seed         # Override the scenario
//   │   ├── --resume               # Continue from the last checkpoint
//   │   ├── --paranoid             # Check every invariant after each day
//   │   └── --linger               # Keep the servers up after the last day
//   ├── ensemble                   # Run replicates concurrently
//   │   └── --replicates, --workers, --days, --seed, --json
//   ├── validate                   # Load and resolve a scenario, run nothing
//   ├── status                     # Query a running simulation over gRPC
//   │   └── --addr, --country
//   ├── journal                    # Inspect an event journal
//   │   ├── summary | dump | verify
//   │   └── --file, -f
//   ├── --config, -c               # Scenario file (default configs/default.yaml)
//   ├── --log-level                # debug | info | warn | error
//   └── --log-format               # text | json
//
// Signal Handling:
//   run and ensemble stop at the next day boundary on SIGINT / SIGTERM;
//   run then writes a final checkpoint when checkpoints are enabled.
//
// ============================================================================

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/epiflight/internal/config"
	"github.com/ChuLiYu/epiflight/internal/routes"
	"github.com/ChuLiYu/epiflight/internal/simulation"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

// Version is the CLI version, overridable with -ldflags "-X".
var Version = "1.0.0"

const defaultConfigPath = "configs/default.yaml"

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// BuildCLI assembles the command tree.
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "epiflight",
		Short: "epiflight: epidemic spread over an air-travel network",
		Long: `epiflight simulates an SEIHFR epidemic in a set of countries linked by
scheduled flights, with:
- per-country stochastic disease progression
- flight-borne migration of exposed and susceptible travellers
- threshold-triggered travel reduction
- checkpoints, an event journal and Prometheus metrics`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", defaultConfigPath, "scenario file path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text, json")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildEnsembleCommand(opts))
	rootCmd.AddCommand(buildValidateCommand(opts))
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildJournalCommand())

	return rootCmd
}

func setupLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}

	hopts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(w, hopts)
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		return fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// loadScenario reads the scenario file and its route feed.
func loadScenario(path string) (*config.Config, []routes.Record, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	records, err := cfg.LoadRoutes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load routes: %w", err)
	}
	return cfg, records, nil
}

func buildValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario and its route feed without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, records, err := loadScenario(opts.configFile)
			if err != nil {
				return err
			}
			// building resolves every route against the countries
			sim, err := simulation.New(cfg, records, simulation.WithSeed(cfg.Simulation.Seed))
			if err != nil {
				return err
			}
			st := sim.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %s is valid: %d countries, %d routes, population %d\n",
				opts.configFile, len(st.Countries), len(records), st.Totals.Total())
			return nil
		},
	}
}

// printStatus writes one row per country followed by the global totals.
func printStatus(w io.Writer, st types.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "day %d\tflights %d\tpending %d\t\n", st.Day, st.FlightsFlown, st.PendingFlights)
	fmt.Fprintln(tw, "COUNTRY\tS\tE\tI\tH\tF\tR\tPOPULATION\t")
	for _, c := range st.Countries {
		printCountryRow(tw, c.Code, c.Counts, c.Population)
	}
	printCountryRow(tw, "TOTAL", st.Totals, st.Totals.Total())
	return tw.Flush()
}

func printCountryRow(w io.Writer, label string, c types.Counts, population int) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n", label, c.S, c.E, c.I, c.H, c.F, c.R, population)
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
