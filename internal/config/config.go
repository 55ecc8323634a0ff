// ============================================================================
// epiflight configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Loads a scenario from YAML, applies EPIFLIGHT_* environment
//          overrides and validates the result.
//
// Load order:
//   1. YAML file (default configs/default.yaml)
//   2. Defaults for every zero-valued tunable
//   3. Environment overrides, e.g. EPIFLIGHT_SIMULATION_DAYS=365
//   4. Struct validation (go-playground/validator) plus cross-field checks
//
// Countries and routes come only from YAML and the route feed; the
// environment can override scalars, not lists.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/epiflight/internal/country"
	"github.com/ChuLiYu/epiflight/internal/routes"
	"github.com/ChuLiYu/epiflight/internal/travel"
	"github.com/ChuLiYu/epiflight/internal/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EPIFLIGHT_"

// Config is a complete scenario.
type Config struct {
	Simulation struct {
		Days               int    `yaml:"days" env:"DAYS" validate:"gte=0"`
		TransitionsPerDay  int    `yaml:"transitions_per_day" env:"TRANSITIONS_PER_DAY" validate:"gte=0"`
		Seed               uint64 `yaml:"seed" env:"SEED"`
		PolicyIntervalDays int    `yaml:"policy_interval_days" env:"POLICY_INTERVAL_DAYS" validate:"gte=1"`
		MaxSameDayRepeats  int    `yaml:"max_same_day_repeats" env:"MAX_SAME_DAY_REPEATS" validate:"gte=1"`
		MaxFlightDelay     int    `yaml:"max_flight_delay" env:"MAX_FLIGHT_DELAY" validate:"gte=1"`
	} `yaml:"simulation" envPrefix:"SIMULATION_"`

	Policy Policy `yaml:"policy" envPrefix:"POLICY_"`

	Countries []Country `yaml:"countries" validate:"required,min=1,unique=Name,unique=Code,dive"`

	RoutesFile string          `yaml:"routes_file" env:"ROUTES_FILE"`
	Routes     []routes.Record `yaml:"routes" validate:"dive"`

	Journal struct {
		Enabled         bool   `yaml:"enabled" env:"ENABLED"`
		Dir             string `yaml:"dir" env:"DIR" validate:"required_if=Enabled true"`
		BufferSize      int    `yaml:"buffer_size" env:"BUFFER_SIZE" validate:"gte=0"`
		FlushIntervalMs int    `yaml:"flush_interval_ms" env:"FLUSH_INTERVAL_MS" validate:"gte=0"`
	} `yaml:"journal" envPrefix:"JOURNAL_"`

	Checkpoint struct {
		Enabled      bool   `yaml:"enabled" env:"ENABLED"`
		Dir          string `yaml:"dir" env:"DIR" validate:"required_if=Enabled true"`
		IntervalDays int    `yaml:"interval_days" env:"INTERVAL_DAYS" validate:"gte=0"`
	} `yaml:"checkpoint" envPrefix:"CHECKPOINT_"`

	Report struct {
		CSV   string `yaml:"csv" env:"CSV"`
		Chart string `yaml:"chart" env:"CHART"`
	} `yaml:"report" envPrefix:"REPORT_"`

	Metrics struct {
		Enabled bool `yaml:"enabled" env:"ENABLED"`
		Port    int  `yaml:"port" env:"PORT" validate:"gte=0,lte=65535"`
	} `yaml:"metrics" envPrefix:"METRICS_"`

	Server struct {
		Enabled  bool `yaml:"enabled" env:"ENABLED"`
		GRPCPort int  `yaml:"grpc_port" env:"GRPC_PORT" validate:"gte=0,lte=65535"`
	} `yaml:"server" envPrefix:"SERVER_"`

	Ensemble struct {
		Replicates int           `yaml:"replicates" env:"REPLICATES" validate:"gte=0"`
		Workers    int           `yaml:"workers" env:"WORKERS" validate:"gte=0"`
		Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
	} `yaml:"ensemble" envPrefix:"ENSEMBLE_"`
}

// Policy holds the travel-reduction coefficients.
type Policy struct {
	Threshold      int     `yaml:"threshold" env:"THRESHOLD" validate:"gte=0"`
	Reduction0     float64 `yaml:"reduction_0" env:"REDUCTION_0"`
	ReductionSlope float64 `yaml:"reduction_slope" env:"REDUCTION_SLOPE"`
}

// Country configures one country.
type Country struct {
	Name              string `yaml:"name" validate:"required"`
	Code              string `yaml:"code" validate:"required,alphanum"`
	Population        int    `yaml:"population" validate:"gt=0"`
	InitialInfectious int    `yaml:"initial_infectious" validate:"gte=0,ltefield=Population"`
	Rates             Rates  `yaml:"rates"`
}

// Rates are the eight relative transition rates.
type Rates struct {
	SE float64 `yaml:"s_e" validate:"gte=0"`
	EI float64 `yaml:"e_i" validate:"gte=0"`
	IH float64 `yaml:"i_h" validate:"gte=0"`
	IF float64 `yaml:"i_f" validate:"gte=0"`
	IR float64 `yaml:"i_r" validate:"gte=0"`
	HF float64 `yaml:"h_f" validate:"gte=0"`
	HR float64 `yaml:"h_r" validate:"gte=0"`
	FR float64 `yaml:"f_r" validate:"gte=0"`
}

// Params converts the entry to country construction parameters.
func (c Country) Params() country.Params {
	return country.Params{
		Name:              c.Name,
		Code:              c.Code,
		Population:        c.Population,
		InitialInfectious: c.InitialInfectious,
		Rates: country.Rates{
			SE: c.Rates.SE,
			EI: c.Rates.EI,
			IH: c.Rates.IH,
			IF: c.Rates.IF,
			IR: c.Rates.IR,
			HF: c.Rates.HF,
			HR: c.Rates.HR,
			FR: c.Rates.FR,
		},
	}
}

// CountryPolicy converts to the country package's policy.
func (p Policy) CountryPolicy() country.Policy {
	return country.Policy{
		Threshold:      p.Threshold,
		Reduction0:     p.Reduction0,
		ReductionSlope: p.ReductionSlope,
	}
}

// JournalFlushInterval returns the journal flush interval.
func (c *Config) JournalFlushInterval() time.Duration {
	return time.Duration(c.Journal.FlushIntervalMs) * time.Millisecond
}

// Load reads, defaults, overrides and validates a scenario file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes, then applies defaults, the environment and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		aggErr := env.AggregateError{}
		if errors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			return nil, fmt.Errorf("failed to apply environment: %w", aggErr.Errors[0])
		}
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default values for tunables left at zero.
const (
	DefaultDays               = 365
	DefaultTransitionsPerDay  = 100
	DefaultPolicyIntervalDays = 1
	DefaultBufferSize         = 100
	DefaultFlushIntervalMs    = 50
	DefaultCheckpointDays     = 30
	DefaultMetricsPort        = 9090
	DefaultGRPCPort           = 50051
	DefaultReplicates         = 10
)

func (c *Config) applyDefaults() {
	if c.Simulation.Days == 0 {
		c.Simulation.Days = DefaultDays
	}
	if c.Simulation.TransitionsPerDay == 0 {
		c.Simulation.TransitionsPerDay = DefaultTransitionsPerDay
	}
	if c.Simulation.PolicyIntervalDays == 0 {
		c.Simulation.PolicyIntervalDays = DefaultPolicyIntervalDays
	}
	if c.Simulation.MaxSameDayRepeats == 0 {
		c.Simulation.MaxSameDayRepeats = travel.DefaultMaxSameDayRepeats
	}
	if c.Simulation.MaxFlightDelay == 0 {
		c.Simulation.MaxFlightDelay = travel.DefaultMaxFlightDelay
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	if c.Journal.FlushIntervalMs == 0 {
		c.Journal.FlushIntervalMs = DefaultFlushIntervalMs
	}
	if c.Checkpoint.IntervalDays == 0 {
		c.Checkpoint.IntervalDays = DefaultCheckpointDays
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = DefaultGRPCPort
	}
	if c.Ensemble.Replicates == 0 {
		c.Ensemble.Replicates = DefaultReplicates
	}
}

// Validate checks struct tags, then the route list.
func (c *Config) Validate() error {
	v, err := validation.New()
	if err != nil {
		return fmt.Errorf("failed to build validator: %w", err)
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadRoutes returns the route feed followed by the inline routes.
func (c *Config) LoadRoutes() ([]routes.Record, error) {
	var out []routes.Record
	if c.RoutesFile != "" {
		recs, err := routes.LoadCSV(c.RoutesFile)
		if err != nil {
			return nil, err
		}
		v, err := validation.New()
		if err != nil {
			return nil, err
		}
		if err := routes.Validate(v, recs); err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	out = append(out, c.Routes...)
	return out, nil
}
