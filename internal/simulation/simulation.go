// ============================================================================
// epiflight Simulation - day-step driver
// ============================================================================
//
// Package: internal/simulation
// File: simulation.go
// Function: Owns the countries, the flight scheduler and the random streams,
//           and advances them one simulated day at a time.
//
// One day (Step):
//   1. Disease progression: every country in configuration order runs up to
//      TransitionsPerDay transitions; a country with nothing eligible stops early
//   2. Travel: the scheduler executes every flight due on or before today
//   3. Policy: every PolicyIntervalDays each country is evaluated and, above
//      the threshold, the periods of its routes are scaled
//   4. Observers (journal, metrics, trajectory recorder) are notified
//   5. The day counter advances; a checkpoint is written every interval
//
// Random streams:
//   "country/<CODE>" per country and "travel" for the scheduler, all derived
//   from one seed. A route with zero seats draws nothing from the country
//   streams, so adding one never changes a country's trajectory.
//
// Recovery:
//   Checkpoint() captures compartments, generator states, route periods and
//   the flight queue. Restore() on a Simulation built from the same scenario
//   continues bit-for-bit where the checkpoint left off.
//
// Concurrency:
//   Step holds the write lock for a whole day; Status and Checkpoint take the
//   read lock, so the HTTP and gRPC servers can poll a running simulation.
//
// ============================================================================

package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/epiflight/internal/checkpoint"
	"github.com/ChuLiYu/epiflight/internal/config"
	"github.com/ChuLiYu/epiflight/internal/country"
	"github.com/ChuLiYu/epiflight/internal/journal"
	"github.com/ChuLiYu/epiflight/internal/metrics"
	"github.com/ChuLiYu/epiflight/internal/randvar"
	"github.com/ChuLiYu/epiflight/internal/routes"
	"github.com/ChuLiYu/epiflight/internal/travel"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

var (
	// ErrScenarioMismatch is returned when a checkpoint does not fit the scenario.
	ErrScenarioMismatch = errors.New("checkpoint does not match scenario")
	// ErrInvariant is returned by CheckInvariants and by Step in paranoid mode.
	ErrInvariant = errors.New("simulation invariant violated")
)

// TravelStream labels the scheduler's random stream.
const TravelStream = "travel"

// CountryStream returns the label of a country's random stream.
func CountryStream(code string) string {
	return "country/" + code
}

// Observer is notified of everything that happens during a day.
type Observer interface {
	FlightExecuted(rec travel.FlightRecord)
	TravelReduced(r types.Reduction)
	DayCompleted(st types.Status)
}

// Simulation is one epidemic run.
type Simulation struct {
	mu sync.RWMutex

	runID             string
	seed              uint64
	day               int
	flightsFlown      int
	transitionsPerDay int
	policyInterval    int
	policy            country.Policy
	population        int // global population at construction

	countries []*country.Country
	byCode    map[string]*country.Country
	streams   map[string]*randvar.Stream
	sched     *travel.Scheduler

	observers       []Observer
	journal         *journal.Journal
	metrics         *metrics.Collector
	checkpoints     *checkpoint.Manager
	checkpointEvery int
	paranoid        bool
	seedSet         bool
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithSeed overrides the configured seed.
func WithSeed(seed uint64) Option {
	return func(s *Simulation) {
		s.seed = seed
		s.seedSet = true
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(s *Simulation) { s.observers = append(s.observers, o) }
}

// WithJournal records every event to j and references it from checkpoints.
func WithJournal(j *journal.Journal) Option {
	return func(s *Simulation) {
		s.journal = j
		s.observers = append(s.observers, j)
	}
}

// WithMetrics exports the run through c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Simulation) {
		s.metrics = c
		s.observers = append(s.observers, c)
	}
}

// WithCheckpoints writes a checkpoint through m every everyDays days.
func WithCheckpoints(m *checkpoint.Manager, everyDays int) Option {
	return func(s *Simulation) {
		s.checkpoints = m
		s.checkpointEvery = everyDays
	}
}

// WithParanoid checks every invariant after each day.
func WithParanoid(on bool) Option {
	return func(s *Simulation) { s.paranoid = on }
}

// New builds the countries and the route network of cfg. records are the
// resolved route feed, usually cfg.LoadRoutes().
func New(cfg *config.Config, records []routes.Record, opts ...Option) (*Simulation, error) {
	s := &Simulation{
		runID:             uuid.NewString(),
		seed:              cfg.Simulation.Seed,
		transitionsPerDay: cfg.Simulation.TransitionsPerDay,
		policyInterval:    cfg.Simulation.PolicyIntervalDays,
		policy:            cfg.Policy.CountryPolicy(),
		byCode:            make(map[string]*country.Country, len(cfg.Countries)),
		streams:           make(map[string]*randvar.Stream, len(cfg.Countries)+1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.seedSet && s.seed == 0 {
		s.seed = randvar.RandomSeed()
		slog.Info("No seed configured, picked one", "seed", s.seed)
	}
	if s.policyInterval < 1 {
		s.policyInterval = 1
	}

	for _, cc := range cfg.Countries {
		if _, dup := s.byCode[cc.Code]; dup {
			return nil, fmt.Errorf("country code %q listed twice: %w", cc.Code, ErrScenarioMismatch)
		}
		stream := randvar.NewStream(s.seed, CountryStream(cc.Code))
		c, err := country.New(cc.Params(), stream)
		if err != nil {
			return nil, fmt.Errorf("failed to create country: %w", err)
		}
		s.countries = append(s.countries, c)
		s.byCode[c.Code()] = c
		s.streams[stream.Label()] = stream
		s.population += c.Population()
	}

	network, err := routes.Resolve(records, s.countries)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve routes: %w", err)
	}

	travelStream := randvar.NewStream(s.seed, TravelStream)
	s.streams[travelStream.Label()] = travelStream
	s.sched = travel.NewScheduler(travelStream, travel.Options{
		MaxFlightDelay:    cfg.Simulation.MaxFlightDelay,
		MaxSameDayRepeats: cfg.Simulation.MaxSameDayRepeats,
	})
	if err := s.sched.Initialize(network); err != nil {
		return nil, fmt.Errorf("failed to schedule routes: %w", err)
	}

	slog.Debug("Simulation created",
		"run_id", s.runID,
		"seed", s.seed,
		"countries", len(s.countries),
		"routes", len(network))
	return s, nil
}

// Step advances the simulation by one day.
func (s *Simulation) Step() error {
	start := time.Now()

	s.mu.Lock()
	today := s.day

	for _, c := range s.countries {
		for i := 0; i < s.transitionsPerDay; i++ {
			if _, ok := c.Transition(); !ok {
				break
			}
		}
	}

	flights := s.sched.ExecuteDue(today)
	s.flightsFlown += len(flights)

	var reductions []types.Reduction
	if (today+1)%s.policyInterval == 0 {
		for _, c := range s.countries {
			factor, ok := c.TravelReduction(s.policy)
			if !ok {
				continue
			}
			n := s.sched.ApplyReduction(c.Code(), factor)
			reductions = append(reductions, types.Reduction{
				Day:        today,
				Country:    c.Code(),
				Infectious: c.Size(types.Infectious),
				Factor:     factor,
				Routes:     n,
			})
		}
	}

	s.day++

	if s.paranoid {
		if err := s.checkInvariantsLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	st := s.statusLocked()
	s.mu.Unlock()

	for _, o := range s.observers {
		for _, rec := range flights {
			o.FlightExecuted(rec)
		}
		for _, r := range reductions {
			o.TravelReduced(r)
		}
		o.DayCompleted(st)
	}
	for _, r := range reductions {
		slog.Info("Travel reduced", "day", r.Day, "country", r.Country, "infectious", r.Infectious, "factor", r.Factor)
	}

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveStepDuration(elapsed)
	}
	slog.Debug("Day completed",
		"day", today,
		"flights", len(flights),
		"infectious", st.Totals.I,
		"duration", elapsed)

	if s.checkpoints != nil && s.checkpointEvery > 0 && st.Day%s.checkpointEvery == 0 {
		if _, err := s.WriteCheckpoint(); err != nil {
			slog.Error("Failed to write checkpoint", "day", st.Day, "error", err)
		}
	}
	return nil
}

// Run advances days days, stopping early when ctx is done.
func (s *Simulation) Run(ctx context.Context, days int) error {
	start := time.Now()
	first := s.Day()
	for i := 0; i < days; i++ {
		if err := ctx.Err(); err != nil {
			slog.Info("Run interrupted", "run_id", s.RunID(), "day", s.Day())
			return err
		}
		if err := s.Step(); err != nil {
			return fmt.Errorf("day %d: %w", first+i, err)
		}
	}
	slog.Debug("Run finished", "run_id", s.RunID(), "days", days, "duration", time.Since(start))
	return nil
}

// Status returns a read-only view of every country.
func (s *Simulation) Status() types.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Simulation) statusLocked() types.Status {
	st := types.Status{
		RunID:          s.runID,
		Day:            s.day,
		PendingFlights: s.sched.Pending(),
		FlightsFlown:   s.flightsFlown,
		Countries:      make([]types.CountryStatus, 0, len(s.countries)),
	}
	for _, c := range s.countries {
		cs := c.Status()
		st.Totals = st.Totals.Add(cs.Counts)
		st.Countries = append(st.Countries, cs)
	}
	return st
}

// CountryStatus returns one country's view.
func (s *Simulation) CountryStatus(code string) (types.CountryStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byCode[code]
	if !ok {
		return types.CountryStatus{}, false
	}
	return c.Status(), true
}

// Day returns the number of completed days.
func (s *Simulation) Day() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.day
}

// RunID identifies the run across checkpoints and journal entries.
func (s *Simulation) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// Seed returns the seed every stream was derived from.
func (s *Simulation) Seed() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seed
}

// CheckInvariants verifies population conservation, compartment exclusivity
// and the scheduler queue.
func (s *Simulation) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkInvariantsLocked()
}

func (s *Simulation) checkInvariantsLocked() error {
	total := 0
	seen := make(map[*country.Individual]string)
	for _, c := range s.countries {
		if err := c.CheckInvariants(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}
		total += c.Population()
		for _, st := range types.Stages[1:] {
			for _, ind := range c.Members(st) {
				if other, dup := seen[ind]; dup {
					return fmt.Errorf("%w: individual held by %s and %s", ErrInvariant, other, c.Code())
				}
				seen[ind] = c.Code()
			}
		}
	}
	if total != s.population {
		return fmt.Errorf("%w: global population %d, started with %d", ErrInvariant, total, s.population)
	}
	if s.day > 0 {
		if err := s.sched.CheckInvariants(s.day - 1); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}
	}
	return nil
}
