// ============================================================================
// epiflight Country - compartment state machine
// ============================================================================
//
// Package: internal/country
// File: country.go
// Purpose: Owns one country's population split into disease compartments and
//          the operations that move people between them.
//
// Data layout:
//   susceptible int              - S is a count only
//   exposed/infectious/...       - E, I, H, F, R hold *Individual records
//   population int               - aggregate, adjusted by migration
//
//   Every Individual sits in exactly one collection and its Stage matches
//   that collection. Every mutation removes before it appends, so an
//   Individual is never held twice.
//
// State transitions (see transition.go):
//   S -> E -> I -> {H, F, R}
//             H -> {F, R}
//             F -> R
//
// Migration (see migrate.go):
//   EmbarkExposed / DisembarkExposed move Individuals between countries;
//   EmbarkSusceptible / DisembarkSusceptible move anonymous S counts.
//
// Concurrency:
//   A Country is not safe for concurrent use. The simulation serialises all
//   mutations behind its own lock, one day-step at a time.
//
// ============================================================================

package country

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/epiflight/internal/randvar"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

var (
	// ErrInvalidPopulation is returned for a non-positive population.
	ErrInvalidPopulation = errors.New("population must be positive")
	// ErrNegativeRate is returned when any transition rate is below zero.
	ErrNegativeRate = errors.New("transition rate must not be negative")
	// ErrInvalidSeed is returned when the infectious seed does not fit the population.
	ErrInvalidSeed = errors.New("initial infectious count out of range")
	// ErrInvariant reports a broken population or membership invariant.
	ErrInvariant = errors.New("country invariant violated")
	// ErrMissingIdentity is returned when name or code is empty.
	ErrMissingIdentity = errors.New("country name and code are required")
)

// Individual is one non-susceptible person.
type Individual struct {
	Stage    types.Stage
	Location string // code of the country currently holding this individual
}

// Rates are the relative weights of the eight transitions.
type Rates struct {
	SE float64
	EI float64
	IH float64
	IF float64
	IR float64
	HF float64
	HR float64
	FR float64
}

func (r Rates) validate() error {
	for _, v := range []float64{r.SE, r.EI, r.IH, r.IF, r.IR, r.HF, r.HR, r.FR} {
		if v < 0 {
			return ErrNegativeRate
		}
	}
	return nil
}

// Params describe a country at initialization.
type Params struct {
	Name              string
	Code              string
	Population        int
	InitialInfectious int
	Rates             Rates
}

// Country owns its compartments and its transition rates.
type Country struct {
	name       string
	code       string
	population int
	rates      Rates
	rng        randvar.Provider

	susceptible  int
	exposed      []*Individual
	infectious   []*Individual
	hospitalized []*Individual
	fatal        []*Individual
	recovered    []*Individual
}

// New creates a country whose InitialInfectious people start in I and
// everyone else in S.
func New(p Params, rng randvar.Provider) (*Country, error) {
	if p.Name == "" || p.Code == "" {
		return nil, ErrMissingIdentity
	}
	if p.Population <= 0 {
		return nil, fmt.Errorf("%s: %w", p.Code, ErrInvalidPopulation)
	}
	if err := p.Rates.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", p.Code, err)
	}
	if p.InitialInfectious < 0 || p.InitialInfectious > p.Population {
		return nil, fmt.Errorf("%s: %w: %d of %d", p.Code, ErrInvalidSeed, p.InitialInfectious, p.Population)
	}

	c := &Country{
		name:       p.Name,
		code:       p.Code,
		population: p.Population,
		rates:      p.Rates,
		rng:        rng,
	}
	c.susceptible = p.Population - p.InitialInfectious
	c.infectious = c.spawn(types.Infectious, p.InitialInfectious)
	return c, nil
}

// Restore replaces the compartments with fresh Individuals matching snap.
// Members of a compartment are interchangeable, so counts are enough.
func (c *Country) Restore(snap types.CountrySnapshot) error {
	if snap.Code != c.code {
		return fmt.Errorf("restore %s from snapshot of %s: %w", c.code, snap.Code, ErrInvariant)
	}
	if snap.Counts.Total() != snap.Population {
		return fmt.Errorf("restore %s: counts sum to %d, population %d: %w",
			c.code, snap.Counts.Total(), snap.Population, ErrInvariant)
	}

	c.population = snap.Population
	c.susceptible = snap.Counts.S
	c.exposed = c.spawn(types.Exposed, snap.Counts.E)
	c.infectious = c.spawn(types.Infectious, snap.Counts.I)
	c.hospitalized = c.spawn(types.Hospitalized, snap.Counts.H)
	c.fatal = c.spawn(types.Fatal, snap.Counts.F)
	c.recovered = c.spawn(types.Recovered, snap.Counts.R)
	return nil
}

func (c *Country) spawn(st types.Stage, n int) []*Individual {
	out := make([]*Individual, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &Individual{Stage: st, Location: c.code})
	}
	return out
}

// Name returns the display name.
func (c *Country) Name() string { return c.name }

// Code returns the unique country code.
func (c *Country) Code() string { return c.code }

// Population returns the aggregate population.
func (c *Country) Population() int { return c.population }

// Rates returns the configured transition rates.
func (c *Country) Rates() Rates { return c.rates }

// Susceptible returns the S count.
func (c *Country) Susceptible() int { return c.susceptible }

// Size returns the size of one compartment.
func (c *Country) Size(st types.Stage) int {
	if st == types.Susceptible {
		return c.susceptible
	}
	if bucket := c.bucket(st); bucket != nil {
		return len(*bucket)
	}
	return 0
}

// Members returns a copy of one compartment's Individuals. Susceptible has none.
func (c *Country) Members(st types.Stage) []*Individual {
	bucket := c.bucket(st)
	if bucket == nil {
		return nil
	}
	out := make([]*Individual, len(*bucket))
	copy(out, *bucket)
	return out
}

// Counts returns every compartment size.
func (c *Country) Counts() types.Counts {
	return types.Counts{
		S: c.susceptible,
		E: len(c.exposed),
		I: len(c.infectious),
		H: len(c.hospitalized),
		F: len(c.fatal),
		R: len(c.recovered),
	}
}

// Status returns a read-only view.
func (c *Country) Status() types.CountryStatus {
	return types.CountryStatus{
		Name:       c.name,
		Code:       c.code,
		Population: c.population,
		Counts:     c.Counts(),
	}
}

// Snapshot captures the population for a checkpoint.
func (c *Country) Snapshot() types.CountrySnapshot {
	return types.CountrySnapshot{
		Code:       c.code,
		Population: c.population,
		Counts:     c.Counts(),
	}
}

// CheckInvariants verifies population conservation and compartment exclusivity.
func (c *Country) CheckInvariants() error {
	if c.susceptible < 0 {
		return fmt.Errorf("%s: negative susceptible count %d: %w", c.code, c.susceptible, ErrInvariant)
	}
	if sum := c.Counts().Total(); sum != c.population {
		return fmt.Errorf("%s: compartments sum to %d, population %d: %w", c.code, sum, c.population, ErrInvariant)
	}

	seen := make(map[*Individual]types.Stage)
	for _, st := range types.Stages[1:] {
		for _, ind := range *c.bucket(st) {
			if prev, dup := seen[ind]; dup {
				return fmt.Errorf("%s: individual held by %s and %s: %w", c.code, prev, st, ErrInvariant)
			}
			seen[ind] = st
			if ind.Stage != st {
				return fmt.Errorf("%s: individual with stage %s held in %s: %w", c.code, ind.Stage, st, ErrInvariant)
			}
			if ind.Location != c.code {
				return fmt.Errorf("%s: individual located in %s: %w", c.code, ind.Location, ErrInvariant)
			}
		}
	}
	return nil
}

func (c *Country) bucket(st types.Stage) *[]*Individual {
	switch st {
	case types.Exposed:
		return &c.exposed
	case types.Infectious:
		return &c.infectious
	case types.Hospitalized:
		return &c.hospitalized
	case types.Fatal:
		return &c.fatal
	case types.Recovered:
		return &c.recovered
	}
	return nil
}

// pop removes the last Individual of a non-empty compartment.
func (c *Country) pop(st types.Stage) *Individual {
	bucket := c.bucket(st)
	n := len(*bucket)
	ind := (*bucket)[n-1]
	(*bucket)[n-1] = nil
	*bucket = (*bucket)[:n-1]
	return ind
}

func (c *Country) push(st types.Stage, ind *Individual) {
	ind.Stage = st
	bucket := c.bucket(st)
	*bucket = append(*bucket, ind)
}
