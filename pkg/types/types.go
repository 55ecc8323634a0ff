// Package types defines the domain model shared across epiflight: disease stages,
// compartment counts, read-only status views and the checkpoint schema.
package types

import (
	"fmt"
	"strings"
)

// Stage is a disease compartment.
type Stage int

// Compartments in progression order.
const (
	Susceptible  Stage = iota // tracked as a count only, never as Individual records
	Exposed                   // infected, not yet infectious
	Infectious                // able to infect others
	Hospitalized              // under care
	Fatal                     // died of the disease, awaiting burial
	Recovered                 // immune
)

// Stages lists every compartment in progression order.
var Stages = []Stage{Susceptible, Exposed, Infectious, Hospitalized, Fatal, Recovered}

var stageNames = [...]string{"S", "E", "I", "H", "F", "R"}

var stageLongNames = [...]string{"susceptible", "exposed", "infectious", "hospitalized", "fatal", "recovered"}

// String returns the one-letter compartment symbol.
func (s Stage) String() string {
	if s < Susceptible || s > Recovered {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Name returns the lower-case compartment name, used for metric labels and CSV headers.
func (s Stage) Name() string {
	if s < Susceptible || s > Recovered {
		return s.String()
	}
	return stageLongNames[s]
}

// ParseStage accepts either the symbol ("E") or the name ("exposed").
func ParseStage(v string) (Stage, error) {
	for _, st := range Stages {
		if strings.EqualFold(v, stageNames[st]) || strings.EqualFold(v, stageLongNames[st]) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown disease stage %q", v)
}

// Counts holds the size of every compartment of one population.
type Counts struct {
	S int `json:"s"`
	E int `json:"e"`
	I int `json:"i"`
	H int `json:"h"`
	F int `json:"f"`
	R int `json:"r"`
}

// Get returns the size of one compartment.
func (c Counts) Get(st Stage) int {
	switch st {
	case Susceptible:
		return c.S
	case Exposed:
		return c.E
	case Infectious:
		return c.I
	case Hospitalized:
		return c.H
	case Fatal:
		return c.F
	case Recovered:
		return c.R
	}
	return 0
}

// Total sums every compartment.
func (c Counts) Total() int {
	return c.S + c.E + c.I + c.H + c.F + c.R
}

// Add returns the element-wise sum of two counts.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		S: c.S + o.S,
		E: c.E + o.E,
		I: c.I + o.I,
		H: c.H + o.H,
		F: c.F + o.F,
		R: c.R + o.R,
	}
}

// CountryStatus is a read-only view of one country.
type CountryStatus struct {
	Name       string `json:"name"`
	Code       string `json:"code"`
	Population int    `json:"population"`
	Counts     Counts `json:"counts"`
}

// Status is a read-only view of a whole simulation after Day completed days.
type Status struct {
	RunID          string          `json:"run_id"`
	Day            int             `json:"day"`
	PendingFlights int             `json:"pending_flights"`
	FlightsFlown   int             `json:"flights_flown"`
	Totals         Counts          `json:"totals"`
	Countries      []CountryStatus `json:"countries"`
}

// Country looks a country up by code.
func (s Status) Country(code string) (CountryStatus, bool) {
	for _, c := range s.Countries {
		if c.Code == code {
			return c, true
		}
	}
	return CountryStatus{}, false
}

// Reduction records one application of the travel-reduction policy.
type Reduction struct {
	Day        int     `json:"day"`
	Country    string  `json:"country"`
	Infectious int     `json:"infectious"`
	Factor     float64 `json:"factor"`
	Routes     int     `json:"routes"` // routes whose period was scaled
}

// ============================================================================
// Checkpoint schema
// ============================================================================

// SchemaVersion is the checkpoint format version written by this build.
const SchemaVersion = 1

// CountrySnapshot captures one country's population.
type CountrySnapshot struct {
	Code       string `json:"code"`
	Population int    `json:"population"`
	Counts     Counts `json:"counts"`
}

// RouteSnapshot captures the mutable part of a route.
type RouteSnapshot struct {
	ID         int     `json:"id"`
	PeriodMean float64 `json:"period_mean"`
	PeriodStd  float64 `json:"period_std"`
}

// FlightSnapshot is one pending flight in the queue.
type FlightSnapshot struct {
	Day   int    `json:"day"`
	Route int    `json:"route"`
	Seq   uint64 `json:"seq"`
}

// SnapshotData is everything needed to resume a run bit-for-bit.
type SnapshotData struct {
	SchemaVer    int               `json:"schema_ver"`
	RunID        string            `json:"run_id"`
	Seed         uint64            `json:"seed"`
	Day          int               `json:"day"`
	FlightsFlown int               `json:"flights_flown"`
	Streams      map[string][]byte `json:"streams"` // generator state per stream label
	Countries    []CountrySnapshot `json:"countries"`
	Routes       []RouteSnapshot   `json:"routes"`
	Flights      []FlightSnapshot  `json:"flights"`
	NextSeq      uint64            `json:"next_seq"`
	JournalSeq   uint64            `json:"journal_seq"`
}
