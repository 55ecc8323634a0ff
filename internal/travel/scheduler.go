// ============================================================================
// epiflight Travel Scheduler - discrete-event flight engine
// ============================================================================
//
// Package: internal/travel
// File: scheduler.go
// Purpose: Keeps one pending flight per route in a day-ordered queue, runs the
//          flights that fall due and moves travellers between countries.
//
// Queue discipline:
//   (day, seq) min-heap. seq is a per-scheduler counter, so two flights on the
//   same day leave in the order they were queued. Every executed flight
//   re-queues its route, so the queue always holds exactly len(routes) items.
//
// Delays:
//   delta = trunc(|Normal(PeriodMean, PeriodStd)|), clamped to MaxFlightDelay.
//   A zero delta is a same-day repeat. After MaxSameDayRepeats zero-delay
//   reschedules of one route on one day the next delta is forced to 1, which
//   bounds ExecuteDue.
//
// Migration per flight (origin o, destination d):
//   p     = E_o / (E_o + S_o), 0 when both are empty
//   moved = min(sum of Seats Poisson(p) draws, Seats, E_o)
//   m     = min(Seats - moved, S_o) susceptible travellers
//   populations change by moved + m on each side
//
// Concurrency:
//   Not safe for concurrent use; owned by one simulation.
//
// ============================================================================

package travel

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/ChuLiYu/epiflight/internal/randvar"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

const (
	// DefaultMaxFlightDelay caps a single inter-flight delay, in days.
	DefaultMaxFlightDelay = 1 << 20
	// DefaultMaxSameDayRepeats caps zero-delay reschedules of a route per day.
	DefaultMaxSameDayRepeats = 32
)

// Options tune the scheduler's safety bounds.
type Options struct {
	MaxFlightDelay    int
	MaxSameDayRepeats int
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{
		MaxFlightDelay:    DefaultMaxFlightDelay,
		MaxSameDayRepeats: DefaultMaxSameDayRepeats,
	}
}

// FlightRecord describes one executed flight.
type FlightRecord struct {
	Day         int    `json:"day"`
	RouteID     int    `json:"route"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Seats       int    `json:"seats"`
	Exposed     int    `json:"exposed"`     // Exposed individuals moved
	Susceptible int    `json:"susceptible"` // susceptible travellers moved
}

// Travellers returns the number of people moved.
func (f FlightRecord) Travellers() int {
	return f.Exposed + f.Susceptible
}

// Scheduler owns the flight queue and the route registry.
type Scheduler struct {
	rng    randvar.Provider
	opts   Options
	routes []*Route
	byID   map[int]*Route
	queue  flightQueue
	seq    uint64

	repeatDay int
	repeats   map[int]int // route ID -> zero-delay reschedules on repeatDay
}

// NewScheduler creates an empty scheduler drawing delays and seat counts from rng.
func NewScheduler(rng randvar.Provider, opts Options) *Scheduler {
	if opts.MaxFlightDelay <= 0 {
		opts.MaxFlightDelay = DefaultMaxFlightDelay
	}
	if opts.MaxSameDayRepeats <= 0 {
		opts.MaxSameDayRepeats = DefaultMaxSameDayRepeats
	}
	return &Scheduler{
		rng:     rng,
		opts:    opts,
		byID:    make(map[int]*Route),
		repeats: make(map[int]int),
	}
}

// Initialize replaces the route registry and queues every route's first
// flight from day 0.
func (s *Scheduler) Initialize(routes []*Route) error {
	byID := make(map[int]*Route, len(routes))
	for _, r := range routes {
		if r == nil {
			return fmt.Errorf("nil route: %w", ErrInvalidRoute)
		}
		if _, dup := byID[r.ID]; dup {
			return fmt.Errorf("route %d: %w", r.ID, ErrDuplicateRoute)
		}
		byID[r.ID] = r
	}

	s.routes = append([]*Route(nil), routes...)
	s.byID = byID
	s.queue = s.queue[:0]
	s.seq = 0
	s.repeatDay = 0
	clear(s.repeats)

	for _, r := range s.routes {
		s.ScheduleNext(r, 0)
	}
	return nil
}

// ScheduleNext queues the route's next flight at day + delta.
func (s *Scheduler) ScheduleNext(r *Route, day int) {
	delta := s.drawDelay(r)

	if day != s.repeatDay {
		s.repeatDay = day
		clear(s.repeats)
	}
	if delta == 0 {
		s.repeats[r.ID]++
		if s.repeats[r.ID] > s.opts.MaxSameDayRepeats {
			delta = 1
		}
	}

	s.push(day+delta, r)
}

func (s *Scheduler) drawDelay(r *Route) int {
	v := math.Abs(s.rng.Normal(r.PeriodMean, r.PeriodStd))
	limit := float64(s.opts.MaxFlightDelay)
	if math.IsNaN(v) || v >= limit {
		return s.opts.MaxFlightDelay
	}
	return int(v)
}

func (s *Scheduler) push(day int, r *Route) {
	heap.Push(&s.queue, &flight{day: day, seq: s.seq, route: r})
	s.seq++
}

// ApplyReduction scales PeriodMean of every route touching the country and
// returns how many routes changed. Reductions compound.
func (s *Scheduler) ApplyReduction(code string, factor float64) int {
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return 0
	}
	n := 0
	for _, r := range s.routes {
		if r.Touches(code) {
			r.PeriodMean = factor * r.PeriodMean
			n++
		}
	}
	return n
}

// ExecuteDue runs every flight scheduled on or before today, including
// same-day repeats queued while executing.
func (s *Scheduler) ExecuteDue(today int) []FlightRecord {
	var records []FlightRecord
	for {
		next := s.queue.peek()
		if next == nil || next.day > today {
			break
		}
		f := heap.Pop(&s.queue).(*flight)
		records = append(records, s.fly(f.route, today))
		s.ScheduleNext(f.route, today)
	}
	return records
}

func (s *Scheduler) fly(r *Route, today int) FlightRecord {
	o, d := r.Origin, r.Destination
	rec := FlightRecord{
		Day:         today,
		RouteID:     r.ID,
		Origin:      o.Code(),
		Destination: d.Code(),
		Seats:       r.Seats,
	}
	if r.Seats <= 0 {
		return rec
	}

	exposed := o.Size(types.Exposed)
	susceptible := o.Susceptible()
	p := 0.0
	if exposed+susceptible > 0 {
		p = float64(exposed) / float64(exposed+susceptible)
	}

	drawn := 0
	if exposed > 0 {
		for _, v := range s.rng.Poisson(p, r.Seats) {
			drawn += v
		}
	}
	moved := min(drawn, r.Seats, exposed)
	if moved > 0 {
		d.DisembarkExposed(o.EmbarkExposed(moved))
	}

	m := o.EmbarkSusceptible(r.Seats - moved)
	d.DisembarkSusceptible(m)

	rec.Exposed = moved
	rec.Susceptible = m
	return rec
}

// Pending returns the number of queued flights.
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// NextDay returns the day of the earliest pending flight.
func (s *Scheduler) NextDay() (int, bool) {
	f := s.queue.peek()
	if f == nil {
		return 0, false
	}
	return f.day, true
}

// Routes returns the registered routes in registration order.
func (s *Scheduler) Routes() []*Route {
	return append([]*Route(nil), s.routes...)
}

// Route looks a route up by ID.
func (s *Scheduler) Route(id int) (*Route, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// CheckInvariants verifies one pending flight per route, none due on or before today.
func (s *Scheduler) CheckInvariants(today int) error {
	if len(s.queue) != len(s.routes) {
		return fmt.Errorf("%d pending flights for %d routes: %w", len(s.queue), len(s.routes), ErrCorruptQueue)
	}
	seen := make(map[int]bool, len(s.queue))
	for _, f := range s.queue {
		if seen[f.route.ID] {
			return fmt.Errorf("route %d queued twice: %w", f.route.ID, ErrCorruptQueue)
		}
		seen[f.route.ID] = true
		if f.day <= today {
			return fmt.Errorf("route %d still due on day %d: %w", f.route.ID, f.day, ErrCorruptQueue)
		}
	}
	return nil
}

// Snapshot captures route periods, the queue and the sequence counter.
func (s *Scheduler) Snapshot() ([]types.RouteSnapshot, []types.FlightSnapshot, uint64) {
	routes := make([]types.RouteSnapshot, 0, len(s.routes))
	for _, r := range s.routes {
		routes = append(routes, types.RouteSnapshot{
			ID:         r.ID,
			PeriodMean: r.PeriodMean,
			PeriodStd:  r.PeriodStd,
		})
	}
	flights := make([]types.FlightSnapshot, 0, len(s.queue))
	for _, f := range s.queue {
		flights = append(flights, types.FlightSnapshot{Day: f.day, Route: f.route.ID, Seq: f.seq})
	}
	return routes, flights, s.seq
}

// Restore rebuilds route periods and the queue from a snapshot taken on a
// scheduler initialized with the same routes.
func (s *Scheduler) Restore(routes []types.RouteSnapshot, flights []types.FlightSnapshot, nextSeq uint64) error {
	if len(routes) != len(s.routes) || len(flights) != len(s.routes) {
		return fmt.Errorf("snapshot has %d routes and %d flights, scheduler has %d routes: %w",
			len(routes), len(flights), len(s.routes), ErrCorruptQueue)
	}
	for _, rs := range routes {
		if _, ok := s.byID[rs.ID]; !ok {
			return fmt.Errorf("unknown route %d: %w", rs.ID, ErrCorruptQueue)
		}
	}

	queue := make(flightQueue, 0, len(flights))
	seen := make(map[int]bool, len(flights))
	for _, fs := range flights {
		r, ok := s.byID[fs.Route]
		if !ok || seen[fs.Route] {
			return fmt.Errorf("flight for route %d: %w", fs.Route, ErrCorruptQueue)
		}
		seen[fs.Route] = true
		queue = append(queue, &flight{day: fs.Day, seq: fs.Seq, route: r})
	}

	for _, rs := range routes {
		r := s.byID[rs.ID]
		r.PeriodMean = rs.PeriodMean
		r.PeriodStd = rs.PeriodStd
	}
	heap.Init(&queue)
	s.queue = queue
	s.seq = nextSeq
	s.repeatDay = -1
	clear(s.repeats)
	return nil
}
