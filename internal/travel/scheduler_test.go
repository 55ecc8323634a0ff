package travel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/epiflight/internal/country"
	"github.com/ChuLiYu/epiflight/internal/randvar"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// scriptedRand returns fixed Normal draws and fixed Poisson values.
type scriptedRand struct {
	normal  float64
	poisson int
	normals int
}

func (s *scriptedRand) Poisson(lambda float64, n int) []int {
	out := make([]int, n)
	if lambda > 0 {
		for i := range out {
			out[i] = s.poisson
		}
	}
	return out
}

func (s *scriptedRand) Normal(mean, std float64) float64 {
	s.normals++
	return s.normal
}

func (s *scriptedRand) Uniform(lo, hi float64) float64 { return lo }
func (s *scriptedRand) IntN(n int) int                 { return 0 }

func newCountry(t *testing.T, code string, pop, infectious int, rates country.Rates) *country.Country {
	t.Helper()
	c, err := country.New(country.Params{
		Name:              "Country " + code,
		Code:              code,
		Population:        pop,
		InitialInfectious: infectious,
		Rates:             rates,
	}, randvar.NewStream(7, "country/"+code))
	require.NoError(t, err)
	return c
}

// expose moves n susceptibles of c into E
func expose(t *testing.T, c *country.Country, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		k, ok := c.Transition()
		require.True(t, ok)
		require.Equal(t, country.SE, k)
	}
}

func newRoute(t *testing.T, id int, o, d *country.Country, mean, std float64, seats int) *Route {
	t.Helper()
	r, err := NewRoute(id, o, d, mean, std, seats)
	require.NoError(t, err)
	return r
}

// ============================================================================
// Route
// ============================================================================

func TestNewRouteValidation(t *testing.T) {
	a := newCountry(t, "AAA", 10, 0, country.Rates{})
	b := newCountry(t, "BBB", 10, 0, country.Rates{})

	_, err := NewRoute(1, a, b, 3, 1, 10)
	require.NoError(t, err)

	for name, fn := range map[string]func() (*Route, error){
		"nil origin":     func() (*Route, error) { return NewRoute(1, nil, b, 3, 1, 10) },
		"self loop":      func() (*Route, error) { return NewRoute(1, a, a, 3, 1, 10) },
		"negative std":   func() (*Route, error) { return NewRoute(1, a, b, 3, -1, 10) },
		"negative mean":  func() (*Route, error) { return NewRoute(1, a, b, -3, 1, 10) },
		"negative seats": func() (*Route, error) { return NewRoute(1, a, b, 3, 1, -10) },
	} {
		_, err := fn()
		assert.ErrorIs(t, err, ErrInvalidRoute, name)
	}
}

func TestRouteTouches(t *testing.T) {
	a := newCountry(t, "AAA", 10, 0, country.Rates{})
	b := newCountry(t, "BBB", 10, 0, country.Rates{})
	r := newRoute(t, 1, a, b, 1, 0, 1)

	assert.True(t, r.Touches("AAA"))
	assert.True(t, r.Touches("BBB"))
	assert.False(t, r.Touches("CCC"))
	assert.Equal(t, "1:AAA->BBB", r.String())
}

// ============================================================================
// Scheduling
// ============================================================================

func TestInitializeQueuesOneFlightPerRoute(t *testing.T) {
	a := newCountry(t, "AAA", 100, 0, country.Rates{})
	b := newCountry(t, "BBB", 100, 0, country.Rates{})
	routes := []*Route{
		newRoute(t, 1, a, b, 3, 1, 5),
		newRoute(t, 2, b, a, 4, 1, 5),
	}

	s := NewScheduler(randvar.NewStream(1, "travel"), DefaultOptions())
	require.NoError(t, s.Initialize(routes))
	assert.Equal(t, 2, s.Pending())

	// re-initializing clears the previous queue
	require.NoError(t, s.Initialize(routes[:1]))
	assert.Equal(t, 1, s.Pending())
	assert.Len(t, s.Routes(), 1)
}

func TestInitializeRejectsDuplicateIDs(t *testing.T) {
	a := newCountry(t, "AAA", 100, 0, country.Rates{})
	b := newCountry(t, "BBB", 100, 0, country.Rates{})
	s := NewScheduler(randvar.NewStream(1, "travel"), DefaultOptions())

	err := s.Initialize([]*Route{newRoute(t, 1, a, b, 1, 0, 1), newRoute(t, 1, b, a, 1, 0, 1)})
	assert.ErrorIs(t, err, ErrDuplicateRoute)
}

func TestScheduleNextDelay(t *testing.T) {
	a := newCountry(t, "AAA", 100, 0, country.Rates{})
	b := newCountry(t, "BBB", 100, 0, country.Rates{})
	r := newRoute(t, 1, a, b, 3, 0, 1)

	rng := &scriptedRand{normal: -4.9}
	s := NewScheduler(rng, DefaultOptions())
	require.NoError(t, s.Initialize([]*Route{r}))

	day, ok := s.NextDay()
	require.True(t, ok)
	assert.Equal(t, 4, day, "abs then truncate")
}

func TestScheduleNextClampsHugeDelays(t *testing.T) {
	a := newCountry(t, "AAA", 100, 0, country.Rates{})
	b := newCountry(t, "BBB", 100, 0, country.Rates{})
	r := newRoute(t, 1, a, b, 3, 0, 1)

	s := NewScheduler(&scriptedRand{normal: 1e300}, Options{MaxFlightDelay: 1000})
	require.NoError(t, s.Initialize([]*Route{r}))
	day, _ := s.NextDay()
	assert.Equal(t, 1000, day)
}

func TestQueueOrdersByDayThenInsertion(t *testing.T) {
	a := newCountry(t, "AAA", 100, 0, country.Rates{})
	b := newCountry(t, "BBB", 100, 0, country.Rates{})
	rng := &scriptedRand{normal: 2}
	s := NewScheduler(rng, DefaultOptions())

	routes := []*Route{
		newRoute(t, 10, a, b, 2, 0, 0),
		newRoute(t, 20, b, a, 2, 0, 0),
		newRoute(t, 30, a, b, 2, 0, 0),
	}
	require.NoError(t, s.Initialize(routes))

	records := s.ExecuteDue(2)
	require.Len(t, records, 3)
	assert.Equal(t, 10, records[0].RouteID)
	assert.Equal(t, 20, records[1].RouteID)
	assert.Equal(t, 30, records[2].RouteID)
}

// ============================================================================
// ExecuteDue
// ============================================================================

func TestExecuteDueSchedulerInvariant(t *testing.T) {
	countries := []*country.Country{
		newCountry(t, "AAA", 5000, 20, country.Rates{SE: 5, EI: 2, IR: 1}),
		newCountry(t, "BBB", 3000, 0, country.Rates{SE: 5, EI: 2, IR: 1}),
		newCountry(t, "CCC", 2000, 5, country.Rates{SE: 5, EI: 2, IR: 1}),
	}
	var routes []*Route
	id := 0
	for _, o := range countries {
		for _, d := range countries {
			if o != d {
				id++
				routes = append(routes, newRoute(t, id, o, d, 1.5, 1.0, 20))
			}
		}
	}

	s := NewScheduler(randvar.NewStream(3, "travel"), DefaultOptions())
	require.NoError(t, s.Initialize(routes))

	for day := 0; day < 60; day++ {
		for _, c := range countries {
			for i := 0; i < 20; i++ {
				c.Transition()
			}
		}
		s.ExecuteDue(day)
		require.NoError(t, s.CheckInvariants(day), "day %d", day)
		assert.Equal(t, len(routes), s.Pending())

		total := 0
		for _, c := range countries {
			require.NoError(t, c.CheckInvariants())
			total += c.Population()
		}
		assert.Equal(t, 10000, total, "people are neither created nor lost")
	}
}

func TestExecuteDueMigrationBound(t *testing.T) {
	o := newCountry(t, "AAA", 1000, 0, country.Rates{SE: 1})
	d := newCountry(t, "BBB", 1000, 0, country.Rates{})
	expose(t, o, 3)

	// every seat draws 5 travellers, far above both seats and E
	s := NewScheduler(&scriptedRand{normal: 1, poisson: 5}, DefaultOptions())
	require.NoError(t, s.Initialize([]*Route{newRoute(t, 1, o, d, 1, 0, 10)}))

	records := s.ExecuteDue(1)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, 3, rec.Exposed, "bounded by origin E")
	assert.Equal(t, 7, rec.Susceptible)
	assert.Equal(t, 10, rec.Travellers())

	assert.Equal(t, 0, o.Size(types.Exposed))
	assert.Equal(t, 3, d.Size(types.Exposed))
	assert.Equal(t, 990, o.Population())
	assert.Equal(t, 1010, d.Population())
	assert.Equal(t, 990, o.Susceptible())
	assert.Equal(t, 1007, d.Susceptible(), "destination's own count plus arrivals")
	for _, ind := range d.Members(types.Exposed) {
		assert.Equal(t, "BBB", ind.Location)
	}
}

func TestExecuteDueBoundedBySeats(t *testing.T) {
	o := newCountry(t, "AAA", 1000, 0, country.Rates{SE: 1})
	d := newCountry(t, "BBB", 1000, 0, country.Rates{})
	expose(t, o, 50)

	s := NewScheduler(&scriptedRand{normal: 1, poisson: 1}, DefaultOptions())
	require.NoError(t, s.Initialize([]*Route{newRoute(t, 1, o, d, 1, 0, 4)}))

	rec := s.ExecuteDue(1)[0]
	assert.Equal(t, 4, rec.Exposed)
	assert.Equal(t, 0, rec.Susceptible)
	assert.Equal(t, 46, o.Size(types.Exposed))
}

func TestExecuteDueEmptyExposed(t *testing.T) {
	o := newCountry(t, "AAA", 100, 0, country.Rates{})
	d := newCountry(t, "BBB", 50, 0, country.Rates{})

	s := NewScheduler(randvar.NewStream(9, "travel"), DefaultOptions())
	require.NoError(t, s.Initialize([]*Route{newRoute(t, 1, o, d, 1, 0, 8)}))

	records := s.ExecuteDue(1)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, 0, rec.Exposed)
	assert.Equal(t, 8, rec.Susceptible)
	assert.Equal(t, 92, o.Population())
	assert.Equal(t, 58, d.Population())
	assert.Equal(t, 0, d.Size(types.Exposed))
}

func TestExecuteDueExhaustedSusceptibles(t *testing.T) {
	o := newCountry(t, "AAA", 5, 5, country.Rates{})
	d := newCountry(t, "BBB", 5, 0, country.Rates{})

	s := NewScheduler(&scriptedRand{normal: 1}, DefaultOptions())
	require.NoError(t, s.Initialize([]*Route{newRoute(t, 1, o, d, 1, 0, 10)}))

	rec := s.ExecuteDue(1)[0]
	assert.Equal(t, 0, rec.Travellers(), "nobody eligible to fly")
	assert.Equal(t, 5, o.Population())
	require.NoError(t, o.CheckInvariants())
}

func TestExecuteDueZeroSeats(t *testing.T) {
	o := newCountry(t, "AAA", 100, 0, country.Rates{SE: 1})
	d := newCountry(t, "BBB", 100, 0, country.Rates{})
	expose(t, o, 10)

	s := NewScheduler(randvar.NewStream(2, "travel"), DefaultOptions())
	require.NoError(t, s.Initialize([]*Route{newRoute(t, 1, o, d, 0.5, 0.5, 0)}))

	for day := 0; day < 30; day++ {
		for _, rec := range s.ExecuteDue(day) {
			assert.Equal(t, 0, rec.Travellers())
		}
	}
	assert.Equal(t, 100, o.Population())
	assert.Equal(t, 10, o.Size(types.Exposed))
	assert.Equal(t, types.Counts{S: 100}, d.Counts())
}

func TestExecuteDueTerminatesOnZeroPeriod(t *testing.T) {
	o := newCountry(t, "AAA", 100, 0, country.Rates{})
	d := newCountry(t, "BBB", 100, 0, country.Rates{})
	rng := &scriptedRand{normal: 0}

	s := NewScheduler(rng, Options{MaxSameDayRepeats: 5})
	require.NoError(t, s.Initialize([]*Route{newRoute(t, 1, o, d, 0, 0, 1)}))

	records := s.ExecuteDue(0)
	assert.Len(t, records, 5, "capped same-day repeats")
	require.NoError(t, s.CheckInvariants(0))

	records = s.ExecuteDue(1)
	assert.Len(t, records, 6, "the forced flight plus five repeats")
	require.NoError(t, s.CheckInvariants(1))
}

// ============================================================================
// Travel Reduction
// ============================================================================

func TestApplyReductionCompounds(t *testing.T) {
	a := newCountry(t, "AAA", 10, 0, country.Rates{})
	b := newCountry(t, "BBB", 10, 0, country.Rates{})
	c := newCountry(t, "CCC", 10, 0, country.Rates{})
	ab := newRoute(t, 1, a, b, 2, 0, 1)
	ba := newRoute(t, 2, b, a, 4, 0, 1)
	bc := newRoute(t, 3, b, c, 8, 0, 1)

	s := NewScheduler(randvar.NewStream(1, "travel"), DefaultOptions())
	require.NoError(t, s.Initialize([]*Route{ab, ba, bc}))

	assert.Equal(t, 2, s.ApplyReduction("AAA", 1.5))
	assert.Equal(t, 2, s.ApplyReduction("AAA", 1.5))
	assert.InDelta(t, 4.5, ab.PeriodMean, 1e-12)
	assert.InDelta(t, 9.0, ba.PeriodMean, 1e-12)
	assert.InDelta(t, 8.0, bc.PeriodMean, 1e-12, "untouched route")

	assert.Equal(t, 0, s.ApplyReduction("ZZZ", 2))
}

// ============================================================================
// Snapshot / Restore
// ============================================================================

func TestSnapshotRestoreContinuesIdentically(t *testing.T) {
	build := func() (*Scheduler, *randvar.Stream, []*country.Country) {
		a := newCountry(t, "AAA", 500, 0, country.Rates{SE: 1})
		b := newCountry(t, "BBB", 500, 0, country.Rates{SE: 1})
		rng := randvar.NewStream(11, "travel")
		s := NewScheduler(rng, DefaultOptions())
		require.NoError(t, s.Initialize([]*Route{
			newRoute(t, 1, a, b, 2, 1, 3),
			newRoute(t, 2, b, a, 3, 2, 3),
		}))
		return s, rng, []*country.Country{a, b}
	}

	s1, rng1, _ := build()
	for day := 0; day < 10; day++ {
		s1.ExecuteDue(day)
	}
	s1.ApplyReduction("AAA", 1.25)
	routes, flights, seq := s1.Snapshot()
	state, err := rng1.MarshalBinary()
	require.NoError(t, err)

	s2, rng2, _ := build()
	require.NoError(t, rng2.UnmarshalBinary(state))
	require.NoError(t, s2.Restore(routes, flights, seq))

	for day := 10; day < 40; day++ {
		r1 := s1.ExecuteDue(day)
		r2 := s2.ExecuteDue(day)
		require.Equal(t, len(r1), len(r2), "day %d", day)
		for i := range r1 {
			assert.Equal(t, r1[i].RouteID, r2[i].RouteID)
			assert.Equal(t, r1[i].Day, r2[i].Day)
		}
	}
	ra, _ := s2.Route(1)
	assert.InDelta(t, 2.5, ra.PeriodMean, 1e-12)
}

func TestRestoreRejectsMismatchedQueue(t *testing.T) {
	a := newCountry(t, "AAA", 10, 0, country.Rates{})
	b := newCountry(t, "BBB", 10, 0, country.Rates{})
	s := NewScheduler(randvar.NewStream(1, "travel"), DefaultOptions())
	require.NoError(t, s.Initialize([]*Route{newRoute(t, 1, a, b, 1, 0, 1)}))

	err := s.Restore(
		[]types.RouteSnapshot{{ID: 1, PeriodMean: 1}},
		[]types.FlightSnapshot{{Day: 3, Route: 9}},
		4,
	)
	assert.ErrorIs(t, err, ErrCorruptQueue)

	err = s.Restore(nil, nil, 0)
	assert.ErrorIs(t, err, ErrCorruptQueue)
}
