package country

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/epiflight/internal/randvar"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// fixedRand replays a scripted sequence of uniform draws.
type fixedRand struct {
	uniforms []float64
	ints     []int
}

func (f *fixedRand) Poisson(lambda float64, n int) []int { return make([]int, n) }
func (f *fixedRand) Normal(mean, std float64) float64    { return mean }

func (f *fixedRand) Uniform(lo, hi float64) float64 {
	if len(f.uniforms) == 0 {
		return lo
	}
	u := f.uniforms[0]
	f.uniforms = f.uniforms[1:]
	return u
}

func (f *fixedRand) IntN(n int) int {
	if len(f.ints) == 0 {
		return 0
	}
	v := f.ints[0] % n
	f.ints = f.ints[1:]
	return v
}

func allRates(v float64) Rates {
	return Rates{SE: v, EI: v, IH: v, IF: v, IR: v, HF: v, HR: v, FR: v}
}

// newTestCountry creates a country on a real seeded stream
func newTestCountry(t *testing.T, pop, infectious int, rates Rates) *Country {
	t.Helper()
	c, err := New(Params{
		Name:              "Testland",
		Code:              "TST",
		Population:        pop,
		InitialInfectious: infectious,
		Rates:             rates,
	}, randvar.NewStream(1, "country/TST"))
	require.NoError(t, err)
	return c
}

// ============================================================================
// Construction
// ============================================================================

func TestNew(t *testing.T) {
	c := newTestCountry(t, 1000, 10, allRates(1))

	assert.Equal(t, "Testland", c.Name())
	assert.Equal(t, "TST", c.Code())
	assert.Equal(t, 1000, c.Population())
	assert.Equal(t, types.Counts{S: 990, I: 10}, c.Counts())
	for _, ind := range c.Members(types.Infectious) {
		assert.Equal(t, types.Infectious, ind.Stage)
		assert.Equal(t, "TST", ind.Location)
	}
	require.NoError(t, c.CheckInvariants())
}

func TestNewRejectsInvalidParams(t *testing.T) {
	rng := randvar.NewStream(1, "x")
	cases := []struct {
		name string
		p    Params
		want error
	}{
		{"zero population", Params{Name: "A", Code: "A", Population: 0}, ErrInvalidPopulation},
		{"negative population", Params{Name: "A", Code: "A", Population: -5}, ErrInvalidPopulation},
		{"negative rate", Params{Name: "A", Code: "A", Population: 10, Rates: Rates{FR: -0.1}}, ErrNegativeRate},
		{"seed above population", Params{Name: "A", Code: "A", Population: 10, InitialInfectious: 11}, ErrInvalidSeed},
		{"negative seed", Params{Name: "A", Code: "A", Population: 10, InitialInfectious: -1}, ErrInvalidSeed},
		{"missing code", Params{Name: "A", Population: 10}, ErrMissingIdentity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.p, rng)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

// ============================================================================
// Transitions
// ============================================================================

func TestTransitionNoOpWhenNothingEligible(t *testing.T) {
	// everyone susceptible, but S->E has no weight
	c := newTestCountry(t, 50, 0, Rates{EI: 1, IR: 1})

	_, ok := c.Transition()
	assert.False(t, ok)
	assert.Equal(t, types.Counts{S: 50}, c.Counts())
}

func TestTransitionNoOpWhenAllRecovered(t *testing.T) {
	c := newTestCountry(t, 3, 3, Rates{IR: 1, SE: 1})
	for i := 0; i < 3; i++ {
		k, ok := c.Transition()
		require.True(t, ok)
		assert.Equal(t, IR, k)
	}

	_, ok := c.Transition()
	assert.False(t, ok, "every source is empty")
	assert.Equal(t, types.Counts{R: 3}, c.Counts())
}

func TestTransitionExcludesEmptySources(t *testing.T) {
	// only S->E and I->R have members; F->R has the largest weight but F is empty
	rng := &fixedRand{uniforms: []float64{0.0}}
	c, err := New(Params{Name: "A", Code: "A", Population: 10, InitialInfectious: 1,
		Rates: Rates{SE: 2, IR: 1, FR: 100}}, rng)
	require.NoError(t, err)

	// sorted ascending: IR(1), SE(2); u=0 picks IR
	k, ok := c.Transition()
	require.True(t, ok)
	assert.Equal(t, IR, k)
	assert.Equal(t, types.Counts{S: 9, R: 1}, c.Counts())
}

func TestTransitionRouletteOrder(t *testing.T) {
	// eligible: SE(3), IR(1), IH(2) -> ascending IR, IH, SE with edges 1, 3, 6
	cases := []struct {
		u    float64
		want Kind
	}{
		{0.5, IR},
		{1.0, IH},
		{2.99, IH},
		{3.0, SE},
		{5.99, SE},
	}
	for _, tc := range cases {
		rng := &fixedRand{uniforms: []float64{tc.u}}
		c, err := New(Params{Name: "A", Code: "A", Population: 10, InitialInfectious: 2,
			Rates: Rates{SE: 3, IR: 1, IH: 2}}, rng)
		require.NoError(t, err)

		k, ok := c.Transition()
		require.True(t, ok)
		assert.Equal(t, tc.want, k, "u=%v", tc.u)
	}
}

func TestTransitionTiesKeepTableOrder(t *testing.T) {
	rng := &fixedRand{uniforms: []float64{0.5}}
	c, err := New(Params{Name: "A", Code: "A", Population: 10, InitialInfectious: 2,
		Rates: Rates{SE: 1, IR: 1}}, rng)
	require.NoError(t, err)

	k, _ := c.Transition()
	assert.Equal(t, SE, k, "S->E precedes I->R in the table")
}

func TestTransitionLegality(t *testing.T) {
	c := newTestCountry(t, 500, 20, Rates{SE: 5, EI: 3, IH: 1, IF: 0.5, IR: 2, HF: 0.3, HR: 1, FR: 0.8})

	for step := 0; step < 3000; step++ {
		before := c.Counts()
		k, ok := c.Transition()
		after := c.Counts()
		if !ok {
			assert.Equal(t, before, after)
			break
		}

		for _, st := range types.Stages {
			delta := after.Get(st) - before.Get(st)
			switch st {
			case k.From():
				assert.Equal(t, -1, delta, "step %d %s source", step, k)
			case k.To():
				assert.Equal(t, 1, delta, "step %d %s destination", step, k)
			default:
				assert.Equal(t, 0, delta, "step %d %s untouched %s", step, k, st)
			}
		}
		require.NoError(t, c.CheckInvariants())
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "SE", SE.String())
	assert.Equal(t, "HR", HR.String())
	assert.Equal(t, "FR", FR.String())
	assert.Equal(t, "unknown", Kind(42).String())
	assert.Len(t, Kinds, 8)
}

// ============================================================================
// Travel Reduction
// ============================================================================

func TestTravelReductionThreshold(t *testing.T) {
	p := Policy{Threshold: 5, Reduction0: 1.5, ReductionSlope: 0.25}

	at := newTestCountry(t, 100, 5, allRates(0))
	_, ok := at.TravelReduction(p)
	assert.False(t, ok, "equal to threshold is not above it")

	above := newTestCountry(t, 100, 6, allRates(0))
	f, ok := above.TravelReduction(p)
	require.True(t, ok)
	assert.InDelta(t, 1.75, f, 1e-12)

	well := newTestCountry(t, 100, 9, allRates(0))
	f, ok = well.TravelReduction(p)
	require.True(t, ok)
	assert.InDelta(t, 2.5, f, 1e-12)
	assert.Equal(t, types.Counts{S: 91, I: 9}, well.Counts(), "evaluation must not mutate")
}

// ============================================================================
// Migration
// ============================================================================

func TestMigrateExposed(t *testing.T) {
	src := newTestCountry(t, 100, 0, Rates{SE: 1})
	dst, err := New(Params{Name: "Dest", Code: "DST", Population: 50}, randvar.NewStream(1, "country/DST"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, ok := src.Transition()
		require.True(t, ok)
	}
	require.Equal(t, 10, src.Size(types.Exposed))
	original := src.Members(types.Exposed)

	moved := src.EmbarkExposed(4)
	require.Len(t, moved, 4)
	dst.DisembarkExposed(moved)

	assert.Equal(t, 6, src.Size(types.Exposed))
	assert.Equal(t, 96, src.Population())
	assert.Equal(t, 4, dst.Size(types.Exposed))
	assert.Equal(t, 54, dst.Population())

	seen := map[*Individual]bool{}
	for _, ind := range moved {
		assert.Equal(t, "DST", ind.Location)
		assert.False(t, seen[ind], "picked twice")
		seen[ind] = true
		assert.Contains(t, original, ind)
	}
	for _, ind := range src.Members(types.Exposed) {
		assert.False(t, seen[ind], "moved individual still held by origin")
	}
	require.NoError(t, src.CheckInvariants())
	require.NoError(t, dst.CheckInvariants())
}

func TestEmbarkExposedClamps(t *testing.T) {
	c := newTestCountry(t, 10, 0, Rates{SE: 1})
	assert.Nil(t, c.EmbarkExposed(3), "no exposed to move")

	_, _ = c.Transition()
	moved := c.EmbarkExposed(5)
	assert.Len(t, moved, 1)
	assert.Equal(t, 0, c.Size(types.Exposed))
	assert.Equal(t, 9, c.Population())
}

func TestMigrateSusceptible(t *testing.T) {
	c := newTestCountry(t, 10, 4, allRates(0))

	assert.Equal(t, 6, c.EmbarkSusceptible(8), "capped at the susceptible count")
	assert.Equal(t, 0, c.Susceptible())
	assert.Equal(t, 4, c.Population())
	assert.Equal(t, 0, c.EmbarkSusceptible(1))

	c.DisembarkSusceptible(3)
	c.DisembarkSusceptible(0)
	assert.Equal(t, 3, c.Susceptible())
	assert.Equal(t, 7, c.Population())
	require.NoError(t, c.CheckInvariants())
}

// ============================================================================
// Snapshots and Invariants
// ============================================================================

func TestSnapshotRestore(t *testing.T) {
	c := newTestCountry(t, 200, 10, Rates{SE: 2, EI: 1, IH: 1, IR: 1, HR: 1, HF: 0.2, FR: 1})
	for i := 0; i < 120; i++ {
		c.Transition()
	}
	snap := c.Snapshot()

	other := newTestCountry(t, 200, 10, allRates(1))
	require.NoError(t, other.Restore(snap))
	assert.Equal(t, c.Counts(), other.Counts())
	assert.Equal(t, c.Population(), other.Population())
	require.NoError(t, other.CheckInvariants())
}

func TestRestoreRejectsMismatch(t *testing.T) {
	c := newTestCountry(t, 10, 0, allRates(0))

	err := c.Restore(types.CountrySnapshot{Code: "XXX", Population: 10, Counts: types.Counts{S: 10}})
	assert.ErrorIs(t, err, ErrInvariant)

	err = c.Restore(types.CountrySnapshot{Code: "TST", Population: 11, Counts: types.Counts{S: 10}})
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestCheckInvariantsDetectsCorruption(t *testing.T) {
	c := newTestCountry(t, 10, 2, allRates(0))
	ind := c.infectious[0]

	c.recovered = append(c.recovered, ind)
	c.population++
	assert.ErrorIs(t, c.CheckInvariants(), ErrInvariant, "shared individual")

	c = newTestCountry(t, 10, 2, allRates(0))
	c.infectious[0].Stage = types.Recovered
	assert.ErrorIs(t, c.CheckInvariants(), ErrInvariant, "stage mismatch")

	c = newTestCountry(t, 10, 2, allRates(0))
	c.population = 11
	assert.ErrorIs(t, c.CheckInvariants(), ErrInvariant, "population drift")
}

func TestStatus(t *testing.T) {
	c := newTestCountry(t, 10, 2, allRates(0))
	st := c.Status()
	assert.Equal(t, "Testland", st.Name)
	assert.Equal(t, "TST", st.Code)
	assert.Equal(t, 10, st.Population)
	assert.Equal(t, 2, st.Counts.I)
	assert.Nil(t, c.Members(types.Susceptible))
}
