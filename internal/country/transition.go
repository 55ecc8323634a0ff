package country

import (
	"cmp"
	"slices"

	"github.com/ChuLiYu/epiflight/pkg/types"
)

// Kind identifies one of the eight transitions.
type Kind int

const (
	SE Kind = iota
	EI
	IH
	IF
	IR
	HF
	HR
	FR
)

// Kinds lists every transition in table order.
var Kinds = []Kind{SE, EI, IH, IF, IR, HF, HR, FR}

func (k Kind) String() string {
	if k < SE || k > FR {
		return "unknown"
	}
	row := transitionTable[k]
	return row.from.String() + row.to.String()
}

// From returns the source compartment.
func (k Kind) From() types.Stage { return transitionTable[k].from }

// To returns the destination compartment.
func (k Kind) To() types.Stage { return transitionTable[k].to }

type transitionRow struct {
	kind     Kind
	from, to types.Stage
	rate     func(Rates) float64
}

var transitionTable = [...]transitionRow{
	SE: {SE, types.Susceptible, types.Exposed, func(r Rates) float64 { return r.SE }},
	EI: {EI, types.Exposed, types.Infectious, func(r Rates) float64 { return r.EI }},
	IH: {IH, types.Infectious, types.Hospitalized, func(r Rates) float64 { return r.IH }},
	IF: {IF, types.Infectious, types.Fatal, func(r Rates) float64 { return r.IF }},
	IR: {IR, types.Infectious, types.Recovered, func(r Rates) float64 { return r.IR }},
	HF: {HF, types.Hospitalized, types.Fatal, func(r Rates) float64 { return r.HF }},
	HR: {HR, types.Hospitalized, types.Recovered, func(r Rates) float64 { return r.HR }},
	FR: {FR, types.Fatal, types.Recovered, func(r Rates) float64 { return r.FR }},
}

type candidate struct {
	kind   Kind
	weight float64
}

// Transition performs one stochastic state change. Transitions with a zero rate
// or an empty source compartment are left out of the draw; the rest are picked
// with probability proportional to their rate. It reports false, and changes
// nothing, when no transition is possible.
func (c *Country) Transition() (Kind, bool) {
	var buf [len(transitionTable)]candidate
	eligible := buf[:0]
	total := 0.0

	for _, row := range transitionTable {
		w := row.rate(c.rates)
		if w <= 0 || c.Size(row.from) == 0 {
			continue
		}
		eligible = append(eligible, candidate{kind: row.kind, weight: w})
		total += w
	}
	if len(eligible) == 0 {
		return 0, false
	}

	// ascending weight, table order on ties
	slices.SortStableFunc(eligible, func(a, b candidate) int {
		return cmp.Compare(a.weight, b.weight)
	})

	draw := c.rng.Uniform(0, total)
	chosen := eligible[len(eligible)-1].kind
	cumulative := 0.0
	for _, cand := range eligible {
		cumulative += cand.weight
		if draw < cumulative {
			chosen = cand.kind
			break
		}
	}

	c.apply(chosen)
	return chosen, true
}

func (c *Country) apply(k Kind) {
	row := transitionTable[k]
	if row.from == types.Susceptible {
		c.susceptible--
		c.exposed = append(c.exposed, &Individual{Stage: types.Exposed, Location: c.code})
		return
	}
	c.push(row.to, c.pop(row.from))
}
