package country

// Policy holds the travel-reduction coefficients.
type Policy struct {
	Threshold      int
	Reduction0     float64
	ReductionSlope float64
}

// Factor returns the reduction factor for an infectious count, or false when
// the count does not exceed the threshold.
func (p Policy) Factor(infectious int) (float64, bool) {
	if infectious <= p.Threshold {
		return 0, false
	}
	return p.Reduction0 + p.ReductionSlope*float64(infectious-p.Threshold), true
}

// TravelReduction evaluates the policy against the current infectious count.
// It does not mutate the country.
func (c *Country) TravelReduction(p Policy) (float64, bool) {
	return p.Factor(len(c.infectious))
}
