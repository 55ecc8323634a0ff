package country

import "github.com/ChuLiYu/epiflight/pkg/types"

// EmbarkExposed removes n Exposed individuals picked uniformly without
// replacement and returns them. n is clamped to the compartment size.
// The population shrinks by the number returned.
func (c *Country) EmbarkExposed(n int) []*Individual {
	size := len(c.exposed)
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	// partial Fisher-Yates: the chosen ones end up in the tail
	for i := 0; i < n; i++ {
		last := size - 1 - i
		j := c.rng.IntN(last + 1)
		c.exposed[j], c.exposed[last] = c.exposed[last], c.exposed[j]
	}

	keep := size - n
	out := make([]*Individual, n)
	copy(out, c.exposed[keep:])
	clear(c.exposed[keep:])
	c.exposed = c.exposed[:keep]
	c.population -= n
	return out
}

// DisembarkExposed appends arriving Exposed individuals and rebinds them here.
func (c *Country) DisembarkExposed(arrivals []*Individual) {
	for _, ind := range arrivals {
		ind.Location = c.code
		c.push(types.Exposed, ind)
	}
	c.population += len(arrivals)
}

// EmbarkSusceptible removes up to n susceptibles and reports how many left.
func (c *Country) EmbarkSusceptible(n int) int {
	if n > c.susceptible {
		n = c.susceptible
	}
	if n <= 0 {
		return 0
	}
	c.susceptible -= n
	c.population -= n
	return n
}

// DisembarkSusceptible adds n arriving susceptibles.
func (c *Country) DisembarkSusceptible(n int) {
	if n <= 0 {
		return
	}
	c.susceptible += n
	c.population += n
}
