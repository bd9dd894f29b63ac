package engine

import (
	"math"
	"sort"
)

// maxPoissonRate bounds the total draw rate for exact evaluation: exp(-λ) underflows
// float64 a little past 745.
const maxPoissonRate = 700

// ExactTail computes P(total > boxPrice) from the compound Poisson distribution on a
// one-currency-unit lattice using the Panjer recursion. Card prices are rounded to the
// nearest unit, so prices below half a unit drop off the lattice even though they
// still count toward the mean; with only such prices the lattice payout is 0.
// ok is false when the lattice up to boxPrice would exceed maxLattice points or the
// total rate is too large to evaluate; callers fall back to NormalTail.
func (d *Distribution) ExactTail(boxPrice float64, maxLattice int) (tail float64, ok bool) {
	if len(d.lattice) == 0 {
		return degenerateTail(0, boxPrice), true
	}
	if boxPrice < 0 {
		return 1, true
	}
	// Compare as float before converting: huge or infinite prices overflow int.
	if maxLattice <= 0 || !(math.Floor(boxPrice) < float64(maxLattice)) {
		return 0, false
	}
	n := int(math.Floor(boxPrice))

	units := make([]int64, 0, len(d.lattice))
	var lambda float64
	for unit, rate := range d.lattice {
		units = append(units, unit)
		lambda += rate
	}
	if lambda > maxPoissonRate {
		return 0, false
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })

	// x*rate_x is the Panjer weight of a payout step of x units.
	weights := make([]float64, len(units))
	for i, unit := range units {
		weights[i] = float64(unit) * d.lattice[unit]
	}

	g := make([]float64, n+1)
	g[0] = math.Exp(-lambda)
	cdf := g[0]
	for s := 1; s <= n; s++ {
		var acc float64
		for i, unit := range units {
			x := int(unit)
			if x > s {
				break
			}
			acc += weights[i] * g[s-x]
		}
		g[s] = acc / float64(s)
		cdf += g[s]
	}

	return math.Min(1, math.Max(0, 1-cdf)), true
}
