package engine

import "math"

// ContinuityCorrection is the half currency unit added to the box price when a
// lattice-valued payout is approximated by a continuous normal.
const ContinuityCorrection = 0.5

// Distribution accumulates the payout of a box as a sum of independent compound
// Poisson terms: a card drawn rate times on average, each copy worth price.
// Each term contributes rate*price to the mean and rate*price² to the variance.
type Distribution struct {
	mean     float64
	variance float64
	lattice  map[int64]float64
	count    int
}

// NewDistribution returns an empty payout distribution.
func NewDistribution() *Distribution {
	return &Distribution{lattice: make(map[int64]float64)}
}

// Add folds one card into the distribution.
func (d *Distribution) Add(rate, price float64) {
	d.count++
	if rate <= 0 || price <= 0 {
		return
	}
	d.mean += rate * price
	d.variance += rate * price * price
	if unit := int64(math.Round(price)); unit > 0 {
		d.lattice[unit] += rate
	}
}

// Mean is the expected total payout. It is exact under any shape model.
func (d *Distribution) Mean() float64 {
	return d.mean
}

func (d *Distribution) Variance() float64 {
	return d.variance
}

func (d *Distribution) StdDev() float64 {
	return math.Sqrt(d.variance)
}

// Count returns the number of cards folded in, priced or not.
func (d *Distribution) Count() int {
	return d.count
}

// NormalTail approximates P(total > boxPrice) by the upper tail of
// Normal(mean, variance) at boxPrice plus the continuity correction.
// With zero variance the payout is the constant mean.
func (d *Distribution) NormalTail(boxPrice float64) float64 {
	if d.variance <= 0 {
		return degenerateTail(d.mean, boxPrice)
	}
	z := (boxPrice + ContinuityCorrection - d.mean) / d.StdDev()
	return upperTail(z)
}

// upperTail returns P(Z > z) for a standard normal Z.
func upperTail(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}

func degenerateTail(mean, boxPrice float64) float64 {
	switch {
	case mean > boxPrice:
		return 1
	case mean < boxPrice:
		return 0
	default:
		return 0.5
	}
}
