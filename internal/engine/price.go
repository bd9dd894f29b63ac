package engine

import "math"

// Resolve picks the price used to value a card. A non-negative override wins over the
// reference price; a missing, negative or non-finite value falls through, and a card
// with neither is worth 0. known reports whether the card had a price entered: an
// override of any amount, or a non-zero reference.
func Resolve(reference, override *float64) (price float64, known bool) {
	if override != nil && usable(*override) {
		return *override, true
	}
	if reference != nil && usable(*reference) {
		return *reference, *reference > 0
	}
	return 0, false
}

func usable(v float64) bool {
	return v >= 0 && isFinite(v)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
