// Package engine computes the expected payout of opening a box and the probability
// that the payout beats the box price.
//
// Each card's copies per box are modelled as an independent Poisson count whose mean
// comes from its rarity pool's box rate. The expectation is exact; the profit
// probability uses a normal approximation by default, or an exact lattice recursion
// when asked for and affordable.
package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/rewired-gh/boxoracle/internal/models"
)

// Profit probability methods.
const (
	MethodNormal = "normal"
	MethodExact  = "exact"
)

// DefaultMaxLattice bounds the exact method to box prices below this many currency units.
const DefaultMaxLattice = 200000

// Options selects how the profit probability is evaluated.
type Options struct {
	Method     string
	MaxLattice int
}

// DefaultOptions returns the normal approximation.
func DefaultOptions() Options {
	return Options{Method: MethodNormal, MaxLattice: DefaultMaxLattice}
}

// PricedCard is a card reduced to what the distribution needs.
type PricedCard struct {
	ID     string
	Rarity string
	Pool   string
	Rate   float64
	Price  float64
	Known  bool
}

// Evaluation is a calculation result plus the figures behind it.
type Evaluation struct {
	Result    models.CalculationResult
	Method    string
	StdDev    float64
	Breakdown []models.TierContribution
}

// Snapshot is everything one calculation reads. Overrides maps card id to the
// requesting user's price and may be nil.
type Snapshot struct {
	Pack      models.Pack
	Tiers     []models.RarityTier
	Cards     []models.Card
	Overrides map[string]float64
}

// Calculate evaluates a full pack snapshot: per-card rates from the rarity tiers,
// resolved prices, then the payout distribution.
func Calculate(snap Snapshot, opts Options) (*Evaluation, error) {
	slots, err := ExpectedDraws(snap.Pack.ID, snap.Tiers)
	if err != nil {
		return nil, err
	}

	priced := make([]PricedCard, 0, len(snap.Cards))
	listed := make(map[poolKey]int)
	for _, card := range snap.Cards {
		rate, err := slots.Rate(card)
		if err != nil {
			return nil, err
		}
		listed[poolKey{card.Rarity, card.Reprint}]++
		var override *float64
		if v, ok := snap.Overrides[card.ID]; ok {
			override = &v
		}
		price, known := Resolve(card.ReferencePrice, override)
		priced = append(priced, PricedCard{
			ID:     card.ID,
			Rarity: card.Rarity,
			Pool:   card.Pool(),
			Rate:   rate,
			Price:  price,
			Known:  known,
		})
	}
	if err := slots.checkPopulation(snap.Tiers, listed); err != nil {
		return nil, err
	}

	eval, err := Evaluate(priced, snap.Pack.BoxPrice, opts)
	if err != nil {
		var ce *CalculationError
		if errors.As(err, &ce) {
			ce.PackID = snap.Pack.ID
		}
		return nil, err
	}
	eval.Breakdown = breakdown(snap.Tiers, priced)
	return eval, nil
}

// Evaluate builds the payout distribution of the given cards and summarises it
// against the box price. It fails on an empty card list, a box price that is not a
// positive finite number, or a non-finite card rate or price; unpriced cards are
// valued at zero.
func Evaluate(cards []PricedCard, boxPrice float64, opts Options) (*Evaluation, error) {
	if len(cards) == 0 {
		return nil, &CalculationError{Kind: ErrInsufficientData, Detail: "no cards to value"}
	}
	if !(boxPrice > 0) || math.IsInf(boxPrice, 1) {
		return nil, &CalculationError{Kind: ErrInvalidInput, Detail: fmt.Sprintf("box price %v must be a positive finite number", boxPrice)}
	}
	for _, c := range cards {
		if !isFinite(c.Rate) || !isFinite(c.Price) {
			return nil, &CalculationError{Kind: ErrInvalidInput, Detail: fmt.Sprintf("card %s has rate %v and price %v", c.ID, c.Rate, c.Price)}
		}
	}

	dist := NewDistribution()
	entered := 0
	for _, c := range cards {
		dist.Add(c.Rate, c.Price)
		if c.Known {
			entered++
		}
	}

	method := opts.Method
	var probability float64
	switch method {
	case MethodExact:
		tail, ok := dist.ExactTail(boxPrice, opts.MaxLattice)
		if ok {
			probability = tail
			break
		}
		method = MethodNormal
		probability = dist.NormalTail(boxPrice)
	case MethodNormal, "":
		method = MethodNormal
		probability = dist.NormalTail(boxPrice)
	default:
		return nil, &CalculationError{Kind: ErrInvalidInput, Detail: fmt.Sprintf("unknown method %q", opts.Method)}
	}

	return &Evaluation{
		Result: models.CalculationResult{
			ExpectedValue:     dist.Mean(),
			ProfitProbability: probability,
			BoxPrice:          boxPrice,
			TotalCards:        dist.Count(),
			PricesEntered:     entered,
		},
		Method: method,
		StdDev: dist.StdDev(),
	}, nil
}

func breakdown(tiers []models.RarityTier, cards []PricedCard) []models.TierContribution {
	index := make(map[poolKey]int)
	var out []models.TierContribution
	for _, tier := range tiers {
		for _, reprint := range []bool{false, true} {
			rate, count := tier.Pool(reprint)
			if count == 0 {
				continue
			}
			index[poolKey{tier.Name, reprint}] = len(out)
			out = append(out, models.TierContribution{
				Rarity:        tier.Name,
				Pool:          poolName(reprint),
				ExpectedDraws: rate,
			})
		}
	}
	for _, c := range cards {
		i, ok := index[poolKey{c.Rarity, c.Pool == models.PoolReprint}]
		if !ok {
			continue
		}
		out[i].Cards++
		out[i].ExpectedValue += c.Rate * c.Price
	}
	return out
}
