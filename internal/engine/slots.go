package engine

import (
	"math"

	"github.com/rewired-gh/boxoracle/internal/models"
)

type poolKey struct {
	tier    string
	reprint bool
}

// SlotModel holds the expected number of copies per box of any single card,
// keyed by rarity tier and pool. The values are means of count variables and
// routinely exceed 1 for common rarities.
type SlotModel struct {
	packID string
	rates  map[poolKey]float64
	counts map[poolKey]int
	tiers  map[string]bool
}

// ExpectedDraws builds the slot model for a pack. Every pool's box rate is divided by
// the pool's own distinct-card count. A pool with no cards must have a zero rate;
// anything else is a data fault and is reported, never zeroed out.
func ExpectedDraws(packID string, tiers []models.RarityTier) (*SlotModel, error) {
	m := &SlotModel{
		packID: packID,
		rates:  make(map[poolKey]float64, len(tiers)*2),
		counts: make(map[poolKey]int, len(tiers)*2),
		tiers:  make(map[string]bool, len(tiers)),
	}

	for _, tier := range tiers {
		if m.tiers[tier.Name] {
			return nil, rarityError(packID, tier.Name, "", "duplicate tier")
		}
		m.tiers[tier.Name] = true

		for _, reprint := range []bool{false, true} {
			pool := poolName(reprint)
			rate, count := tier.Pool(reprint)
			m.counts[poolKey{tier.Name, reprint}] = count

			switch {
			case math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0:
				return nil, rarityError(packID, tier.Name, pool, "box rate %v is not a non-negative number", rate)
			case count < 0:
				return nil, rarityError(packID, tier.Name, pool, "card count %d is negative", count)
			case count == 0 && rate != 0:
				return nil, rarityError(packID, tier.Name, pool, "box rate %v with no cards", rate)
			case count == 0:
				m.rates[poolKey{tier.Name, reprint}] = 0
			default:
				m.rates[poolKey{tier.Name, reprint}] = rate / float64(count)
			}
		}
	}

	return m, nil
}

// Rate returns the expected copies per box of the given card.
func (m *SlotModel) Rate(card models.Card) (float64, error) {
	if !m.tiers[card.Rarity] {
		return 0, rarityError(m.packID, card.Rarity, "", "card %s references an unknown tier", card.ID)
	}
	key := poolKey{card.Rarity, card.Reprint}
	if m.counts[key] == 0 {
		return 0, rarityError(m.packID, card.Rarity, card.Pool(), "card %s is in a pool with no cards", card.ID)
	}
	return m.rates[key], nil
}

// checkPopulation reports a pool that lists more cards than its declared count: the
// per-card rates would then add up to more than the pool's box rate. Fewer cards
// than declared is a partial card list and keeps the declared per-card rate.
func (m *SlotModel) checkPopulation(tiers []models.RarityTier, listed map[poolKey]int) error {
	for _, tier := range tiers {
		for _, reprint := range []bool{false, true} {
			key := poolKey{tier.Name, reprint}
			if listed[key] > m.counts[key] {
				return rarityError(m.packID, tier.Name, poolName(reprint),
					"%d cards listed but the pool declares %d", listed[key], m.counts[key])
			}
		}
	}
	return nil
}

func poolName(reprint bool) string {
	if reprint {
		return models.PoolReprint
	}
	return models.PoolNew
}
