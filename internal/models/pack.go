// Package models defines the core domain entities: packs, rarity tiers, cards, price overrides
// and calculation results.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Pool names used when a rarity tier is split into new and reprint cards.
const (
	PoolNew     = "new"
	PoolReprint = "reprint"
)

// DefaultCurrency is used when a pack does not name its currency.
const DefaultCurrency = "JPY"

// Pack represents a sealed box product. BoxPrice is what a buyer pays for one box.
type Pack struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	BoxPrice  float64   `json:"box_price" yaml:"box_price"`
	Currency  string    `json:"currency" yaml:"currency"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks pack field constraints. A non-positive box price is left to the engine,
// which reports it as invalid input with the pack id attached.
func (p *Pack) Validate() error {
	if p.ID == "" {
		return errors.New("pack ID must not be empty")
	}
	if p.Name == "" {
		return errors.New("pack name must not be empty")
	}
	if p.BoxPrice < 0 || !finite(p.BoxPrice) {
		return errors.New("box price must be a non-negative finite number")
	}
	if !p.CreatedAt.IsZero() && p.CreatedAt.After(p.UpdatedAt) {
		return errors.New("created at must be <= updated at")
	}
	return nil
}

// RarityTier describes one rarity of a pack. Each tier is split into a new pool and a
// reprint pool, and each pool carries its own box rate: the expected number of slots
// per box that land on a card from that pool.
type RarityTier struct {
	PackID         string  `json:"pack_id" yaml:"-"`
	Name           string  `json:"name" yaml:"name"`
	BoxRateNew     float64 `json:"box_rate_new" yaml:"box_rate_new"`
	BoxRateReprint float64 `json:"box_rate_reprint" yaml:"box_rate_reprint"`
	NewCount       int     `json:"new_count" yaml:"new_count"`
	ReprintCount   int     `json:"reprint_count" yaml:"reprint_count"`
}

// TotalCount returns the number of distinct cards in the tier.
func (r *RarityTier) TotalCount() int {
	return r.NewCount + r.ReprintCount
}

// Pool returns the box rate and distinct-card count of the named pool.
func (r *RarityTier) Pool(reprint bool) (rate float64, count int) {
	if reprint {
		return r.BoxRateReprint, r.ReprintCount
	}
	return r.BoxRateNew, r.NewCount
}

// Validate checks field ranges only. Rate/count consistency is a calculation concern and
// is reported by the engine.
func (r *RarityTier) Validate() error {
	if r.PackID == "" {
		return errors.New("rarity tier pack ID must not be empty")
	}
	if r.Name == "" {
		return errors.New("rarity tier name must not be empty")
	}
	if r.BoxRateNew < 0 || r.BoxRateReprint < 0 || !finite(r.BoxRateNew) || !finite(r.BoxRateReprint) {
		return fmt.Errorf("rarity tier %s: box rates must be non-negative finite numbers", r.Name)
	}
	if r.NewCount < 0 || r.ReprintCount < 0 {
		return fmt.Errorf("rarity tier %s: card counts must not be negative", r.Name)
	}
	return nil
}

// Card is a single collectible card. ReferencePrice is the canonical buyback price;
// nil means no price is known yet.
type Card struct {
	ID             string   `json:"id" yaml:"id"`
	PackID         string   `json:"pack_id" yaml:"-"`
	Name           string   `json:"name" yaml:"name"`
	Rarity         string   `json:"rarity" yaml:"rarity"`
	Reprint        bool     `json:"reprint" yaml:"reprint"`
	ReferencePrice *float64 `json:"reference_price,omitempty" yaml:"price"`
}

// Pool returns the pool name the card is drawn from.
func (c *Card) Pool() string {
	if c.Reprint {
		return PoolReprint
	}
	return PoolNew
}

func (c *Card) Validate() error {
	if c.ID == "" {
		return errors.New("card ID must not be empty")
	}
	if c.PackID == "" {
		return errors.New("card pack ID must not be empty")
	}
	if c.Rarity == "" {
		return fmt.Errorf("card %s: rarity must not be empty", c.ID)
	}
	if c.ReferencePrice != nil && !ValidPrice(*c.ReferencePrice) {
		return fmt.Errorf("card %s: reference price must be a non-negative finite number", c.ID)
	}
	return nil
}

// PriceOverride is a user's own price for a card. It supersedes the reference price.
type PriceOverride struct {
	UserID    string    `json:"user_id"`
	CardID    string    `json:"card_id"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *PriceOverride) Validate() error {
	if o.UserID == "" {
		return errors.New("override user ID must not be empty")
	}
	if o.CardID == "" {
		return errors.New("override card ID must not be empty")
	}
	if !ValidPrice(o.Price) {
		return errors.New("override price must be a non-negative finite number")
	}
	return nil
}

// ValidPrice reports whether v can be stored as a card price.
func ValidPrice(v float64) bool {
	return v >= 0 && finite(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Price returns a pointer to v, for building cards with a known reference price.
func Price(v float64) *float64 {
	return &v
}
