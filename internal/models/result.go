package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CalculationResult is the outcome of one box evaluation, shaped for direct JSON
// serialization to a presentation layer.
type CalculationResult struct {
	ExpectedValue     float64 `json:"expectedValue"`
	ProfitProbability float64 `json:"profitProbability"`
	BoxPrice          float64 `json:"boxPrice"`
	TotalCards        int     `json:"totalCards"`
	PricesEntered     int     `json:"pricesEntered"`
}

// Profit returns the expected payout minus the box price.
func (r CalculationResult) Profit() float64 {
	return r.ExpectedValue - r.BoxPrice
}

// MissingPrices returns how many cards were valued at zero for lack of a price.
func (r CalculationResult) MissingPrices() int {
	return r.TotalCards - r.PricesEntered
}

// TierContribution is one rarity pool's share of the expected payout.
type TierContribution struct {
	Rarity        string  `json:"rarity"`
	Pool          string  `json:"pool"`
	Cards         int     `json:"cards"`
	ExpectedDraws float64 `json:"expectedDraws"`
	ExpectedValue float64 `json:"expectedValue"`
}

// Calculation is a recorded evaluation: the result plus what produced it.
type Calculation struct {
	ID        string             `json:"id"`
	PackID    string             `json:"packId"`
	UserID    string             `json:"userId,omitempty"`
	Method    string             `json:"method"`
	StdDev    float64            `json:"stdDev"`
	Result    CalculationResult  `json:"result"`
	Breakdown []TierContribution `json:"breakdown,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// RoundCurrency rounds a monetary amount half away from zero to the given number of places.
func RoundCurrency(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// FormatCurrency renders a monetary amount with a fixed number of places.
func FormatCurrency(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}
