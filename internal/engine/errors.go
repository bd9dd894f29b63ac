package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRarityConfig reports rarity data that cannot describe a real box,
	// such as a non-zero box rate on a pool without cards.
	ErrInvalidRarityConfig = errors.New("invalid rarity config")
	// ErrInsufficientData reports a pack without any cards to value.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidInput reports a non-positive box price.
	ErrInvalidInput = errors.New("invalid input")
)

// CalculationError carries the context needed to diagnose a failed calculation
// without re-running it. Kind is one of the sentinel errors above.
type CalculationError struct {
	Kind   error
	PackID string
	Tier   string
	Pool   string
	Detail string
}

func (e *CalculationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.PackID != "" {
		fmt.Fprintf(&b, ": pack %s", e.PackID)
	}
	if e.Tier != "" {
		fmt.Fprintf(&b, ", tier %s", e.Tier)
	}
	if e.Pool != "" {
		fmt.Fprintf(&b, " (%s pool)", e.Pool)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *CalculationError) Unwrap() error {
	return e.Kind
}

// KindName returns a short machine-readable name for a calculation error,
// or "" when err is not one.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRarityConfig):
		return "invalid_rarity_config"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return ""
	}
}

func rarityError(packID, tier, pool, format string, args ...interface{}) error {
	return &CalculationError{
		Kind:   ErrInvalidRarityConfig,
		PackID: packID,
		Tier:   tier,
		Pool:   pool,
		Detail: fmt.Sprintf(format, args...),
	}
}
