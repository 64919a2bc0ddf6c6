// Package indicator computes the trend and oscillator series the signal
// evaluator reads: Wilder-smoothed directional movement (SADX), RSI and
// momentum.
//
// Streaming indicators implement the Indicator interface and are fed one bar
// at a time. Compute runs them all in a single forward pass over a bar series
// and returns an immutable, index-aligned slice of frames.
package indicator

import (
	"errors"

	"optbot/internal/model"
)

// Precondition errors. Compute fails fast with one of these instead of
// producing NaNs outside the documented undefined prefix.
var (
	ErrBadPeriod        = errors.New("indicator: period must be at least 2")
	ErrInsufficientBars = errors.New("indicator: not enough bars for period")
	ErrUnorderedBars    = errors.New("indicator: bar timestamps are not strictly increasing")
	ErrBadBar           = errors.New("indicator: bar has non-finite or inverted prices")
)

// Indicator is the interface for streaming per-bar indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "RSI_14", "MOM_10").
	Name() string

	// Update feeds the next bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
