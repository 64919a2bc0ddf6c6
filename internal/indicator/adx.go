package indicator

import (
	"fmt"
	"math"

	"optbot/internal/model"
)

// DMFrame is the directional-movement row for one bar.
// Smoothed fields are meaningful only when Ready is true, which holds from
// index period-1 onward.
type DMFrame struct {
	TR        float64
	PlusDM    float64
	MinusDM   float64
	SATR      float64
	PlusSADM  float64
	MinusSADM float64
	PlusDI    float64
	MinusDI   float64
	DX        float64
	SADX      float64
	Ready     bool
}

// ComputeADX runs the Wilder directional-movement recurrence over bars.
//
// TR[0] has no previous close and is taken as H[0]-L[0]; +DM[0] and -DM[0]
// are 0. SATR, +SADM and -SADM are seeded at period-1 with the mean of the
// first period raw values. DX exists only where the smoothed values do, so
// the SADX seed is the mean of the defined DX values in the seed window,
// which is DX[period-1].
//
// Counting H[0]-L[0] in the SATR seed shifts SATR and both DI lines, but
// not DX or SADX: the two DI lines share the SATR denominator and it
// cancels in DX.
//
// When len(bars) < period every row is returned not-ready together with
// ErrInsufficientBars.
func ComputeADX(bars []model.Bar, period int) ([]DMFrame, error) {
	if err := validate(bars, period); err != nil {
		return nil, err
	}
	out := make([]DMFrame, len(bars))

	satr := NewSMMA(period)
	plus := NewSMMA(period)
	minus := NewSMMA(period)
	sadx := NewSMMA(period)

	for i, b := range bars {
		f := &out[i]
		if i == 0 {
			f.TR = b.High - b.Low
		} else {
			prev := bars[i-1]
			f.TR = trueRange(b, prev.Close)
			f.PlusDM, f.MinusDM = directionalMovement(b, prev)
		}

		satr.Add(f.TR)
		plus.Add(f.PlusDM)
		minus.Add(f.MinusDM)
		if !satr.Ready() {
			continue
		}

		f.SATR = satr.Value()
		f.PlusSADM = plus.Value()
		f.MinusSADM = minus.Value()
		f.PlusDI = ratio(f.PlusSADM, f.SATR)
		f.MinusDI = ratio(f.MinusSADM, f.SATR)
		f.DX = ratio(math.Abs(f.PlusDI-f.MinusDI), f.PlusDI+f.MinusDI)

		if i == period-1 {
			sadx.Seed(f.DX)
		} else {
			sadx.Add(f.DX)
		}
		f.SADX = sadx.Value()
		f.Ready = true
	}

	if len(bars) < period {
		return out, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBars, len(bars), period)
	}
	return out, nil
}

// trueRange is max(H-L, |H-prevC|, |L-prevC|).
func trueRange(b model.Bar, prevClose float64) float64 {
	return math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
}

// directionalMovement returns (+DM, -DM). At most one is nonzero; a tie
// between the up and down move yields both zero.
func directionalMovement(b, prev model.Bar) (float64, float64) {
	up := b.High - prev.High
	down := prev.Low - b.Low
	switch {
	case up > down && up > 0:
		return up, 0
	case down > up && down > 0:
		return 0, down
	default:
		return 0, 0
	}
}

// ratio returns 100*num/den, or 0 when den is 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return 100 * num / den
}

func validate(bars []model.Bar, period int) error {
	if period < 2 {
		return fmt.Errorf("%w: got %d", ErrBadPeriod, period)
	}
	for i, b := range bars {
		for _, v := range [4]float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: bar %d", ErrBadBar, i)
			}
		}
		if b.High < b.Low {
			return fmt.Errorf("%w: bar %d high %.2f < low %.2f", ErrBadBar, i, b.High, b.Low)
		}
		if i > 0 && !b.TS.After(bars[i-1].TS) {
			return fmt.Errorf("%w: bar %d at %s", ErrUnorderedBars, i, b.TS.Format("15:04:05"))
		}
	}
	return nil
}
