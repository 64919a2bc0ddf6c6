package indicator

import (
	"errors"

	"optbot/internal/model"
)

// Config selects the periods of each computed series.
type Config struct {
	ADXPeriod int // default 14
	RSIPeriod int // default 14
	MomPeriod int // default 10
}

// DefaultConfig returns the periods the strategy was tuned with.
func DefaultConfig() Config {
	return Config{ADXPeriod: 14, RSIPeriod: 14, MomPeriod: 10}
}

// Frame is one bar together with every indicator value computed for it.
type Frame struct {
	Bar model.Bar
	DMFrame

	RSI      float64
	RSIReady bool
	Mom      float64
	MomReady bool
}

// Compute returns one frame per bar, index-aligned with bars. It is a pure
// function of its input.
//
// ErrInsufficientBars is returned together with the frames so callers can
// still inspect the raw TR/DM columns; every other error returns nil frames.
func Compute(bars []model.Bar, cfg Config) ([]Frame, error) {
	dm, err := ComputeADX(bars, cfg.ADXPeriod)
	if err != nil && !errors.Is(err, ErrInsufficientBars) {
		return nil, err
	}
	if cfg.RSIPeriod < 2 || cfg.MomPeriod < 1 {
		return nil, ErrBadPeriod
	}

	rsi := NewRSI(cfg.RSIPeriod)
	mom := NewMomentum(cfg.MomPeriod)
	streams := []Indicator{rsi, mom}

	frames := make([]Frame, len(bars))
	for i, b := range bars {
		for _, ind := range streams {
			ind.Update(b)
		}
		frames[i] = Frame{
			Bar:      b,
			DMFrame:  dm[i],
			RSI:      rsi.Value(),
			RSIReady: rsi.Ready(),
			Mom:      mom.Value(),
			MomReady: mom.Ready(),
		}
	}
	return frames, err
}

// Complete reports whether every series the signal reads is defined.
func (f Frame) Complete() bool {
	return f.Ready && f.RSIReady && f.MomReady
}
