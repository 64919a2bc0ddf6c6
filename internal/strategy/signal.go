// Package strategy decides whether the latest completed bar is a CE or PE
// entry.
//
// The Evaluator is stateless: it reads two indicator frames and never
// mutates them. Window selection handles the still-forming last bar.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"optbot/internal/indicator"
	"optbot/internal/model"
)

var (
	// ErrTooFewFrames means the series is too short to pick a latest/previous pair.
	ErrTooFewFrames = errors.New("strategy: not enough frames to evaluate")
	// ErrNotReady means an evaluated frame still has undefined indicator values.
	ErrNotReady = errors.New("strategy: indicators not ready on evaluated bars")
)

// Thresholds are the tunables of the entry condition.
type Thresholds struct {
	ADX        float64       // smoothed ADX must exceed this (25)
	MomBand    float64       // momentum must lie strictly inside (-MomBand, MomBand) (25)
	StaleAfter time.Duration // last bar older than this counts as complete (3m)
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{ADX: 25, MomBand: 25, StaleAfter: 3 * time.Minute}
}

// Signal is an entry decision for one option right.
type Signal struct {
	Right  model.Right `json:"right"`
	Price  float64     `json:"price"`  // close of the signal bar
	BarTS  time.Time   `json:"bar_ts"` // start time of the signal bar
	Reason string      `json:"reason"`
}

// Decision is the per-side outcome of one evaluation.
type Decision struct {
	CE       bool
	PE       bool
	Latest   indicator.Frame
	Previous indicator.Frame
}

// Signals returns one Signal per side that fired.
func (d Decision) Signals() []Signal {
	var out []Signal
	f := d.Latest
	reason := fmt.Sprintf("O=%.2f C=%.2f MOM=%.2f RSI=%.2f/%.2f SADX=%.2f",
		f.Bar.Open, f.Bar.Close, f.Mom, d.Previous.RSI, f.RSI, f.SADX)
	if d.CE {
		out = append(out, Signal{Right: model.Call, Price: f.Bar.Close, BarTS: f.Bar.TS, Reason: reason})
	}
	if d.PE {
		out = append(out, Signal{Right: model.Put, Price: f.Bar.Close, BarTS: f.Bar.TS, Reason: reason})
	}
	return out
}

// Evaluator applies the entry condition to a pair of frames.
type Evaluator struct {
	th Thresholds
}

// NewEvaluator creates an evaluator with the given thresholds.
func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{th: th}
}

// Evaluate applies the entry conditions to latest and its predecessor.
//
// CE: open > close, momentum inside the band, RSI rising, SADX above threshold.
// PE: open < close, momentum inside the band, RSI falling, SADX above threshold.
func (e *Evaluator) Evaluate(latest, previous indicator.Frame) Decision {
	d := Decision{Latest: latest, Previous: previous}

	inBand := -e.th.MomBand < latest.Mom && latest.Mom < e.th.MomBand
	trending := latest.SADX > e.th.ADX
	if !inBand || !trending {
		return d
	}

	d.CE = latest.Bar.Open > latest.Bar.Close && latest.RSI > previous.RSI
	d.PE = latest.Bar.Open < latest.Bar.Close && latest.RSI < previous.RSI
	return d
}

// EvaluateSeries picks the evaluation window from frames and evaluates it.
func (e *Evaluator) EvaluateSeries(frames []indicator.Frame, now time.Time) (Decision, error) {
	li, pi, err := SelectWindow(frames, now, e.th.StaleAfter)
	if err != nil {
		return Decision{}, err
	}
	latest, previous := frames[li], frames[pi]
	if !latest.Complete() || !previous.Complete() {
		return Decision{}, fmt.Errorf("%w: bars %d,%d", ErrNotReady, pi, li)
	}
	return e.Evaluate(latest, previous), nil
}

// SelectWindow returns the indices of the latest and previous bars to evaluate.
//
// If the last bar started more than staleAfter before now it is complete and
// the last two bars are used. Otherwise the last bar is still forming and is
// skipped in favour of the second- and third-to-last.
func SelectWindow(frames []indicator.Frame, now time.Time, staleAfter time.Duration) (latest, previous int, err error) {
	n := len(frames)
	if n < 2 {
		return 0, 0, fmt.Errorf("%w: have %d", ErrTooFewFrames, n)
	}
	if now.Sub(frames[n-1].Bar.TS) > staleAfter {
		return n - 1, n - 2, nil
	}
	if n < 3 {
		return 0, 0, fmt.Errorf("%w: have %d, last bar still forming", ErrTooFewFrames, n)
	}
	return n - 2, n - 3, nil
}
