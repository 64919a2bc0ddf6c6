package marketdata

import (
	"sync"
	"time"

	"optbot/internal/model"
)

// BarBuilder folds LTP ticks of one instrument into fixed-interval bars.
// The open bar is available through Current so the evaluator can see the
// forming bar between history polls.
type BarBuilder struct {
	mu       sync.Mutex
	interval time.Duration
	cur      model.Bar
	open     bool

	OnDroppedTick func() // late tick for an already closed bar
}

// NewBarBuilder creates a builder for the given bar interval.
func NewBarBuilder(interval time.Duration) *BarBuilder {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BarBuilder{interval: interval}
}

// Add incorporates tick. When tick opens a new bar the previous one is
// returned with ok set.
func (b *BarBuilder) Add(tick model.Tick) (closed model.Bar, ok bool) {
	bucket := tick.TickTS.Truncate(b.interval)
	price := tick.Rupees()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open && bucket.Before(b.cur.TS) {
		if b.OnDroppedTick != nil {
			b.OnDroppedTick()
		}
		return model.Bar{}, false
	}
	if b.open && bucket.After(b.cur.TS) {
		closed, ok = b.cur, true
		b.open = false
	}
	if !b.open {
		b.cur = model.Bar{TS: bucket, Open: price, High: price, Low: price, Close: price}
		b.open = true
		return closed, ok
	}

	if price > b.cur.High {
		b.cur.High = price
	}
	if price < b.cur.Low {
		b.cur.Low = price
	}
	b.cur.Close = price
	return closed, ok
}

// Current returns the forming bar, if any.
func (b *BarBuilder) Current() (model.Bar, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur, b.open
}

// MergeLive overlays a live bar on a history series. A live bar for the same
// interval as the last history bar widens its range and replaces its close;
// a newer one is appended. Older live bars are ignored. bars is not modified.
func MergeLive(bars []model.Bar, live model.Bar) []model.Bar {
	out := make([]model.Bar, len(bars), len(bars)+1)
	copy(out, bars)
	if len(out) == 0 {
		return append(out, live)
	}
	last := &out[len(out)-1]
	switch {
	case live.TS.Equal(last.TS):
		if live.High > last.High {
			last.High = live.High
		}
		if live.Low < last.Low {
			last.Low = live.Low
		}
		last.Close = live.Close
	case live.TS.After(last.TS):
		out = append(out, live)
	}
	return out
}
