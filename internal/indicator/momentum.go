package indicator

import (
	"strconv"

	"optbot/internal/model"
)

// Momentum is close[i] - close[i-period].
type Momentum struct {
	period  int
	closes  []float64 // circular window of the last period+1 closes
	count   int
	current float64
}

// NewMomentum creates a momentum indicator (typically period 10).
func NewMomentum(period int) *Momentum {
	return &Momentum{period: period, closes: make([]float64, period+1)}
}

func (m *Momentum) Name() string { return "MOM_" + strconv.Itoa(m.period) }

func (m *Momentum) Update(bar model.Bar) {
	slot := m.count % len(m.closes)
	m.closes[slot] = bar.Close
	m.count++
	if m.count > m.period {
		// The oldest close in the window sits in the slot after the newest.
		oldest := m.closes[m.count%len(m.closes)]
		m.current = bar.Close - oldest
	}
}

func (m *Momentum) Value() float64 { return m.current }
func (m *Momentum) Ready() bool    { return m.count > m.period }
