package indicator

// SMMA is Wilder's smoothed moving average over a scalar series.
// The first value is the mean of the first period inputs, then
// SMMA = (prev*(period-1) + x) / period.
//
// The previous value is the only carried state, so a full series is a
// single O(n) forward pass.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

// Add feeds the next value.
func (s *SMMA) Add(x float64) {
	s.count++

	if s.count <= s.period {
		// Accumulate for initial mean seed
		s.sum += x
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	s.current = (s.current*float64(s.period-1) + x) / float64(s.period)
}

// Seed sets the smoothed value directly and marks the average ready.
// Used when part of the seed window is undefined and the mean is taken
// over the defined values only.
func (s *SMMA) Seed(v float64) {
	s.count = s.period
	s.sum = v * float64(s.period)
	s.current = v
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }
