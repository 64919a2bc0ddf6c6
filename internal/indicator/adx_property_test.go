package indicator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"optbot/internal/model"
)

// walkBars builds a bar series from close-to-close moves and bar half-ranges.
func walkBars(moves, spans []float64) []model.Bar {
	n := len(moves)
	if len(spans) < n {
		n = len(spans)
	}
	bars := make([]model.Bar, n)
	price := 24500.0
	for i := 0; i < n; i++ {
		price += moves[i]
		bars[i] = model.Bar{
			TS:   t0.Add(time.Duration(i) * time.Minute),
			Open: price - moves[i]/2, High: price + spans[i], Low: price - spans[i], Close: price,
		}
	}
	return bars
}

func TestProperty_DXAndSADXBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("DX and SADX stay within [0,100] where defined", prop.ForAll(
		func(moves, spans []float64) bool {
			frames, err := ComputeADX(walkBars(moves, spans), 14)
			if err != nil {
				return false
			}
			for _, f := range frames {
				if !f.Ready {
					continue
				}
				if f.DX != f.DX || f.SADX != f.SADX { // NaN
					return false
				}
				if f.DX < 0 || f.DX > 100 || f.SADX < 0 || f.SADX > 100 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.Float64Range(-30, 30)),
		gen.SliceOfN(40, gen.Float64Range(0, 15)),
	))

	properties.Property("at most one directional movement is nonzero per bar", prop.ForAll(
		func(moves, spans []float64) bool {
			frames, _ := ComputeADX(walkBars(moves, spans), 14)
			for _, f := range frames {
				if f.PlusDM != 0 && f.MinusDM != 0 {
					return false
				}
				if f.PlusDM < 0 || f.MinusDM < 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(30, gen.Float64Range(-30, 30)),
		gen.SliceOfN(30, gen.Float64Range(0, 15)),
	))

	properties.TestingRun(t)
}
