package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"optbot/internal/model"
)

func TestADX_HandComputed20Bars(t *testing.T) {
	// Fixture (see trendBars): every bar's TR is 3.0 or 3.5 and each bar
	// either raises the high by 2 (+DM=2) or drops the low by 2 (-DM=2),
	// except bar 1 where the high rises by 1.
	//
	// Seed window [0,13]:
	//   ΣTR  = 45.5 → SATR[13]  = 3.25
	//   Σ+DM = 17   → +SADM[13] = 1.214286
	//   Σ-DM = 8    → -SADM[13] = 0.571429
	//   +DI = 37.362637, -DI = 17.582418
	//   DX[13] = 100 * 19.78022/54.94505 = 36.0 → SADX[13] = 36.0
	//
	// Recurrence to index 19:
	//   DX[14..19] = 41.076487, 29.973901, 35.445110, 40.455269, 29.621397, 35.019181
	//   SADX[19] = 35.679847
	frames, err := ComputeADX(trendBars(), 14)
	if err != nil {
		t.Fatalf("ComputeADX: %v", err)
	}

	f := frames[13]
	assertClose(t, "SATR[13]", f.SATR, 3.25, 1e-9)
	assertClose(t, "+SADM[13]", f.PlusSADM, 17.0/14, 1e-9)
	assertClose(t, "-SADM[13]", f.MinusSADM, 8.0/14, 1e-9)
	assertClose(t, "+DI[13]", f.PlusDI, 100*17.0/45.5, 1e-9)
	assertClose(t, "-DI[13]", f.MinusDI, 100*8.0/45.5, 1e-9)
	assertClose(t, "DX[13]", f.DX, 36.0, 1e-9)

	wantDX := []float64{41.07648725212466, 29.97390082312788, 35.44511040560358,
		40.45526862060782, 29.621397136633416, 35.01918120998505}
	for k, w := range wantDX {
		assertClose(t, "DX", frames[14+k].DX, w, 1e-6)
	}

	assertClose(t, "SATR[19]", frames[19].SATR, 3.2842872721506353, 1e-6)
	assertClose(t, "SADX[19]", frames[19].SADX, 35.67984713378738, 1e-6)
}

func TestADX_RawColumns(t *testing.T) {
	frames, _ := ComputeADX(trendBars(), 14)

	wantTR := []float64{3.0, 2.5, 3.0, 3.5, 3.5}
	wantPlus := []float64{0, 1, 2, 0, 2}
	wantMinus := []float64{0, 0, 0, 2, 0}
	for i := range wantTR {
		if frames[i].TR != wantTR[i] || frames[i].PlusDM != wantPlus[i] || frames[i].MinusDM != wantMinus[i] {
			t.Errorf("bar %d: TR=%v +DM=%v -DM=%v, want %v %v %v", i,
				frames[i].TR, frames[i].PlusDM, frames[i].MinusDM, wantTR[i], wantPlus[i], wantMinus[i])
		}
	}
}

func TestADX_UndefinedPrefix(t *testing.T) {
	frames, err := ComputeADX(trendBars(), 14)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 13; i++ {
		if frames[i].Ready {
			t.Errorf("bar %d should not be ready", i)
		}
		if frames[i].SATR != 0 || frames[i].SADX != 0 {
			t.Errorf("bar %d: smoothed values should be zero-valued, got SATR=%v SADX=%v", i, frames[i].SATR, frames[i].SADX)
		}
	}
	for i := 13; i < len(frames); i++ {
		if !frames[i].Ready {
			t.Errorf("bar %d should be ready", i)
		}
	}
}

func TestADX_SeedIsMeanOfDefinedDX(t *testing.T) {
	const period = 5
	frames, err := ComputeADX(trendBars(), period)
	if err != nil {
		t.Fatal(err)
	}

	// DX exists only from period-1, so the seed window holds one defined value.
	sum, n := 0.0, 0
	for i := 0; i < period; i++ {
		if frames[i].Ready {
			sum += frames[i].DX
			n++
		}
	}
	assertClose(t, "SADX seed", frames[period-1].SADX, sum/float64(n), 1e-12)

	var trSum float64
	for i := 0; i < period; i++ {
		trSum += frames[i].TR
	}
	assertClose(t, "SATR seed", frames[period-1].SATR, trSum/period, 1e-12)
}

func TestADX_RecurrenceInvariant(t *testing.T) {
	const period = 14
	frames, err := ComputeADX(trendBars(), period)
	if err != nil {
		t.Fatal(err)
	}
	p := float64(period)
	for i := period; i < len(frames); i++ {
		prev, cur := frames[i-1], frames[i]
		assertClose(t, "SATR recurrence", cur.SATR, (prev.SATR*(p-1)+cur.TR)/p, 1e-9)
		assertClose(t, "+SADM recurrence", cur.PlusSADM, (prev.PlusSADM*(p-1)+cur.PlusDM)/p, 1e-9)
		assertClose(t, "-SADM recurrence", cur.MinusSADM, (prev.MinusSADM*(p-1)+cur.MinusDM)/p, 1e-9)
		assertClose(t, "SADX recurrence", cur.SADX, (prev.SADX*(p-1)+cur.DX)/p, 1e-9)
	}
}

func TestADX_DXDependsOnlyOnDirectionalMovement(t *testing.T) {
	// The SATR seed window includes TR[0]=H-L. DX must come out the same as
	// if it were left out, so it is checked against the smoothed DM alone.
	const period = 14
	frames, err := ComputeADX(trendBars(), period)
	if err != nil {
		t.Fatal(err)
	}
	for i := period - 1; i < len(frames); i++ {
		f := frames[i]
		want := 100 * math.Abs(f.PlusSADM-f.MinusSADM) / (f.PlusSADM + f.MinusSADM)
		assertClose(t, "DX from SADM", f.DX, want, 1e-9)
	}

	// SATR seeded without TR[0] (mean of TR[1..13]) differs, SADX does not.
	var trSum float64
	for i := 1; i < period; i++ {
		trSum += frames[i].TR
	}
	if alt := trSum / (period - 1); math.Abs(alt-frames[period-1].SATR) < 1e-6 {
		t.Fatalf("fixture should separate the two SATR seeds, both %v", alt)
	}
	assertClose(t, "SADX[19]", frames[19].SADX, 35.67984713378738, 1e-6)
}

func TestADX_InsufficientBars(t *testing.T) {
	bars := trendBars()[:13]
	frames, err := ComputeADX(bars, 14)
	if !errors.Is(err, ErrInsufficientBars) {
		t.Fatalf("expected ErrInsufficientBars, got %v", err)
	}
	if len(frames) != len(bars) {
		t.Fatalf("expected %d frames, got %d", len(bars), len(frames))
	}
	for i, f := range frames {
		if f.Ready {
			t.Errorf("bar %d: no smoothed value may be defined with fewer than period bars", i)
		}
	}
}

func TestADX_ZeroRangeIsZeroNotNaN(t *testing.T) {
	bars := make([]model.Bar, 20)
	for i := range bars {
		bars[i] = model.Bar{TS: t0.Add(time.Duration(i) * time.Minute), Open: 100, High: 100, Low: 100, Close: 100}
	}
	frames, err := ComputeADX(bars, 14)
	if err != nil {
		t.Fatal(err)
	}
	for i := 13; i < len(frames); i++ {
		f := frames[i]
		if math.IsNaN(f.PlusDI) || math.IsNaN(f.DX) || math.IsNaN(f.SADX) {
			t.Fatalf("bar %d: NaN in flat series: %+v", i, f)
		}
		if f.PlusDI != 0 || f.MinusDI != 0 || f.DX != 0 || f.SADX != 0 {
			t.Errorf("bar %d: flat series should give zero DI/DX/SADX, got %+v", i, f)
		}
	}
}

func TestADX_Preconditions(t *testing.T) {
	if _, err := ComputeADX(trendBars(), 1); !errors.Is(err, ErrBadPeriod) {
		t.Errorf("period 1: got %v, want ErrBadPeriod", err)
	}

	unordered := trendBars()
	unordered[5].TS = unordered[4].TS
	if _, err := ComputeADX(unordered, 14); !errors.Is(err, ErrUnorderedBars) {
		t.Errorf("duplicate timestamp: got %v, want ErrUnorderedBars", err)
	}

	nan := trendBars()
	nan[3].Close = math.NaN()
	if _, err := ComputeADX(nan, 14); !errors.Is(err, ErrBadBar) {
		t.Errorf("NaN close: got %v, want ErrBadBar", err)
	}

	inverted := trendBars()
	inverted[7].High, inverted[7].Low = inverted[7].Low, inverted[7].High
	if _, err := ComputeADX(inverted, 14); !errors.Is(err, ErrBadBar) {
		t.Errorf("inverted bar: got %v, want ErrBadBar", err)
	}
}

func TestCompute_AlignsAllSeries(t *testing.T) {
	bars := trendBars()
	frames, err := Compute(bars, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != len(bars) {
		t.Fatalf("got %d frames, want %d", len(frames), len(bars))
	}
	for i, f := range frames {
		if !f.Bar.TS.Equal(bars[i].TS) {
			t.Errorf("frame %d not aligned with bar", i)
		}
		if f.MomReady != (i >= 10) {
			t.Errorf("frame %d: MomReady=%v", i, f.MomReady)
		}
		if f.RSIReady != (i >= 14) {
			t.Errorf("frame %d: RSIReady=%v", i, f.RSIReady)
		}
		if f.Complete() != (i >= 14) {
			t.Errorf("frame %d: Complete()=%v", i, f.Complete())
		}
	}
	// MOM(10) at 19 = close[19] - close[9] = 119.0 - 107.5
	assertClose(t, "MOM[19]", frames[19].Mom, 11.5, 1e-12)
	assertClose(t, "SADX[19] via Compute", frames[19].SADX, 35.67984713378738, 1e-6)
}

func TestCompute_PassesInsufficientBarsThrough(t *testing.T) {
	frames, err := Compute(trendBars()[:5], DefaultConfig())
	if !errors.Is(err, ErrInsufficientBars) {
		t.Fatalf("got %v, want ErrInsufficientBars", err)
	}
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5", len(frames))
	}
	for i, f := range frames {
		if f.Complete() {
			t.Errorf("frame %d should not be complete", i)
		}
	}
}
