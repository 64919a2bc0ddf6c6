package strategy

import (
	"errors"
	"testing"
	"time"

	"optbot/internal/indicator"
	"optbot/internal/model"
)

var t0 = time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

func frame(open, close, mom, rsi, sadx float64) indicator.Frame {
	f := indicator.Frame{
		Bar:      model.Bar{TS: t0, Open: open, High: open + 5, Low: close - 5, Close: close},
		RSI:      rsi,
		RSIReady: true,
		Mom:      mom,
		MomReady: true,
	}
	f.SADX = sadx
	f.Ready = true
	return f
}

func TestEvaluate_CE(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	prev := frame(100, 101, 0, 50, 30)

	d := e.Evaluate(frame(105, 100, 10, 55, 30), prev)
	if !d.CE || d.PE {
		t.Fatalf("expected CE only, got CE=%v PE=%v", d.CE, d.PE)
	}
	sigs := d.Signals()
	if len(sigs) != 1 || sigs[0].Right != model.Call || sigs[0].Price != 100 {
		t.Errorf("unexpected signals %+v", sigs)
	}
}

func TestEvaluate_PE(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	prev := frame(100, 101, 0, 50, 30)

	d := e.Evaluate(frame(100, 104, -10, 45, 30), prev)
	if d.CE || !d.PE {
		t.Fatalf("expected PE only, got CE=%v PE=%v", d.CE, d.PE)
	}
	if sigs := d.Signals(); len(sigs) != 1 || sigs[0].Right != model.Put {
		t.Errorf("unexpected signals %+v", sigs)
	}
}

func TestEvaluate_Rejections(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	prev := frame(100, 101, 0, 50, 30)

	cases := []struct {
		name   string
		latest indicator.Frame
	}{
		{"weak trend", frame(105, 100, 10, 55, 25)},
		{"momentum at upper band", frame(105, 100, 25, 55, 30)},
		{"momentum at lower band", frame(105, 100, -25, 55, 30)},
		{"CE body but RSI falling", frame(105, 100, 0, 45, 30)},
		{"PE body but RSI rising", frame(100, 105, 0, 55, 30)},
		{"doji", frame(100, 100, 0, 55, 30)},
		{"RSI flat", frame(105, 100, 0, 50, 30)},
	}
	for _, tc := range cases {
		d := e.Evaluate(tc.latest, prev)
		if d.CE || d.PE {
			t.Errorf("%s: expected no signal, got CE=%v PE=%v", tc.name, d.CE, d.PE)
		}
	}
}

func TestEvaluate_DoesNotMutateInputs(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	latest := frame(105, 100, 10, 55, 30)
	prev := frame(100, 101, 0, 50, 30)
	l0, p0 := latest, prev

	e.Evaluate(latest, prev)
	if latest != l0 || prev != p0 {
		t.Error("Evaluate mutated its inputs")
	}
}

func series(n int) []indicator.Frame {
	out := make([]indicator.Frame, n)
	for i := range out {
		out[i] = frame(100, 101, 0, 50, 30)
		out[i].Bar.TS = t0.Add(time.Duration(i) * time.Minute)
	}
	return out
}

func TestSelectWindow_FormingBarSkipped(t *testing.T) {
	frames := series(5)
	// Last bar started at t0+4m; now is one minute later.
	now := t0.Add(5 * time.Minute)
	li, pi, err := SelectWindow(frames, now, 3*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if li != 3 || pi != 2 {
		t.Errorf("got (%d,%d), want (3,2)", li, pi)
	}
}

func TestSelectWindow_StaleSeriesUsesLastTwo(t *testing.T) {
	frames := series(5)
	now := t0.Add(4*time.Minute + 3*time.Minute + time.Second)
	li, pi, err := SelectWindow(frames, now, 3*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if li != 4 || pi != 3 {
		t.Errorf("got (%d,%d), want (4,3)", li, pi)
	}
}

func TestSelectWindow_ExactlyThreeMinutesIsFresh(t *testing.T) {
	frames := series(5)
	now := t0.Add(4*time.Minute + 3*time.Minute)
	li, _, _ := SelectWindow(frames, now, 3*time.Minute)
	if li != 3 {
		t.Errorf("exactly 3 minutes old should still count as forming, got latest=%d", li)
	}
}

func TestSelectWindow_TooFew(t *testing.T) {
	if _, _, err := SelectWindow(series(1), t0, 3*time.Minute); !errors.Is(err, ErrTooFewFrames) {
		t.Errorf("1 frame: got %v", err)
	}
	if _, _, err := SelectWindow(series(2), t0.Add(time.Minute), 3*time.Minute); !errors.Is(err, ErrTooFewFrames) {
		t.Errorf("2 fresh frames: got %v", err)
	}
	if _, _, err := SelectWindow(series(2), t0.Add(time.Hour), 3*time.Minute); err != nil {
		t.Errorf("2 stale frames should be usable, got %v", err)
	}
}

func TestEvaluateSeries_NotReady(t *testing.T) {
	frames := series(4)
	frames[2].RSIReady = false
	e := NewEvaluator(DefaultThresholds())
	_, err := e.EvaluateSeries(frames, t0.Add(4*time.Minute))
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("got %v, want ErrNotReady", err)
	}
}

func TestEvaluateSeries_UsesSelectedBars(t *testing.T) {
	frames := series(4)
	frames[1] = frame(100, 101, 0, 50, 30)
	frames[1].Bar.TS = t0.Add(time.Minute)
	frames[2] = frame(105, 100, 5, 60, 40)
	frames[2].Bar.TS = t0.Add(2 * time.Minute)
	// The forming bar would fire PE if it were evaluated.
	frames[3] = frame(100, 110, 5, 40, 40)
	frames[3].Bar.TS = t0.Add(3 * time.Minute)

	e := NewEvaluator(DefaultThresholds())
	d, err := e.EvaluateSeries(frames, t0.Add(3*time.Minute+30*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !d.CE || d.PE {
		t.Errorf("expected CE from bar 2, got CE=%v PE=%v", d.CE, d.PE)
	}
	if !d.Latest.Bar.TS.Equal(frames[2].Bar.TS) {
		t.Errorf("latest should be bar 2")
	}
}
