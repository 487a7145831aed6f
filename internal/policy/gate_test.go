package policy

import "testing"

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDecayBelowMinSteps(t *testing.T) {
	g := NewGate(DefaultConfig())
	d := g.Decay(Input{
		GlobalStep:   24999,
		LearningRate: 1e-3,
		Prior:        []float64{0.3, 0.3, 0.3, 0.3},
		Current:      0.9,
	})
	if d.Action != ActionNoOp {
		t.Fatalf("expected no_op before min_steps, got %s", d.Action)
	}
}

func TestDecayFiresOnWorseningScore(t *testing.T) {
	g := NewGate(DefaultConfig())
	d := g.Decay(Input{
		GlobalStep:   30000,
		LearningRate: 1e-3,
		Prior:        []float64{0.5, 0.31, 0.30, 0.32},
		Current:      0.32,
	})
	if d.Action != ActionDecayLR {
		t.Fatalf("expected decay_lr, got %s: %s", d.Action, d.Reason)
	}
}

func TestDecayNeedsMoreThanWindowPrior(t *testing.T) {
	g := NewGate(DefaultConfig())
	d := g.Decay(Input{
		GlobalStep:   30000,
		LearningRate: 1e-3,
		Prior:        []float64{0.3, 0.3, 0.3},
		Current:      0.9,
	})
	if d.Action != ActionNoOp {
		t.Fatalf("expected no_op with 3 prior scores, got %s", d.Action)
	}
}

func TestDecaySkipsWhenBeatingRecentWorst(t *testing.T) {
	g := NewGate(DefaultConfig())
	d := g.Decay(Input{
		GlobalStep:   30000,
		LearningRate: 1e-3,
		Prior:        []float64{0.2, 0.25, 0.40, 0.30},
		Current:      0.39,
	})
	if d.Action != ActionNoOp {
		t.Fatalf("0.39 < worst 0.40 should not decay, got %s", d.Action)
	}
}

func TestDecaySkipsAtFloor(t *testing.T) {
	g := NewGate(DefaultConfig())
	d := g.Decay(Input{
		GlobalStep:   30000,
		LearningRate: 1e-4,
		Prior:        []float64{0.3, 0.3, 0.3, 0.3},
		Current:      0.5,
	})
	if d.Action != ActionNoOp {
		t.Fatalf("learning rate at floor must not decay, got %s", d.Action)
	}
}

func TestStalledGlobalBestBeforeWindow(t *testing.T) {
	h := append([]float64{0.2}, repeat(0.3, 10)...)
	if !Stalled(h, 10) {
		t.Fatal("global best 0.2 lies before the last 10 scores; expected stalled")
	}
}

func TestStalledGlobalBestInsideWindow(t *testing.T) {
	h := []float64{0.5, 0.4, 0.3, 0.29, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3}
	if Stalled(h, 10) {
		t.Fatal("global best 0.29 lies inside the last 10 scores; expected progress")
	}
}

func TestStalledTieInsideWindowCountsAsProgress(t *testing.T) {
	// Global min 0.3 first reached at index 2, which is still inside the
	// trailing 10 of 11 entries.
	h := append([]float64{0.5, 0.4}, repeat(0.3, 9)...)
	if Stalled(h, 10) {
		t.Fatal("minimum matched inside window; expected progress")
	}
	// One more flat score pushes index 2 out of the window, but 0.3 still
	// appears inside it, so the minima still agree.
	h = append(h, 0.3)
	if Stalled(h, 10) {
		t.Fatal("window minimum equals global minimum; expected progress")
	}
}

func TestStalledShortHistory(t *testing.T) {
	if Stalled(repeat(0.9, 10), 10) {
		t.Fatal("history of exactly window length is never stalled")
	}
	if Stalled(nil, 10) {
		t.Fatal("empty history is never stalled")
	}
}

func TestStopRequiresFloor(t *testing.T) {
	g := NewGate(DefaultConfig())
	h := append([]float64{0.1}, repeat(0.3, 10)...)

	if g.Stop(1e-3, h) {
		t.Fatal("stop must not fire above the learning-rate floor")
	}
	if !g.Stop(1e-4, h) {
		t.Fatal("expected stop at floor with stalled history")
	}
	if !g.Stop(5e-5, h) {
		t.Fatal("expected stop below floor with stalled history")
	}
}

func TestImproved(t *testing.T) {
	if !Improved(1.0, 0.4) {
		t.Fatal("0.4 improves on sentinel 1.0")
	}
	if Improved(0.4, 0.4) {
		t.Fatal("equal score is not an improvement")
	}
	if Improved(0.4, 0.41) {
		t.Fatal("worse score is not an improvement")
	}
}
