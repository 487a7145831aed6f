package eval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/clock"
)

type fixedEvaluator struct {
	score float64
	err   error
	calls int
}

func (f *fixedEvaluator) Evaluate(context.Context) (float64, error) {
	f.calls++
	return f.score, f.err
}

func TestEvalPassesOnNormalScore(t *testing.T) {
	ev := &fixedEvaluator{score: 0.31}
	h := NewEvalHarness(DefaultEvalConfig(), ev)

	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ErrorRate != 0.31 {
		t.Fatalf("expected 0.31, got %f", result.ErrorRate)
	}
	if len(result.Metrics) != 3 {
		t.Fatalf("expected 3 metrics, got %d", len(result.Metrics))
	}
	if ev.calls != 1 {
		t.Fatalf("expected one evaluator call, got %d", ev.calls)
	}
}

func TestEvalRejectsUnusableScores(t *testing.T) {
	for _, score := range []float64{math.NaN(), math.Inf(1), -0.1} {
		h := NewEvalHarness(DefaultEvalConfig(), &fixedEvaluator{score: score})
		_, err := h.Run(context.Background())
		if !errors.Is(err, ErrBadScore) {
			t.Fatalf("score %v: expected ErrBadScore, got %v", score, err)
		}
	}
}

func TestEvalPropagatesEvaluatorError(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig(), &fixedEvaluator{err: errors.New("decode crashed")})
	if _, err := h.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestEvalOutOfRangeInformationalOnly(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig(), &fixedEvaluator{score: 1.3})

	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("out-of-range score should not error: %v", err)
	}
	if result.Metrics[1].Pass {
		t.Fatal("expected range check to fail")
	}
	if result.Reason == "all checks passed" {
		t.Fatal("expected reason to mention range")
	}
}

func TestEvalMeasuresDuration(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock.NowFunc = func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 42 * time.Second)
	}
	t.Cleanup(func() { clock.NowFunc = time.Now })

	h := NewEvalHarness(DefaultEvalConfig(), &fixedEvaluator{score: 0.2})
	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Duration != 42*time.Second {
		t.Fatalf("expected 42s, got %s", result.Duration)
	}
}
