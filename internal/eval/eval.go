package eval

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/clock"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
)

// ErrBadScore is returned when the evaluator produces a score the
// scheduler cannot compare.
var ErrBadScore = errors.New("evaluator returned unusable score")

// #region eval-harness
// EvalHarness times a dev-set evaluation and validates its score.
type EvalHarness struct {
	config    EvalConfig
	evaluator model.Evaluator
}

// NewEvalHarness creates an eval harness around the model's evaluator.
func NewEvalHarness(config EvalConfig, evaluator model.Evaluator) *EvalHarness {
	return &EvalHarness{config: config, evaluator: evaluator}
}

// Run evaluates the current parameters once. Evaluator failures and
// NaN, infinite or negative scores are returned as errors.
func (h *EvalHarness) Run(ctx context.Context) (EvalResult, error) {
	start := clock.Now()
	score, err := h.evaluator.Evaluate(ctx)
	elapsed := clock.Since(start)
	if err != nil {
		return EvalResult{Duration: elapsed}, fmt.Errorf("evaluate: %w", err)
	}

	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return EvalResult{Duration: elapsed}, fmt.Errorf("%w: %v", ErrBadScore, score)
	}

	// Range check is informational only; the score is still recorded.
	inRange := score <= h.config.MaxErrorRate
	metrics := []EvalMetric{
		{Name: "error_rate", Value: score, Pass: true},
		{Name: "error_rate_in_range", Value: score, Pass: inRange},
		{Name: "decode_seconds", Value: elapsed.Seconds(), Pass: true},
	}

	reason := "all checks passed"
	if !inRange {
		reason = fmt.Sprintf("error rate %.4f exceeds %.4f", score, h.config.MaxErrorRate)
	}

	return EvalResult{
		ErrorRate: score,
		Duration:  elapsed,
		Metrics:   metrics,
		Reason:    reason,
	}, nil
}

// #endregion eval-harness
