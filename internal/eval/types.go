package eval

import "time"

// #region eval-config
// EvalConfig holds sanity bounds for dev-set scores.
type EvalConfig struct {
	MaxErrorRate float64 // warn above this; such a score can never become best
}

// DefaultEvalConfig matches the best-score sentinel.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxErrorRate: 1.0,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of one dev-set evaluation.
type EvalResult struct {
	ErrorRate float64
	Duration  time.Duration
	Metrics   []EvalMetric
	Reason    string
}

// #endregion eval-result
