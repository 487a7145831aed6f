package policy

import (
	"fmt"
	"math"
)

// #region gate
// Gate decides learning-rate decay and convergence stops at checkpoint
// boundaries. The three checks use different windows: worst of the last
// DecayWindow scores for decay, the last StallWindow scores against the
// global best for stopping, and the running best for best-model saves.
type Gate struct {
	config Config
}

// NewGate creates a gate with the given configuration.
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// Config returns the thresholds the gate was built with.
func (g *Gate) Config() Config {
	return g.config
}

// Decay reports whether the learning rate should be decayed after scoring
// in.Current. The current score must not already be part of in.Prior.
func (g *Gate) Decay(in Input) Decision {
	if in.GlobalStep < g.config.MinSteps {
		return Decision{
			Action: ActionNoOp,
			Reason: fmt.Sprintf("step %d below min_steps %d", in.GlobalStep, g.config.MinSteps),
		}
	}
	if len(in.Prior) <= g.config.DecayWindow {
		return Decision{
			Action: ActionNoOp,
			Reason: fmt.Sprintf("only %d prior scores", len(in.Prior)),
		}
	}

	worst := maxOf(in.Prior[len(in.Prior)-g.config.DecayWindow:])
	if in.Current < worst {
		return Decision{
			Action: ActionNoOp,
			Reason: fmt.Sprintf("score %.4f beats recent worst %.4f", in.Current, worst),
		}
	}
	if !(in.LearningRate > g.config.LRFloor) {
		return Decision{
			Action: ActionNoOp,
			Reason: fmt.Sprintf("learning rate %.6f already at floor", in.LearningRate),
		}
	}

	return Decision{
		Action: ActionDecayLR,
		Reason: fmt.Sprintf("score %.4f >= worst of last %d (%.4f)", in.Current, g.config.DecayWindow, worst),
	}
}

// Stop reports whether training has converged: the learning rate is at or
// below the floor and the error history has stalled. Startup and the
// checkpoint loop both call this.
func (g *Gate) Stop(learningRate float64, history []float64) bool {
	if learningRate > g.config.LRFloor {
		return false
	}
	return Stalled(history, g.config.StallWindow)
}

// #endregion gate

// #region predicates

// Stalled reports whether no improvement happened in the last window scores:
// the history is longer than window and its global minimum differs from the
// minimum of the trailing window.
func Stalled(history []float64, window int) bool {
	if len(history) <= window {
		return false
	}
	return minOf(history) != minOf(history[len(history)-window:])
}

// Improved reports whether current strictly beats best.
func Improved(best, current float64) bool {
	return current < best
}

// #endregion predicates

// #region helpers
func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		if x < m {
			m = x
		}
	}
	return m
}

// #endregion helpers
