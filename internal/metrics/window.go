package metrics

import (
	"math"
	"time"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/clock"
)

// OverflowLoss is the loss at which perplexity is reported as +Inf
// instead of evaluating exp.
const OverflowLoss = 300.0

// Perplexity returns exp(loss), or +Inf once loss reaches OverflowLoss.
func Perplexity(loss float64) float64 {
	if loss >= OverflowLoss {
		return math.Inf(1)
	}
	return math.Exp(loss)
}

// Window accumulates the average loss over one checkpoint interval.
// Each step contributes loss/interval, so after a full interval Loss is the
// interval mean.
type Window struct {
	interval int
	steps    int64 // total steps added since creation
	loss     float64
	started  time.Time
}

// Snapshot is a point-in-time view of a window.
type Snapshot struct {
	Steps      int64
	Loss       float64
	Perplexity float64
	Elapsed    time.Duration
}

// NewWindow creates a window that closes every interval steps.
func NewWindow(interval int) *Window {
	if interval <= 0 {
		interval = 1
	}
	return &Window{interval: interval, started: clock.Now()}
}

// Add records one step's loss and reports whether the step completes an interval.
func (w *Window) Add(loss float64) bool {
	w.loss += loss / float64(w.interval)
	w.steps++
	return w.steps%int64(w.interval) == 0
}

// Steps returns the number of steps recorded since creation.
func (w *Window) Steps() int64 {
	return w.steps
}

// Snapshot returns the current window contents without resetting them.
func (w *Window) Snapshot() Snapshot {
	return Snapshot{
		Steps:      w.steps,
		Loss:       w.loss,
		Perplexity: Perplexity(w.loss),
		Elapsed:    clock.Since(w.started),
	}
}

// Reset clears the accumulated loss and restarts the interval timer.
// The step count is kept so the cadence stays aligned.
func (w *Window) Reset() {
	w.loss = 0
	w.started = clock.Now()
}
