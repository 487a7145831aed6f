package policy

// #region action
// Action enumerates the scheduler-visible outcomes of a checkpoint decision.
type Action string

const (
	ActionNoOp    Action = "no_op"
	ActionDecayLR Action = "decay_lr"
	ActionNewBest Action = "new_best"
	ActionStop    Action = "stall_stop"
)

// #endregion action

// #region config
// Config holds the thresholds for decay and stop decisions.
type Config struct {
	MinSteps    int64   // decay is not considered before this global step
	LRFloor     float64 // decay only above it, stop only at or below it
	DecayWindow int     // compare against the worst of this many prior scores
	StallWindow int     // stop when the global best is older than this many checkpoints
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinSteps:    25000,
		LRFloor:     1e-4,
		DecayWindow: 3,
		StallWindow: 10,
	}
}

// #endregion config

// #region input
// Input is everything the decay decision looks at for one checkpoint.
type Input struct {
	GlobalStep   int64
	LearningRate float64
	Prior        []float64 // error history before the current score
	Current      float64
}

// #endregion input

// #region decision
// Decision is the output of a decay evaluation.
type Decision struct {
	Action Action // ActionDecayLR | ActionNoOp
	Reason string
}

// #endregion decision
