package model

import "context"

// #region task

// Task selects which objective a gradient step trains.
type Task string

const (
	TaskASR Task = "asr"
	TaskLM  Task = "lm"
)

// #endregion task

// #region stream

// StreamHandle identifies an initialized data iterator inside the worker.
type StreamHandle string

// StreamSpec describes one bucket iterator to open for the current epoch.
type StreamSpec struct {
	Name      string
	Bucket    int
	BatchSize int
	Files     []string
	Shuffle   bool // shuffle examples inside the bucket
}

// StepResult is the outcome of one pull-and-update on a stream.
// Exhausted reports end-of-stream; Loss is meaningless in that case.
type StepResult struct {
	Loss      float64
	Exhausted bool
}

// #endregion stream

// #region state

// State is the worker-side training state the scheduler reads back.
type State struct {
	GlobalStep   int64
	LearningRate float64
	Epoch        int64
	LMGlobalStep int64
	LMEpoch      int64
}

// SetupRequest carries the data the worker needs to build its graphs.
// LMFiles is empty when the LM task is disabled.
type SetupRequest struct {
	DevFiles []string
	LMFiles  []string
	Seed     int64
}

// #endregion state

// #region interfaces

// Model is the external training session: it owns model parameters,
// step counters and the learning rate. Every call blocks until the worker
// has finished.
type Model interface {
	Setup(ctx context.Context, req SetupRequest) error
	Initialize(ctx context.Context) error
	// ImportVariables warm-starts the variables shared with a pretrained checkpoint.
	ImportVariables(ctx context.Context, path string) error
	Restore(ctx context.Context, path string) error
	State(ctx context.Context) (State, error)

	OpenStream(ctx context.Context, spec StreamSpec) (StreamHandle, error)
	// ResetLMStream reshuffles and reinitializes the LM iterator and returns the new LM epoch.
	ResetLMStream(ctx context.Context) (int64, error)
	// Step runs one update for task. For TaskLM the handle is ignored.
	Step(ctx context.Context, task Task, handle StreamHandle) (StepResult, error)

	DecayLearningRate(ctx context.Context) (float64, error)
	IncrementEpoch(ctx context.Context) (int64, error)
	// Save writes a checkpoint under prefix (suffixed with the global step) and returns its path.
	Save(ctx context.Context, prefix string) (string, error)
}

// Evaluator scores the current parameters on the dev set. Lower is better.
type Evaluator interface {
	Evaluate(ctx context.Context) (float64, error)
}

// #endregion interfaces
