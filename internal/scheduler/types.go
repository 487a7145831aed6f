package scheduler

import (
	"context"
	"database/sql"
	"math/rand"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/checkpoint"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/dataset"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/eval"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/metrics"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/policy"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/status"
)

// #region termination

// TerminationSignal tells the caller how the run ended. The scheduler never
// exits the process itself.
type TerminationSignal string

const (
	// Completed: the epoch bound was reached.
	Completed TerminationSignal = "completed"
	// StalledAtStartup: the reloaded history already met the stop predicate.
	StalledAtStartup TerminationSignal = "stalled_at_startup"
	// Stalled: the stop predicate fired at a checkpoint.
	Stalled TerminationSignal = "stalled"
	// Cancelled: the context was cancelled between steps.
	Cancelled TerminationSignal = "cancelled"
	// Failed: a collaborator returned an error.
	Failed TerminationSignal = "failed"
)

// #endregion termination

// #region session

// Session is the scheduler's owned training state. It is rebuilt from the
// worker and the train directory on every start.
type Session struct {
	GlobalStep   int64
	LearningRate float64
	Epoch        float64 // global_step / steps_per_epoch at start, +1 per finished epoch
	LMEpoch      int64
	History      []float64
	Best         float64
	Resumed      bool
	Restored     string // checkpoint path when Resumed
}

// #endregion session

// #region deps

// DataSource lists training, dev and LM shards. *dataset.Provider satisfies it.
type DataSource interface {
	Buckets(ctx context.Context) ([]dataset.Bucket, error)
	DevFiles(ctx context.Context) ([]string, error)
	LMFiles(ctx context.Context) ([]string, error)
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Model       model.Model
	Eval        *eval.EvalHarness
	Data        DataSource
	Checkpoints *checkpoint.Manager
	Gate        *policy.Gate
	Sink        metrics.Sink
	DB          *sql.DB       // decision log; nil disables it
	Board       *status.Board // nil disables status updates
	RNG         *rand.Rand
	RunID       string
}

// Options are the loop knobs.
type Options struct {
	MaxEpochs          float64
	StepsPerCheckpoint int
	StepsPerEpoch      int64
	LMProb             float64
	Seed               int64
	PretrainPaths      []string // imported in order on a fresh start; empty entries are skipped
}

// #endregion deps
