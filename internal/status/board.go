package status

import (
	"sync"
	"time"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/clock"
)

// Phase is the coarse scheduler state shown on the board.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseTraining   Phase = "training"
	PhaseEvaluating Phase = "evaluating"
	PhaseStopped    Phase = "stopped"
)

// Snapshot is the board content served over HTTP.
type Snapshot struct {
	RunID          string    `json:"run_id"`
	Phase          Phase     `json:"phase"`
	Outcome        string    `json:"outcome,omitempty"`
	GlobalStep     int64     `json:"global_step"`
	Epoch          float64   `json:"epoch"`
	LMEpoch        int64     `json:"lm_epoch"`
	LearningRate   float64   `json:"learning_rate"`
	ActiveBuckets  []int     `json:"active_buckets"`
	BestScore      float64   `json:"best_score"`
	LastScore      float64   `json:"last_score"`
	Checkpoints    int       `json:"checkpoints"`
	LastCheckpoint string    `json:"last_checkpoint,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Board is a concurrency-safe holder for the latest scheduler snapshot and
// error history. The scheduler writes; HTTP handlers read.
type Board struct {
	mu      sync.RWMutex
	snap    Snapshot
	history []float64
}

// NewBoard creates an empty board for runID.
func NewBoard(runID string) *Board {
	return &Board{snap: Snapshot{RunID: runID, Phase: PhaseStarting, UpdatedAt: clock.Now()}}
}

// Update applies fn to the snapshot under the write lock.
func (b *Board) Update(fn func(*Snapshot)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.snap)
	b.snap.UpdatedAt = clock.Now()
}

// SetHistory replaces the error history copy.
func (b *Board) SetHistory(h []float64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history[:0], h...)
}

// Snapshot returns a copy of the current snapshot.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.snap
	s.ActiveBuckets = append([]int(nil), b.snap.ActiveBuckets...)
	return s
}

// History returns a copy of the error history.
func (b *Board) History() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]float64(nil), b.history...)
}
