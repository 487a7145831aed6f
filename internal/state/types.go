package state

import "time"

// #region checkpoint-kind
// CheckpointKind separates the rolling history from best-so-far saves.
type CheckpointKind string

const (
	KindRolling CheckpointKind = "rolling"
	KindBest    CheckpointKind = "best"
)

// #endregion checkpoint-kind

// #region run-record
// RunRecord is one trainer process lifetime.
type RunRecord struct {
	RunID      string
	ConfigJSON string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Outcome    string    // "" | "completed" | "stalled_at_startup" | "stalled" | "failed"
}

// #endregion run-record

// #region checkpoint-record
// CheckpointRecord is the scheduler metadata stored next to a saved model.
type CheckpointRecord struct {
	ID           string
	RunID        string
	Kind         CheckpointKind
	GlobalStep   int64
	Epoch        float64
	LearningRate float64
	Loss         float64
	ErrorRate    float64
	Path         string
	Pruned       bool
	CreatedAt    time.Time
}

// #endregion checkpoint-record

// #region metric-record
// MetricRecord is one stored summary value.
type MetricRecord struct {
	RunID     string
	Name      string
	Step      int64
	Value     float64
	CreatedAt time.Time
}

// #endregion metric-record

// #region decision-record
// DecisionRecord pairs a provenance row with its run.
type DecisionRecord struct {
	RunID       string
	GlobalStep  int64
	TriggerType string
	Decision    string
	Reason      string
	SignalsJSON string
	CreatedAt   time.Time
}

// #endregion decision-record
