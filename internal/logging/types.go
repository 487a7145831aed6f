package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	RunID       string
	GlobalStep  int64
	TriggerType string // "checkpoint" | "startup" | "epoch"
	SignalsJSON string
	Decision    string // "no_op" | "decay_lr" | "new_best" | "stall_stop" | "epoch_end"
	Reason      string
	CreatedAt   time.Time
}

// #endregion decision-entry

// #region checkpoint-record
// CheckpointSignals captures the complete decision inputs for a single
// checkpoint. Serialized as JSON into decision_log.signals_json so the
// decision can be replayed from the ledger alone.
type CheckpointSignals struct {
	GlobalStep   int64   `json:"global_step"`
	Epoch        float64 `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	Loss         float64 `json:"loss"`
	Perplexity   float64 `json:"perplexity"`
	ErrorRate    float64 `json:"error_rate"`
	BestScore    float64 `json:"best_score"`
	HistoryLen   int     `json:"history_len"`

	// Thresholds active at decision time
	Thresholds CheckpointThresholds `json:"thresholds"`

	// Outcome
	Decayed     bool    `json:"decayed"`
	NewLR       float64 `json:"new_lr,omitempty"`
	NewBest     bool    `json:"new_best"`
	Stopped     bool    `json:"stopped"`
	DecayReason string  `json:"decay_reason"`
}

// CheckpointThresholds captures the policy config active at decision time.
type CheckpointThresholds struct {
	MinSteps    int64   `json:"min_steps"`
	LRFloor     float64 `json:"lr_floor"`
	DecayWindow int     `json:"decay_window"`
	StallWindow int     `json:"stall_window"`
}

// #endregion checkpoint-record
