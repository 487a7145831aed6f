package replay

import (
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/checkpoint"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/policy"
)

// #region types
// Checkpoint is a single recorded evaluation to replay.
type Checkpoint struct {
	Step      int64
	ErrorRate float64
}

// ReplayConfig bundles the policy thresholds and the starting training
// state for a replay run.
type ReplayConfig struct {
	Policy       policy.Config
	LearningRate float64 // learning rate before the first replayed checkpoint
	DecayFactor  float64 // multiplier applied on every decay
	Best         float64 // best score before the first replayed checkpoint
}

// DefaultReplayConfig returns the stock policy with a fresh-start learning
// rate and the worst-score sentinel as best.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Policy:       policy.DefaultConfig(),
		LearningRate: 1e-3,
		DecayFactor:  0.5,
		Best:         checkpoint.WorstScore,
	}
}

// ReplayResult captures the outcome of replaying one checkpoint.
type ReplayResult struct {
	Step         int64
	ErrorRate    float64
	Action       policy.Action // "stall_stop" | "decay_lr" | "new_best" | "no_op"
	Reason       string
	LearningRate float64 // after any decay
	Best         float64 // after any improvement
	HistoryLen   int
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalCheckpoints int
	Decays           int
	NewBests         int
	NoOps            int
	Stopped          bool
	StoppedAt        int64
	FinalLR          float64
	FinalBest        float64
}

// #endregion types

// #region replay

// StalledAtStartup reports whether a run starting from prior history and the
// configured learning rate would stop before taking a single step.
func StalledAtStartup(prior []float64, config ReplayConfig) bool {
	return policy.NewGate(config.Policy).Stop(config.LearningRate, prior)
}

// Replay walks the checkpoints in order, applying the decay, stop and best
// decisions the way the training loop does. Operates entirely in-memory.
// Replay ends at the first stop; later checkpoints are never reached.
func Replay(prior []float64, checkpoints []Checkpoint, config ReplayConfig) []ReplayResult {
	gate := policy.NewGate(config.Policy)
	history := append([]float64(nil), prior...)
	lr := config.LearningRate
	best := config.Best
	results := make([]ReplayResult, 0, len(checkpoints))

	for _, cp := range checkpoints {
		// 1. Decay against the history before this score
		decision := gate.Decay(policy.Input{
			GlobalStep:   cp.Step,
			LearningRate: lr,
			Prior:        history,
			Current:      cp.ErrorRate,
		})
		decayed := decision.Action == policy.ActionDecayLR
		if decayed {
			lr *= config.DecayFactor
		}
		history = append(history, cp.ErrorRate)

		// 2. Stop preempts every save
		if gate.Stop(lr, history) {
			results = append(results, ReplayResult{
				Step:         cp.Step,
				ErrorRate:    cp.ErrorRate,
				Action:       policy.ActionStop,
				Reason:       "stalled at learning rate floor",
				LearningRate: lr,
				Best:         best,
				HistoryLen:   len(history),
			})
			break
		}

		// 3. Best
		newBest := policy.Improved(best, cp.ErrorRate)
		if newBest {
			best = cp.ErrorRate
		}

		action := policy.ActionNoOp
		switch {
		case decayed:
			action = policy.ActionDecayLR
		case newBest:
			action = policy.ActionNewBest
		}
		results = append(results, ReplayResult{
			Step:         cp.Step,
			ErrorRate:    cp.ErrorRate,
			Action:       action,
			Reason:       decision.Reason,
			LearningRate: lr,
			Best:         best,
			HistoryLen:   len(history),
		})
	}

	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, config ReplayConfig) ReplaySummary {
	s := ReplaySummary{
		TotalCheckpoints: len(results),
		FinalLR:          config.LearningRate,
		FinalBest:        config.Best,
	}
	for _, r := range results {
		switch r.Action {
		case policy.ActionDecayLR:
			s.Decays++
		case policy.ActionNewBest:
			s.NewBests++
		case policy.ActionNoOp:
			s.NoOps++
		case policy.ActionStop:
			s.Stopped = true
			s.StoppedAt = r.Step
		}
		s.FinalLR = r.LearningRate
		s.FinalBest = r.Best
	}
	return s
}

// Checkpoints pairs a bare error history with synthetic steps spaced
// interval apart, starting one interval after startStep.
func Checkpoints(history []float64, startStep, interval int64) []Checkpoint {
	out := make([]Checkpoint, len(history))
	for i, v := range history {
		out[i] = Checkpoint{Step: startStep + int64(i+1)*interval, ErrorRate: v}
	}
	return out
}

// #endregion replay
