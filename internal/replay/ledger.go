package replay

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/logging"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/policy"
)

// #region ledger

// LoggedCheckpoint is a checkpoint decision read back from decision_log.
type LoggedCheckpoint struct {
	Step     int64
	Signals  logging.CheckpointSignals
	Decision string
}

// LoadLogged reads every checkpoint decision in insertion order. Rows without
// signals are skipped.
func LoadLogged(db *sql.DB) ([]LoggedCheckpoint, error) {
	rows, err := db.Query(
		`SELECT global_step, signals_json, decision FROM decision_log
		 WHERE trigger_type = 'checkpoint' ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query decision_log: %w", err)
	}
	defer rows.Close()

	var out []LoggedCheckpoint
	for rows.Next() {
		var r LoggedCheckpoint
		var sigJSON sql.NullString
		if err := rows.Scan(&r.Step, &sigJSON, &r.Decision); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if !sigJSON.Valid || sigJSON.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(sigJSON.String), &r.Signals); err != nil {
			return nil, fmt.Errorf("parse signals at step %d: %w", r.Step, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// ConfigFromLogged seeds a replay from the first logged checkpoint: its
// thresholds, its pre-decay learning rate and its pre-checkpoint best.
func ConfigFromLogged(first LoggedCheckpoint, decayFactor float64) ReplayConfig {
	th := first.Signals.Thresholds
	return ReplayConfig{
		Policy: policy.Config{
			MinSteps:    th.MinSteps,
			LRFloor:     th.LRFloor,
			DecayWindow: th.DecayWindow,
			StallWindow: th.StallWindow,
		},
		LearningRate: first.Signals.LearningRate,
		DecayFactor:  decayFactor,
		Best:         first.Signals.BestScore,
	}
}

// FixtureFromLogged builds a regression fixture from the last n logged
// checkpoints. Earlier logged scores become the prior history. n <= 0
// exports everything.
func FixtureFromLogged(logged []LoggedCheckpoint, n int, decayFactor float64) (Fixture, error) {
	if len(logged) == 0 {
		return Fixture{}, fmt.Errorf("no logged checkpoints")
	}
	if n <= 0 || n > len(logged) {
		n = len(logged)
	}
	start := len(logged) - n
	tail := logged[start:]

	prior := make([]float64, 0, start)
	for _, r := range logged[:start] {
		prior = append(prior, r.Signals.ErrorRate)
	}

	cfg := ConfigFromLogged(tail[0], decayFactor)
	best := cfg.Best
	f := Fixture{
		Description: fmt.Sprintf("Exported from decision_log: %d checkpoints after %d prior scores", n, start),
		Config: FixtureConfig{
			MinSteps:     cfg.Policy.MinSteps,
			LRFloor:      cfg.Policy.LRFloor,
			DecayWindow:  cfg.Policy.DecayWindow,
			StallWindow:  cfg.Policy.StallWindow,
			LearningRate: cfg.LearningRate,
			DecayFactor:  cfg.DecayFactor,
			BestScore:    &best,
		},
		PriorHistory:    prior,
		Checkpoints:     make([]FixtureCheckpoint, n),
		ExpectedResults: make([]FixtureExpectedResult, n),
	}
	for i, r := range tail {
		f.Checkpoints[i] = FixtureCheckpoint{Step: r.Step, ErrorRate: r.Signals.ErrorRate}
		f.ExpectedResults[i] = FixtureExpectedResult{Step: r.Step, Action: r.Decision}
	}
	return f, nil
}

// #endregion ledger
