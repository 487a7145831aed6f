package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/checkpoint"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/policy"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	PriorHistory    []float64               `json:"prior_history"`
	Checkpoints     []FixtureCheckpoint     `json:"checkpoints"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureCheckpoint mirrors replay.Checkpoint with JSON tags.
type FixtureCheckpoint struct {
	Step      int64   `json:"step"`
	ErrorRate float64 `json:"error_rate"`
}

// FixtureExpectedResult captures the expected action per checkpoint.
type FixtureExpectedResult struct {
	Step   int64  `json:"step"`
	Action string `json:"action"`
}

// FixtureConfig mirrors ReplayConfig with JSON tags. Zero rates and windows
// take the defaults; min_steps is used as given and a missing best_score
// means the worst-score sentinel.
type FixtureConfig struct {
	MinSteps     int64    `json:"min_steps"`
	LRFloor      float64  `json:"lr_floor"`
	DecayWindow  int      `json:"decay_window"`
	StallWindow  int      `json:"stall_window"`
	LearningRate float64  `json:"learning_rate"`
	DecayFactor  float64  `json:"decay_factor"`
	BestScore    *float64 `json:"best_score"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.ExpectedResults) > len(f.Checkpoints) {
		return nil, fmt.Errorf("parse fixture %s: %d expected results for %d checkpoints",
			path, len(f.ExpectedResults), len(f.Checkpoints))
	}
	return &f, nil
}

// ToCheckpoints converts the fixture checkpoints to domain checkpoints.
func (f *Fixture) ToCheckpoints() []Checkpoint {
	out := make([]Checkpoint, len(f.Checkpoints))
	for i, c := range f.Checkpoints {
		out[i] = Checkpoint{Step: c.Step, ErrorRate: c.ErrorRate}
	}
	return out
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	def := DefaultReplayConfig()
	cfg := ReplayConfig{
		Policy: policy.Config{
			MinSteps:    fc.MinSteps,
			LRFloor:     orFloat(fc.LRFloor, def.Policy.LRFloor),
			DecayWindow: orInt(fc.DecayWindow, def.Policy.DecayWindow),
			StallWindow: orInt(fc.StallWindow, def.Policy.StallWindow),
		},
		LearningRate: orFloat(fc.LearningRate, def.LearningRate),
		DecayFactor:  orFloat(fc.DecayFactor, def.DecayFactor),
		Best:         checkpoint.WorstScore,
	}
	if fc.BestScore != nil {
		cfg.Best = *fc.BestScore
	}
	return cfg
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// #endregion fixture-loader
