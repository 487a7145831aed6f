package replay

import (
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/logging"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/state"
)

func tempDB(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.NewStore(filepath.Join(t.TempDir(), "trainer.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// logRun replays scores and writes each outcome to decision_log the way the
// training loop does: pre-decay learning rate and pre-checkpoint best.
func logRun(t *testing.T, store *state.Store, scores []float64, config ReplayConfig) []ReplayResult {
	t.Helper()
	results := Replay(nil, Checkpoints(scores, 0, 500), config)

	lr, best := config.LearningRate, config.Best
	th := logging.CheckpointThresholds{
		MinSteps:    config.Policy.MinSteps,
		LRFloor:     config.Policy.LRFloor,
		DecayWindow: config.Policy.DecayWindow,
		StallWindow: config.Policy.StallWindow,
	}
	for i, r := range results {
		sig, err := logging.EncodeSignals(logging.CheckpointSignals{
			GlobalStep:   r.Step,
			LearningRate: lr,
			ErrorRate:    r.ErrorRate,
			BestScore:    best,
			HistoryLen:   i + 1,
			Thresholds:   th,
		})
		if err != nil {
			t.Fatalf("EncodeSignals: %v", err)
		}
		err = logging.LogDecision(store.DB(), logging.DecisionEntry{
			RunID:       "run-1",
			GlobalStep:  r.Step,
			TriggerType: "checkpoint",
			SignalsJSON: sig,
			Decision:    string(r.Action),
		})
		if err != nil {
			t.Fatalf("LogDecision: %v", err)
		}
		lr, best = r.LearningRate, r.Best
	}
	return results
}

func TestLoadLoggedSkipsOtherTriggers(t *testing.T) {
	store := tempDB(t)
	logRun(t, store, []float64{0.5, 0.4}, eagerConfig(1e-3))
	if err := logging.LogDecision(store.DB(), logging.DecisionEntry{
		RunID: "run-1", GlobalStep: 3006, TriggerType: "epoch", Decision: "epoch_end",
	}); err != nil {
		t.Fatalf("LogDecision: %v", err)
	}

	logged, err := LoadLogged(store.DB())
	if err != nil {
		t.Fatalf("LoadLogged: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("expected 2 checkpoint rows, got %d", len(logged))
	}
	if logged[1].Step != 1000 || logged[1].Signals.ErrorRate != 0.4 {
		t.Errorf("unexpected second row: %+v", logged[1])
	}
}

// TestExportedFixtureReplays exports the tail of a logged run and checks that
// replaying it reproduces the logged decisions.
func TestExportedFixtureReplays(t *testing.T) {
	store := tempDB(t)
	scores := []float64{0.6, 0.5, 0.45, 0.4, 0.42, 0.46, 0.38, 0.47, 0.39}
	config := eagerConfig(4e-4)
	original := logRun(t, store, scores, config)

	logged, err := LoadLogged(store.DB())
	if err != nil {
		t.Fatalf("LoadLogged: %v", err)
	}
	f, err := FixtureFromLogged(logged, 4, config.DecayFactor)
	if err != nil {
		t.Fatalf("FixtureFromLogged: %v", err)
	}
	if len(f.PriorHistory) != 5 {
		t.Fatalf("expected 5 prior scores, got %d", len(f.PriorHistory))
	}
	if f.Config.BestScore == nil || *f.Config.BestScore != 0.4 {
		t.Fatalf("expected best 0.4 before the tail, got %v", f.Config.BestScore)
	}

	results := Replay(f.PriorHistory, f.ToCheckpoints(), f.Config.ToReplayConfig())
	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}
	for i, exp := range f.ExpectedResults {
		if string(results[i].Action) != exp.Action {
			t.Errorf("step %d: expected %s, got %s (%s)", exp.Step, exp.Action, results[i].Action, results[i].Reason)
		}
		if want := original[5+i].Action; results[i].Action != want {
			t.Errorf("step %d: export diverged from the original run: %s vs %s", exp.Step, results[i].Action, want)
		}
	}
}

func TestFixtureFromLoggedEmpty(t *testing.T) {
	if _, err := FixtureFromLogged(nil, 3, 0.5); err == nil {
		t.Fatal("expected error for an empty log")
	}
}

func TestFixtureFromLoggedAll(t *testing.T) {
	store := tempDB(t)
	logRun(t, store, []float64{0.5, 0.4, 0.3}, eagerConfig(1e-3))
	logged, err := LoadLogged(store.DB())
	if err != nil {
		t.Fatalf("LoadLogged: %v", err)
	}

	f, err := FixtureFromLogged(logged, 0, 0.5)
	if err != nil {
		t.Fatalf("FixtureFromLogged: %v", err)
	}
	if len(f.Checkpoints) != 3 || len(f.PriorHistory) != 0 {
		t.Errorf("expected full export, got %d checkpoints after %d prior", len(f.Checkpoints), len(f.PriorHistory))
	}
	if *f.Config.BestScore != 1.0 {
		t.Errorf("expected sentinel best, got %g", *f.Config.BestScore)
	}
}
