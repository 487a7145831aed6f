package state

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartAndFinishRun(t *testing.T) {
	s := tempDB(t)

	run, err := s.StartRun(`{"lm_prob":0.2}`)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.RunID == "" {
		t.Fatal("expected non-empty run ID")
	}

	if err := s.FinishRun(run.RunID, "completed"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Outcome != "completed" {
		t.Fatalf("expected outcome completed, got %q", runs[0].Outcome)
	}
	if runs[0].FinishedAt.IsZero() {
		t.Fatal("expected finished_at to be set")
	}
	if runs[0].ConfigJSON != `{"lm_prob":0.2}` {
		t.Fatalf("config not round-tripped: %q", runs[0].ConfigJSON)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	s := tempDB(t)
	err := s.FinishRun("missing", "failed")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestCheckpointByKind(t *testing.T) {
	s := tempDB(t)
	run, _ := s.StartRun("")

	for _, step := range []int64{500, 1000, 1500} {
		_, err := s.RecordCheckpoint(CheckpointRecord{
			RunID: run.RunID, Kind: KindRolling, GlobalStep: step,
			Epoch: float64(step) / 3006, LearningRate: 1e-3, Loss: 1.2, ErrorRate: 0.4,
			Path: filepath.Join("train", "asr.ckpt"),
		})
		if err != nil {
			t.Fatalf("RecordCheckpoint: %v", err)
		}
	}
	if _, err := s.RecordCheckpoint(CheckpointRecord{
		RunID: run.RunID, Kind: KindBest, GlobalStep: 1000, ErrorRate: 0.35, Path: "best",
	}); err != nil {
		t.Fatalf("RecordCheckpoint best: %v", err)
	}

	latest, err := s.LatestCheckpoint(KindRolling)
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if latest.GlobalStep != 1500 {
		t.Fatalf("expected step 1500, got %d", latest.GlobalStep)
	}
	if latest.ID == "" || latest.CreatedAt.IsZero() {
		t.Fatal("expected ID and created_at to be filled")
	}

	best, err := s.LatestCheckpoint(KindBest)
	if err != nil {
		t.Fatalf("LatestCheckpoint best: %v", err)
	}
	if best.ErrorRate != 0.35 {
		t.Fatalf("expected best error 0.35, got %f", best.ErrorRate)
	}
}

func TestLatestCheckpointEmpty(t *testing.T) {
	s := tempDB(t)
	_, err := s.LatestCheckpoint(KindRolling)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkPrunedHidesCheckpoint(t *testing.T) {
	s := tempDB(t)
	run, _ := s.StartRun("")

	old, _ := s.RecordCheckpoint(CheckpointRecord{RunID: run.RunID, Kind: KindBest, GlobalStep: 500, Path: "a"})
	_, _ = s.RecordCheckpoint(CheckpointRecord{RunID: run.RunID, Kind: KindBest, GlobalStep: 1000, Path: "b"})

	if err := s.MarkPruned(old.ID); err != nil {
		t.Fatalf("MarkPruned: %v", err)
	}

	live, err := s.ListCheckpoints(KindBest, false, 10)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(live) != 1 || live[0].GlobalStep != 1000 {
		t.Fatalf("expected only step 1000 live, got %+v", live)
	}

	all, _ := s.ListCheckpoints("", true, 10)
	if len(all) != 2 {
		t.Fatalf("expected 2 rows including pruned, got %d", len(all))
	}
	if !all[1].Pruned {
		t.Fatal("expected older row flagged pruned")
	}

	if err := s.MarkPruned("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordCheckpointRequiresRun(t *testing.T) {
	s := tempDB(t)
	_, err := s.RecordCheckpoint(CheckpointRecord{RunID: "ghost", Kind: KindRolling, Path: "x"})
	if err == nil {
		t.Fatal("expected foreign key violation for unknown run")
	}
}

func TestMetricsNewestFirst(t *testing.T) {
	s := tempDB(t)

	_ = s.RecordMetric("r", "ASR Error", 500, 0.5)
	_ = s.RecordMetric("r", "ASR Error", 1000, 0.4)
	_ = s.RecordMetric("r", "Learning rate", 1000, 1e-3)

	rows, err := s.ListMetrics("ASR Error", 10)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Step != 1000 || rows[0].Value != 0.4 {
		t.Fatalf("expected newest first, got %+v", rows[0])
	}

	all, _ := s.ListMetrics("", 10)
	if len(all) != 3 {
		t.Fatalf("expected 3 rows total, got %d", len(all))
	}
}

func TestMetricInfinity(t *testing.T) {
	s := tempDB(t)
	if err := s.RecordMetric("r", "ASR Perplexity", 500, math.Inf(1)); err != nil {
		t.Fatalf("RecordMetric: %v", err)
	}
	rows, err := s.ListMetrics("ASR Perplexity", 1)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(rows) != 1 || !math.IsInf(rows[0].Value, 1) {
		t.Fatalf("expected +Inf stored, got %+v", rows)
	}
}

func TestListDecisionsEmpty(t *testing.T) {
	s := tempDB(t)
	rows, err := s.ListDecisions(5)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}
