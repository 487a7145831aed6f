package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/viant/afs"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/checkpoint"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/policy"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/replay"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to trainer.db (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	trainDir := flag.String("train-dir", "", "train directory holding asr_err.txt (history mode)")
	lr := flag.Float64("lr", 1e-3, "learning rate before the first checkpoint (history mode)")
	decay := flag.Float64("decay-factor", 0.5, "learning rate decay factor")
	interval := flag.Int64("interval", 500, "steps between checkpoints (history mode)")
	startStep := flag.Int64("start-step", 0, "global step before the first checkpoint (history mode)")
	minSteps := flag.Int64("min-steps", policy.DefaultConfig().MinSteps, "steps before decay is considered (history mode)")
	flag.Parse()

	modes := 0
	for _, v := range []string{*dbPath, *fixturePath, *trainDir} {
		if v != "" {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/trainer.db [--decay-factor 0.5]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		fmt.Fprintln(os.Stderr, "       replay --train-dir path/to/train [--lr 1e-3] [--interval 500] [--start-step 0] [--min-steps 25000]")
		os.Exit(2)
	}

	var exitCode int
	switch {
	case *fixturePath != "":
		exitCode = runFixtureMode(*fixturePath)
	case *trainDir != "":
		config := replay.DefaultReplayConfig()
		config.LearningRate = *lr
		config.DecayFactor = *decay
		config.Policy.MinSteps = *minSteps
		exitCode = runHistoryMode(*trainDir, *startStep, *interval, config)
	default:
		exitCode = runDBMode(*dbPath, *decay)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region db-extract

// runDBMode replays every logged checkpoint as one continuous history, seeded
// with the learning rate, best score and thresholds recorded on the first row.
func runDBMode(dbPath string, decayFactor float64) int {
	store, err := state.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	logged, err := replay.LoadLogged(store.DB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	if len(logged) == 0 {
		fmt.Fprintln(os.Stderr, "no checkpoint entries found in decision_log")
		return 2
	}

	if n := logged[0].Signals.HistoryLen; n > 1 {
		fmt.Fprintf(os.Stderr, "warning: first logged checkpoint had %d prior scores not in the log\n", n-1)
	}
	config := replay.ConfigFromLogged(logged[0], decayFactor)

	checkpoints := make([]replay.Checkpoint, len(logged))
	expected := make([]string, len(logged))
	for i, r := range logged {
		checkpoints[i] = replay.Checkpoint{Step: r.Step, ErrorRate: r.Signals.ErrorRate}
		expected[i] = r.Decision
	}

	results := replay.Replay(nil, checkpoints, config)
	return printComparison(results, expected)
}

// #endregion db-extract

// #region history

// runHistoryMode replays asr_err.txt from a train dir. The file carries no
// steps, so checkpoints are spaced interval apart after startStep.
func runHistoryMode(trainDir string, startStep, interval int64, config replay.ReplayConfig) int {
	ctx := context.Background()
	mgr := checkpoint.NewManager(afs.New(), checkpoint.Options{TrainDir: trainDir}, nil, "")
	history := mgr.LoadHistory(ctx)
	if len(history) == 0 {
		fmt.Fprintf(os.Stderr, "no error history in %s\n", trainDir)
		return 2
	}

	results := replay.Replay(nil, replay.Checkpoints(history, startStep, interval), config)
	printResults(results)
	printSummary(replay.Summarize(results, config))
	return 0
}

// #endregion history

// #region output

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	config := f.Config.ToReplayConfig()
	if replay.StalledAtStartup(f.PriorHistory, config) {
		fmt.Println("prior history already stalled at the learning rate floor")
	}
	results := replay.Replay(f.PriorHistory, f.ToCheckpoints(), config)

	expected := make([]string, len(f.ExpectedResults))
	for i, e := range f.ExpectedResults {
		expected[i] = e.Action
	}

	return printComparison(results, expected)
}

func printResults(results []replay.ReplayResult) {
	fmt.Printf("%-10s| %-10s| %-12s| %-12s| %s\n", "Step", "Error", "Action", "LR", "Best")
	fmt.Printf("%-10s+%-11s+%-13s+%-13s+%s\n", "----------", "-----------", "-------------", "-------------", "------")
	for _, r := range results {
		fmt.Printf("%-10d| %-10.4f| %-12s| %-12.6f| %.4f\n", r.Step, r.ErrorRate, r.Action, r.LearningRate, r.Best)
	}
}

func printSummary(s replay.ReplaySummary) {
	fmt.Printf("\nSummary: %d checkpoints, %d new best, %d decays, %d no-op",
		s.TotalCheckpoints, s.NewBests, s.Decays, s.NoOps)
	if s.Stopped {
		fmt.Printf(", stopped at step %d", s.StoppedAt)
	}
	fmt.Printf("\nFinal: lr %.6f, best %.4f\n", s.FinalLR, s.FinalBest)
}

// printComparison outputs a comparison table and returns exit code.
// expected holds the reference actions (from DB or fixture).
func printComparison(results []replay.ReplayResult, expected []string) int {
	fmt.Printf("%-10s| %-12s| %-12s| %s\n", "Step", "Expected", "Replayed", "Match")
	fmt.Printf("%-10s+%-13s+%-13s+%s\n", "----------", "-------------", "-------------", "------")

	total := len(results)
	if len(expected) > total {
		total = len(expected)
	}

	matches := 0
	for i := 0; i < total; i++ {
		step, got, exp := "-", "(none)", "(none)"
		if i < len(results) {
			step = fmt.Sprintf("%d", results[i].Step)
			got = string(results[i].Action)
		}
		if i < len(expected) {
			exp = expected[i]
		}
		match := "DIFF"
		if exp == got {
			match = "OK"
			matches++
		}
		fmt.Printf("%-10s| %-12s| %-12s| %s\n", step, exp, got, match)
	}

	diverge := total - matches
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", total, matches, diverge)

	if diverge > 0 {
		return 1
	}
	return 0
}

// #endregion output
