package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/logging"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to trainer.db")
	view := flag.String("view", "checkpoints", "runs | checkpoints | metrics | decisions")
	last := flag.Int("last", 20, "show N most recent rows")
	kind := flag.String("kind", "", "checkpoint kind filter: rolling | best")
	pruned := flag.Bool("pruned", false, "include pruned best checkpoints")
	metric := flag.String("metric", "", "metric name filter, e.g. \"ASR Error\"")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/trainer.db [--view runs|checkpoints|metrics|decisions] [--last N] [--json]")
		os.Exit(2)
	}

	store, err := state.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch *view {
	case "runs":
		err = runRunsMode(store, *last, *jsonOut)
	case "checkpoints":
		err = runCheckpointsMode(store, state.CheckpointKind(*kind), *pruned, *last, *jsonOut)
	case "metrics":
		err = runMetricsMode(store, *metric, *last, *jsonOut)
	case "decisions":
		err = runDecisionsMode(store, *last, *jsonOut)
	default:
		err = fmt.Errorf("unknown view %q", *view)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region runs

type runRow struct {
	RunID      string `json:"run_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Outcome    string `json:"outcome"`
}

func runRunsMode(store *state.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]runRow, len(runs))
	for i, r := range runs {
		row := runRow{
			RunID:     r.RunID,
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
			Outcome:   r.Outcome,
		}
		if !r.FinishedAt.IsZero() {
			row.FinishedAt = r.FinishedAt.Format("2006-01-02T15:04:05Z")
		}
		if row.Outcome == "" {
			row.Outcome = "running"
		}
		rows[len(runs)-1-i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-10s  %-20s  %-20s  %s\n", "Run", "Started", "Finished", "Outcome")
	fmt.Printf("%-10s+-%-20s+-%-20s+-%s\n", "----------", "--------------------", "--------------------", "-------")
	for _, r := range rows {
		fmt.Printf("%-10s  %-20s  %-20s  %s\n", shortID(r.RunID), r.StartedAt, orDash(r.FinishedAt), r.Outcome)
	}
	return nil
}

// #endregion runs

// #region checkpoints

type checkpointRow struct {
	RunID        string  `json:"run_id"`
	Kind         string  `json:"kind"`
	GlobalStep   int64   `json:"global_step"`
	Epoch        float64 `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	ErrorRate    float64 `json:"error_rate"`
	Path         string  `json:"path"`
	Pruned       bool    `json:"pruned"`
	CreatedAt    string  `json:"created_at"`
}

func runCheckpointsMode(store *state.Store, kind state.CheckpointKind, pruned bool, last int, jsonOut bool) error {
	if kind != "" && kind != state.KindRolling && kind != state.KindBest {
		return fmt.Errorf("unknown checkpoint kind %q", kind)
	}
	recs, err := store.ListCheckpoints(kind, pruned, last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no checkpoints found")
		return nil
	}

	rows := make([]checkpointRow, len(recs))
	for i, c := range recs {
		rows[len(recs)-1-i] = checkpointRow{
			RunID:        c.RunID,
			Kind:         string(c.Kind),
			GlobalStep:   c.GlobalStep,
			Epoch:        c.Epoch,
			LearningRate: c.LearningRate,
			ErrorRate:    c.ErrorRate,
			Path:         c.Path,
			Pruned:       c.Pruned,
			CreatedAt:    c.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-10s  %-7s  %9s  %7s  %10s  %7s  %s\n", "Run", "Kind", "Step", "Epoch", "LR", "Error", "Path")
	fmt.Printf("%-10s+-%-7s+-%9s+-%7s+-%10s+-%7s+-%s\n",
		"----------", "-------", "---------", "-------", "----------", "-------", "----")
	for _, r := range rows {
		path := r.Path
		if r.Pruned {
			path += " (pruned)"
		}
		fmt.Printf("%-10s  %-7s  %9d  %7.2f  %10.6f  %7.4f  %s\n",
			shortID(r.RunID), r.Kind, r.GlobalStep, r.Epoch, r.LearningRate, r.ErrorRate, path)
	}
	return nil
}

// #endregion checkpoints

// #region metrics

type metricRow struct {
	Name  string   `json:"name"`
	Step  int64    `json:"step"`
	Value *float64 `json:"value"`
}

func runMetricsMode(store *state.Store, name string, last int, jsonOut bool) error {
	recs, err := store.ListMetrics(name, last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no metrics found")
		return nil
	}

	rows := make([]metricRow, len(recs))
	for i, m := range recs {
		row := metricRow{Name: m.Name, Step: m.Step}
		if !math.IsInf(m.Value, 0) && !math.IsNaN(m.Value) {
			v := m.Value
			row.Value = &v
		}
		rows[len(recs)-1-i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-16s  %9s  %s\n", "Metric", "Step", "Value")
	fmt.Printf("%-16s+-%9s+-%s\n", "----------------", "---------", "----------")
	for _, r := range rows {
		value := "inf"
		if r.Value != nil {
			value = fmt.Sprintf("%.4f", *r.Value)
		}
		fmt.Printf("%-16s  %9d  %s\n", r.Name, r.Step, value)
	}
	return nil
}

// #endregion metrics

// #region decisions

type decisionRow struct {
	RunID       string                     `json:"run_id"`
	GlobalStep  int64                      `json:"global_step"`
	TriggerType string                     `json:"trigger_type"`
	Decision    string                     `json:"decision"`
	Reason      string                     `json:"reason,omitempty"`
	Signals     *logging.CheckpointSignals `json:"signals,omitempty"`
	CreatedAt   string                     `json:"created_at"`
}

func runDecisionsMode(store *state.Store, last int, jsonOut bool) error {
	recs, err := store.ListDecisions(last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no decisions found")
		return nil
	}

	rows := make([]decisionRow, len(recs))
	for i, d := range recs {
		rows[len(recs)-1-i] = decisionRow{
			RunID:       d.RunID,
			GlobalStep:  d.GlobalStep,
			TriggerType: d.TriggerType,
			Decision:    d.Decision,
			Reason:      d.Reason,
			Signals:     parseSignals(d.SignalsJSON),
			CreatedAt:   d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-10s  %9s  %-10s  %-12s  %7s  %s\n", "Run", "Step", "Trigger", "Decision", "Error", "Reason")
	fmt.Printf("%-10s+-%9s+-%-10s+-%-12s+-%7s+-%s\n",
		"----------", "---------", "----------", "------------", "-------", "------")
	for _, r := range rows {
		score := "—"
		if r.Signals != nil {
			score = fmt.Sprintf("%.4f", r.Signals.ErrorRate)
		}
		fmt.Printf("%-10s  %9d  %-10s  %-12s  %7s  %s\n",
			shortID(r.RunID), r.GlobalStep, r.TriggerType, r.Decision, score, r.Reason)
	}
	return nil
}

// #endregion decisions

// #region output

func parseSignals(signalsJSON string) *logging.CheckpointSignals {
	if signalsJSON == "" {
		return nil
	}
	var sig logging.CheckpointSignals
	if err := json.Unmarshal([]byte(signalsJSON), &sig); err != nil {
		return nil
	}
	return &sig
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
