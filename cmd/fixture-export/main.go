package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/replay"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to trainer.db")
	last := flag.Int("last", 20, "number of most recent checkpoint decisions to export (0 = all)")
	decay := flag.Float64("decay-factor", 0.5, "learning rate decay factor the run used")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/trainer.db --out path/to/fixture.json [--last N] [--decay-factor 0.5]")
		os.Exit(2)
	}

	if err := run(*dbPath, *last, *decay, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath string, last int, decayFactor float64, outPath string) error {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	logged, err := replay.LoadLogged(store.DB())
	if err != nil {
		return err
	}
	if len(logged) == 0 {
		return fmt.Errorf("no checkpoint entries found in decision_log")
	}
	fmt.Printf("Found %d checkpoint decisions\n", len(logged))

	fixture, err := replay.FixtureFromLogged(logged, last, decayFactor)
	if err != nil {
		return err
	}
	return writeFixture(fixture, outPath)
}

// #endregion extract

// #region output

func writeFixture(fixture replay.Fixture, outPath string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}

	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	fmt.Printf("Wrote fixture to %s (%d bytes, %d checkpoints)\n", outPath, len(data), len(fixture.Checkpoints))
	return nil
}

// #endregion output
