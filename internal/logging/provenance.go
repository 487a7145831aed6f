package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// #region log-decision
// LogDecision writes an entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (run_id, global_step, trigger_type, signals_json, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.GlobalStep,
		entry.TriggerType,
		nullIfEmpty(entry.SignalsJSON),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region encode-signals
// EncodeSignals serializes checkpoint signals for the signals_json column.
// Infinite perplexity is not representable in JSON and is stored as -1.
func EncodeSignals(sig CheckpointSignals) (string, error) {
	if math.IsInf(sig.Perplexity, 0) || math.IsNaN(sig.Perplexity) {
		sig.Perplexity = -1
	}
	b, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("encode signals: %w", err)
	}
	return string(b), nil
}

// #endregion encode-signals

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
