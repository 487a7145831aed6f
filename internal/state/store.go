package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	config_json  TEXT,
	started_at   TEXT NOT NULL,
	finished_at  TEXT,
	outcome      TEXT
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	kind           TEXT NOT NULL,
	global_step    INTEGER NOT NULL,
	epoch          REAL NOT NULL,
	learning_rate  REAL NOT NULL,
	loss           REAL NOT NULL,
	error_rate     REAL NOT NULL,
	path           TEXT NOT NULL,
	pruned         INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_kind_step ON checkpoints(kind, global_step);

CREATE TABLE IF NOT EXISTS metric_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	name        TEXT NOT NULL,
	global_step INTEGER NOT NULL,
	value       REAL NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metric_events_name ON metric_events(name, global_step);

CREATE TABLE IF NOT EXISTS decision_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	global_step   INTEGER NOT NULL,
	trigger_type  TEXT NOT NULL,
	signals_json  TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store is the trainer's SQLite ledger: runs, checkpoint metadata, summary
// values and scheduler decisions.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region runs
// StartRun registers a new trainer process and returns its record.
func (s *Store) StartRun(configJSON string) (RunRecord, error) {
	rec := RunRecord{
		RunID:      uuid.New().String(),
		ConfigJSON: configJSON,
		StartedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, config_json, started_at) VALUES (?, ?, ?)`,
		rec.RunID, nullIfEmpty(configJSON), rec.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// FinishRun stamps the run's outcome.
func (s *Store) FinishRun(runID, outcome string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, outcome = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), outcome, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, config_json, started_at, finished_at, outcome
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var cfg, finished, outcome sql.NullString
		var started string
		if err := rows.Scan(&rec.RunID, &cfg, &started, &finished, &outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.ConfigJSON = cfg.String
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		rec.Outcome = outcome.String
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// #endregion runs

// #region checkpoints
// RecordCheckpoint stores checkpoint metadata; ID and CreatedAt are filled in.
func (s *Store) RecordCheckpoint(rec CheckpointRecord) (CheckpointRecord, error) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO checkpoints
		 (id, run_id, kind, global_step, epoch, learning_rate, loss, error_rate, path, pruned, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.ID, rec.RunID, string(rec.Kind), rec.GlobalStep, rec.Epoch, rec.LearningRate,
		rec.Loss, rec.ErrorRate, rec.Path, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("insert checkpoint: %w", err)
	}
	return rec, nil
}

// LatestCheckpoint returns the unpruned checkpoint of kind with the highest step.
func (s *Store) LatestCheckpoint(kind CheckpointKind) (CheckpointRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, run_id, kind, global_step, epoch, learning_rate, loss, error_rate, path, pruned, created_at
		 FROM checkpoints WHERE kind = ? AND pruned = 0
		 ORDER BY global_step DESC, created_at DESC LIMIT 1`, string(kind),
	)
	rec, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckpointRecord{}, fmt.Errorf("latest %s checkpoint: %w", kind, ErrNotFound)
	}
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("latest %s checkpoint: %w", kind, err)
	}
	return rec, nil
}

// ListCheckpoints returns checkpoints newest first. An empty kind lists all kinds.
func (s *Store) ListCheckpoints(kind CheckpointKind, includePruned bool, limit int) ([]CheckpointRecord, error) {
	query := `SELECT id, run_id, kind, global_step, epoch, learning_rate, loss, error_rate, path, pruned, created_at
		 FROM checkpoints WHERE (? = '' OR kind = ?) AND (? = 1 OR pruned = 0)
		 ORDER BY global_step DESC, created_at DESC LIMIT ?`
	incl := 0
	if includePruned {
		incl = 1
	}
	rows, err := s.db.Query(query, string(kind), string(kind), incl, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointRecord
	for rows.Next() {
		rec, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkPruned flags a checkpoint whose files were removed by retention.
func (s *Store) MarkPruned(id string) error {
	res, err := s.db.Exec(`UPDATE checkpoints SET pruned = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark pruned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
	}
	return nil
}

// #endregion checkpoints

// #region metrics
// RecordMetric appends one summary value.
func (s *Store) RecordMetric(runID, name string, step int64, value float64) error {
	_, err := s.db.Exec(
		`INSERT INTO metric_events (run_id, name, global_step, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, name, step, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// ListMetrics returns the most recent values of a summary, newest first.
// An empty name lists every summary.
func (s *Store) ListMetrics(name string, limit int) ([]MetricRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, name, global_step, value, created_at FROM metric_events
		 WHERE (? = '' OR name = ?) ORDER BY id DESC LIMIT ?`, name, name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []MetricRecord
	for rows.Next() {
		var rec MetricRecord
		var created string
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Step, &rec.Value, &created); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion metrics

// #region decisions
// ListDecisions returns the most recent decision_log rows, newest first.
func (s *Store) ListDecisions(limit int) ([]DecisionRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, global_step, trigger_type, signals_json, decision, reason, created_at
		 FROM decision_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var signals, reason sql.NullString
		var created string
		if err := rows.Scan(&rec.RunID, &rec.GlobalStep, &rec.TriggerType, &signals, &rec.Decision, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.SignalsJSON = signals.String
		rec.Reason = reason.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion decisions

// #region helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(r rowScanner) (CheckpointRecord, error) {
	var rec CheckpointRecord
	var kind, created string
	var pruned int
	err := r.Scan(&rec.ID, &rec.RunID, &kind, &rec.GlobalStep, &rec.Epoch, &rec.LearningRate,
		&rec.Loss, &rec.ErrorRate, &rec.Path, &pruned, &created)
	if err != nil {
		return CheckpointRecord{}, err
	}
	rec.Kind = CheckpointKind(kind)
	rec.Pruned = pruned != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
