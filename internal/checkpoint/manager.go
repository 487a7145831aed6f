package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/state"
)

// File names inside the train directory.
const (
	HistoryFile = "asr_err.txt"
	BestFile    = "best.txt"
	ModelPrefix = "asr.ckpt"
)

// WorstScore is the best-score sentinel used before any evaluation, and
// whenever best.txt is missing or unreadable.
const WorstScore = 1.0

// ErrNoCheckpoint is returned by Latest when the train directory holds no
// rolling checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint")

// #region types

// Snapshot is the scheduler metadata saved with every checkpoint.
type Snapshot struct {
	GlobalStep   int64
	Epoch        float64
	LearningRate float64
	Loss         float64
	ErrorRate    float64
}

// Saver writes model parameters under a path prefix and returns the full
// checkpoint path. model.Model satisfies it.
type Saver interface {
	Save(ctx context.Context, prefix string) (string, error)
}

// Ledger stores checkpoint metadata. *state.Store satisfies it.
type Ledger interface {
	RecordCheckpoint(rec state.CheckpointRecord) (state.CheckpointRecord, error)
	ListCheckpoints(kind state.CheckpointKind, includePruned bool, limit int) ([]state.CheckpointRecord, error)
	MarkPruned(id string) error
}

// Options configures where checkpoints live.
type Options struct {
	TrainDir      string
	BestDir       string
	BestRetention int
}

// #endregion types

// #region manager

// Manager is the only writer of the train directory's durable files: the
// error history, the best-score file and both checkpoint destinations.
type Manager struct {
	fs     afs.Service
	opts   Options
	ledger Ledger
	runID  string
}

// NewManager creates a manager. BestRetention below 1 is raised to 1.
func NewManager(fs afs.Service, opts Options, ledger Ledger, runID string) *Manager {
	if fs == nil {
		fs = afs.New()
	}
	if opts.BestRetention < 1 {
		opts.BestRetention = 1
	}
	return &Manager{fs: fs, opts: opts, ledger: ledger, runID: runID}
}

// EnsureDirs creates the train and best-model directories.
func (m *Manager) EnsureDirs(ctx context.Context) error {
	for _, dir := range []string{m.opts.TrainDir, m.opts.BestDir} {
		exists, _ := m.fs.Exists(ctx, dir)
		if exists {
			continue
		}
		if err := m.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// #endregion manager

// #region latest

// Latest returns the path prefix of the newest rolling checkpoint in the
// train directory, or ErrNoCheckpoint.
func (m *Manager) Latest(ctx context.Context) (string, error) {
	step, ok, err := m.newestStep(ctx, m.opts.TrainDir)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoCheckpoint
	}
	return url.Join(m.opts.TrainDir, fmt.Sprintf("%s-%d", ModelPrefix, step)), nil
}

func (m *Manager) newestStep(ctx context.Context, dir string) (int64, bool, error) {
	exists, err := m.fs.Exists(ctx, dir)
	if err != nil {
		return 0, false, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !exists {
		return 0, false, nil
	}
	objects, err := m.fs.List(ctx, dir)
	if err != nil {
		return 0, false, fmt.Errorf("list %s: %w", dir, err)
	}

	var newest int64 = -1
	for _, obj := range objects {
		if obj.IsDir() {
			continue
		}
		if step, ok := parseStep(obj.Name()); ok && step > newest {
			newest = step
		}
	}
	return newest, newest >= 0, nil
}

// parseStep extracts N from "asr.ckpt-N" or "asr.ckpt-N.<suffix>".
func parseStep(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, ModelPrefix+"-")
	if !ok {
		return 0, false
	}
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	step, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || step < 0 {
		return 0, false
	}
	return step, true
}

// #endregion latest

// #region history

// LoadHistory reads the error history. A missing file yields an empty
// history; an unparseable line discards the whole file.
func (m *Manager) LoadHistory(ctx context.Context) []float64 {
	p := url.Join(m.opts.TrainDir, HistoryFile)
	if ok, _ := m.fs.Exists(ctx, p); !ok {
		return nil
	}
	data, err := m.fs.DownloadWithURL(ctx, p)
	if err != nil {
		log.Printf("[CHECKPOINT] read %s failed, starting with empty history: %v", p, err)
		return nil
	}

	var history []float64
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			log.Printf("[CHECKPOINT] %s line %d unparseable (%q), starting with empty history", p, i+1, line)
			return nil
		}
		history = append(history, v)
	}
	log.Printf("[CHECKPOINT] previous perf. log of %d checkpoints loaded", len(history))
	return history
}

// AppendHistory appends one score line to the error history. Local paths
// and file:// URLs are appended in place; other afs schemes are rewritten.
func (m *Manager) AppendHistory(ctx context.Context, score float64) error {
	p := url.Join(m.opts.TrainDir, HistoryFile)
	line := formatScore(score) + "\n"
	if url.Scheme(p, file.Scheme) != file.Scheme {
		return m.appendObject(ctx, p, line)
	}

	f, err := os.OpenFile(url.Path(p), os.O_APPEND|os.O_CREATE|os.O_WRONLY, file.DefaultFileOsMode)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close history: %w", err)
	}
	return nil
}

func (m *Manager) appendObject(ctx context.Context, p, line string) error {
	var data []byte
	if ok, _ := m.fs.Exists(ctx, p); ok {
		existing, err := m.fs.DownloadWithURL(ctx, p)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		data = existing
	}
	data = append(data, line...)
	if err := m.fs.Upload(ctx, p, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// #endregion history

// #region best

// LoadBest reads the best-score file, falling back to WorstScore.
func (m *Manager) LoadBest(ctx context.Context) float64 {
	p := url.Join(m.opts.TrainDir, BestFile)
	if ok, _ := m.fs.Exists(ctx, p); !ok {
		return WorstScore
	}
	data, err := m.fs.DownloadWithURL(ctx, p)
	if err != nil {
		log.Printf("[CHECKPOINT] read %s failed: %v", p, err)
		return WorstScore
	}
	first, _, _ := strings.Cut(string(data), "\n")
	v, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	if err != nil {
		log.Printf("[CHECKPOINT] %s malformed (%q), using sentinel %.1f", p, first, WorstScore)
		return WorstScore
	}
	return v
}

// SaveBest overwrites the best-score file, then saves the model into the
// best-model directory and prunes best checkpoints beyond retention.
// The two writes are not atomic: a crash between them leaves best.txt ahead
// of the saved model.
func (m *Manager) SaveBest(ctx context.Context, saver Saver, snap Snapshot) (string, error) {
	p := url.Join(m.opts.TrainDir, BestFile)
	if err := m.fs.Upload(ctx, p, file.DefaultFileOsMode, bytes.NewReader([]byte(formatScore(snap.ErrorRate)))); err != nil {
		return "", fmt.Errorf("write best score: %w", err)
	}

	ckpt, err := saver.Save(ctx, url.Join(m.opts.BestDir, ModelPrefix))
	if err != nil {
		return "", fmt.Errorf("save best model: %w", err)
	}
	if err := m.record(state.KindBest, ckpt, snap); err != nil {
		return ckpt, err
	}
	if err := m.pruneBest(ctx); err != nil {
		return ckpt, err
	}
	return ckpt, nil
}

func (m *Manager) pruneBest(ctx context.Context) error {
	if m.ledger == nil {
		return nil
	}
	live, err := m.ledger.ListCheckpoints(state.KindBest, false, -1)
	if err != nil {
		return fmt.Errorf("list best checkpoints: %w", err)
	}
	if len(live) <= m.opts.BestRetention {
		return nil
	}

	objects, err := m.fs.List(ctx, m.opts.BestDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", m.opts.BestDir, err)
	}
	for _, rec := range live[m.opts.BestRetention:] {
		base := path.Base(rec.Path)
		for _, obj := range objects {
			if obj.IsDir() {
				continue
			}
			name := obj.Name()
			if name != base && !strings.HasPrefix(name, base+".") {
				continue
			}
			if err := m.fs.Delete(ctx, obj.URL()); err != nil {
				return fmt.Errorf("delete %s: %w", name, err)
			}
		}
		if err := m.ledger.MarkPruned(rec.ID); err != nil {
			return err
		}
		log.Printf("[CHECKPOINT] pruned best checkpoint step=%d", rec.GlobalStep)
	}
	return nil
}

// #endregion best

// #region rolling

// SaveRolling saves the model into the train directory. Rolling checkpoints
// are never pruned.
func (m *Manager) SaveRolling(ctx context.Context, saver Saver, snap Snapshot) (string, error) {
	ckpt, err := saver.Save(ctx, url.Join(m.opts.TrainDir, ModelPrefix))
	if err != nil {
		return "", fmt.Errorf("save rolling model: %w", err)
	}
	if err := m.record(state.KindRolling, ckpt, snap); err != nil {
		return ckpt, err
	}
	return ckpt, nil
}

// #endregion rolling

// #region helpers

func (m *Manager) record(kind state.CheckpointKind, ckpt string, snap Snapshot) error {
	if m.ledger == nil {
		return nil
	}
	_, err := m.ledger.RecordCheckpoint(state.CheckpointRecord{
		RunID:        m.runID,
		Kind:         kind,
		GlobalStep:   snap.GlobalStep,
		Epoch:        snap.Epoch,
		LearningRate: snap.LearningRate,
		Loss:         snap.Loss,
		ErrorRate:    snap.ErrorRate,
		Path:         ckpt,
	})
	if err != nil {
		return fmt.Errorf("record %s checkpoint: %w", kind, err)
	}
	return nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// #endregion helpers
