// Package sim is an in-memory model worker. It steps through bucket files
// without touching tensors, follows a scripted error-rate curve, and writes
// checkpoints as small JSON files so a trainer can be restarted against it.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
)

// CheckpointSuffix is appended to the checkpoint path for the state file.
const CheckpointSuffix = ".json"

// Config shapes the simulated run.
type Config struct {
	LearningRate   float64   // initial rate
	DecayFactor    float64   // multiplier applied by DecayLearningRate
	BatchesPerFile int       // ASR batches each bucket file yields
	LMBatches      int       // LM batches per LM epoch
	Loss           float64   // loss returned by every step
	Scores         []float64 // evaluator results in order; the last one repeats
}

// DefaultConfig returns a small, fast configuration.
func DefaultConfig() Config {
	return Config{
		LearningRate:   1e-3,
		DecayFactor:    0.5,
		BatchesPerFile: 4,
		LMBatches:      8,
		Loss:           2.0,
	}
}

type stream struct {
	remaining int
}

// Model implements model.Model and model.Evaluator.
type Model struct {
	mu      sync.Mutex
	cfg     Config
	st      model.State
	streams map[model.StreamHandle]*stream
	next    int
	lmLeft  int
	evals   int
	calls   map[string]int
	fail    map[string]error
}

var (
	_ model.Model     = (*Model)(nil)
	_ model.Evaluator = (*Model)(nil)
)

// New creates a simulated worker.
func New(cfg Config) *Model {
	if cfg.BatchesPerFile <= 0 {
		cfg.BatchesPerFile = 1
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.5
	}
	return &Model{
		cfg:     cfg,
		streams: make(map[model.StreamHandle]*stream),
		calls:   make(map[string]int),
		fail:    make(map[string]error),
	}
}

// FailOn makes every later call to method return err.
func (m *Model) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[method] = err
}

// Calls returns how many times method was invoked.
func (m *Model) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Model) enter(method string) error {
	m.calls[method]++
	return m.fail[method]
}

// Setup records nothing beyond the call.
func (m *Model) Setup(_ context.Context, req model.SetupRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Setup"); err != nil {
		return err
	}
	m.lmLeft = m.cfg.LMBatches
	return nil
}

// Initialize resets counters and sets the initial learning rate.
func (m *Model) Initialize(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Initialize"); err != nil {
		return err
	}
	m.st = model.State{LearningRate: m.cfg.LearningRate}
	return nil
}

// ImportVariables checks that the pretrained path exists.
func (m *Model) ImportVariables(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ImportVariables"); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	return nil
}

// Restore loads counters and learning rate from a checkpoint written by Save.
func (m *Model) Restore(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Restore"); err != nil {
		return err
	}
	data, err := os.ReadFile(path + CheckpointSuffix)
	if err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	var st model.State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	m.st = st
	return nil
}

// State returns the current counters.
func (m *Model) State(context.Context) (model.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("State"); err != nil {
		return model.State{}, err
	}
	return m.st, nil
}

// OpenStream creates an iterator over spec.Files.
func (m *Model) OpenStream(_ context.Context, spec model.StreamSpec) (model.StreamHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("OpenStream"); err != nil {
		return "", err
	}
	m.next++
	h := model.StreamHandle(fmt.Sprintf("%s#%d", spec.Name, m.next))
	m.streams[h] = &stream{remaining: len(spec.Files) * m.cfg.BatchesPerFile}
	return h, nil
}

// ResetLMStream refills the LM iterator and bumps the LM epoch.
func (m *Model) ResetLMStream(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ResetLMStream"); err != nil {
		return 0, err
	}
	m.lmLeft = m.cfg.LMBatches
	m.st.LMEpoch++
	return m.st.LMEpoch, nil
}

// Step consumes one batch. ASR steps advance the global step; LM steps
// advance only the LM step.
func (m *Model) Step(_ context.Context, task model.Task, handle model.StreamHandle) (model.StepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Step"); err != nil {
		return model.StepResult{}, err
	}
	switch task {
	case model.TaskLM:
		if m.lmLeft <= 0 {
			return model.StepResult{Exhausted: true}, nil
		}
		m.lmLeft--
		m.st.LMGlobalStep++
		return model.StepResult{Loss: m.cfg.Loss}, nil
	case model.TaskASR:
		s, ok := m.streams[handle]
		if !ok {
			return model.StepResult{}, fmt.Errorf("unknown stream %q", handle)
		}
		if s.remaining <= 0 {
			return model.StepResult{Exhausted: true}, nil
		}
		s.remaining--
		m.st.GlobalStep++
		return model.StepResult{Loss: m.cfg.Loss}, nil
	}
	return model.StepResult{}, fmt.Errorf("unknown task %q", task)
}

// DecayLearningRate multiplies the rate by DecayFactor.
func (m *Model) DecayLearningRate(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DecayLearningRate"); err != nil {
		return 0, err
	}
	m.st.LearningRate *= m.cfg.DecayFactor
	return m.st.LearningRate, nil
}

// IncrementEpoch bumps the epoch counter.
func (m *Model) IncrementEpoch(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("IncrementEpoch"); err != nil {
		return 0, err
	}
	m.st.Epoch++
	return m.st.Epoch, nil
}

// Evaluate returns the next scripted score. Without a script the score
// decays from 0.9 toward 0.1.
func (m *Model) Evaluate(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Evaluate"); err != nil {
		return 0, err
	}
	i := m.evals
	m.evals++
	if len(m.cfg.Scores) == 0 {
		return 0.1 + 0.8/float64(i+1), nil
	}
	if i >= len(m.cfg.Scores) {
		i = len(m.cfg.Scores) - 1
	}
	return m.cfg.Scores[i], nil
}

// Save writes the counters to <prefix>-<global_step>.json.
func (m *Model) Save(_ context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Save"); err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s-%d", prefix, m.st.GlobalStep)
	data, err := json.Marshal(m.st)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path+CheckpointSuffix, data, 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}
