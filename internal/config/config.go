package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// #region errors

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// #endregion errors

// #region config-types

// Config is the full trainer configuration.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Training  TrainingConfig  `yaml:"training"`
	Paths     PathsConfig     `yaml:"paths"`
	Worker    WorkerConfig    `yaml:"worker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DataConfig describes where training data lives and how it is bucketed.
type DataConfig struct {
	DataDir          string `yaml:"data_dir"`
	LMDataDir        string `yaml:"lm_data_dir"`
	SubsetFile       string `yaml:"subset_file"`
	BucketBatchSizes []int  `yaml:"bucket_batch_sizes"`
	TrainPrefix      string `yaml:"train_prefix"` // bucket i matches <prefix>.<i>.*
	DevPrefix        string `yaml:"dev_prefix"`
	LMPrefix         string `yaml:"lm_prefix"`
}

// TrainingConfig holds the scheduler knobs.
type TrainingConfig struct {
	MaxEpochs          float64 `yaml:"max_epochs"`
	MinSteps           int64   `yaml:"min_steps"`
	StepsPerCheckpoint int     `yaml:"steps_per_checkpoint"`
	StepsPerEpoch      int64   `yaml:"steps_per_epoch"`
	LMProb             float64 `yaml:"lm_prob"`
	Chaos              bool    `yaml:"chaos"`
	Seed               int64   `yaml:"seed"`
	LRFloor            float64 `yaml:"lr_floor"`
	DecayWindow        int     `yaml:"decay_window"`
	StallWindow        int     `yaml:"stall_window"`
	BestRetention      int     `yaml:"best_retention"`
}

// PathsConfig holds output and import locations.
type PathsConfig struct {
	TrainBaseDir      string `yaml:"train_base_dir"`
	RunID             int    `yaml:"run_id"`
	TrainDir          string `yaml:"train_dir"`
	BestModelDir      string `yaml:"best_model_dir"`
	PretrainLMPath    string `yaml:"pretrain_lm_path"`
	PretrainPhonePath string `yaml:"pretrain_phone_path"`
	DBPath            string `yaml:"db_path"`
}

// WorkerConfig configures the connection to the model worker process.
type WorkerConfig struct {
	Addr        string        `yaml:"addr"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// TelemetryConfig configures optional tracing and the status endpoint.
type TelemetryConfig struct {
	TraceFile  string `yaml:"trace_file"`
	StatusAddr string `yaml:"status_addr"`
}

// #endregion config-types

// #region defaults

// Default returns the stock configuration for the Switchboard setup.
func Default() Config {
	return Config{
		Data: DataConfig{
			DataDir:          "/scratch/asr_multi/data/tfrecords",
			LMDataDir:        "/scratch/asr_multi/data/tfrecords/lm_all",
			BucketBatchSizes: []int{128, 128, 64, 64, 32},
			TrainPrefix:      "train_1k",
			DevPrefix:        "dev",
			LMPrefix:         "lm",
		},
		Training: TrainingConfig{
			MaxEpochs:          30,
			MinSteps:           25000,
			StepsPerCheckpoint: 500,
			StepsPerEpoch:      3006,
			LMProb:             0,
			Seed:               10,
			LRFloor:            1e-4,
			DecayWindow:        3,
			StallWindow:        10,
			BestRetention:      2,
		},
		Paths: PathsConfig{
			TrainBaseDir: "/scratch/asr_multi/models",
		},
		Worker: WorkerConfig{
			Addr: "localhost:50061",
		},
	}
}

// #endregion defaults

// #region load

// Load reads a YAML file on top of Default, applies environment overrides
// and resolves derived paths. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.Resolve()
	return cfg, nil
}

// applyEnv overrides selected fields from TRAINER_* environment variables.
func (c *Config) applyEnv() error {
	c.Data.DataDir = envOr("TRAINER_DATA_DIR", c.Data.DataDir)
	c.Data.LMDataDir = envOr("TRAINER_LM_DATA_DIR", c.Data.LMDataDir)
	c.Data.SubsetFile = envOr("TRAINER_SUBSET_FILE", c.Data.SubsetFile)
	c.Paths.TrainDir = envOr("TRAINER_TRAIN_DIR", c.Paths.TrainDir)
	c.Paths.BestModelDir = envOr("TRAINER_BEST_MODEL_DIR", c.Paths.BestModelDir)
	c.Paths.DBPath = envOr("TRAINER_DB", c.Paths.DBPath)
	c.Worker.Addr = envOr("TRAINER_WORKER_ADDR", c.Worker.Addr)
	c.Telemetry.TraceFile = envOr("TRAINER_TRACE_FILE", c.Telemetry.TraceFile)
	c.Telemetry.StatusAddr = envOr("TRAINER_STATUS_ADDR", c.Telemetry.StatusAddr)

	if v := os.Getenv("TRAINER_LM_PROB"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TRAINER_LM_PROB: %w", err)
		}
		c.Training.LMProb = p
	}
	if v := os.Getenv("TRAINER_CHAOS"); v != "" {
		c.Training.Chaos = v == "true" || v == "1"
	}
	return nil
}

// Resolve fills train_dir, best_model_dir and db_path when they are unset.
// train_dir defaults to <train_base_dir>/run_id_<run_id>.
func (c *Config) Resolve() {
	if c.Paths.TrainDir == "" {
		c.Paths.TrainDir = filepath.Join(c.Paths.TrainBaseDir, fmt.Sprintf("run_id_%d", c.Paths.RunID))
	}
	if c.Paths.BestModelDir == "" {
		c.Paths.BestModelDir = filepath.Join(c.Paths.TrainDir, "best_models")
	}
	if c.Paths.DBPath == "" {
		c.Paths.DBPath = filepath.Join(c.Paths.TrainDir, "trainer.db")
	}
}

// #endregion load

// #region validate

// Validate checks ranges the scheduler relies on.
func (c Config) Validate() error {
	var problems []string
	t := c.Training
	if t.LMProb < 0 || t.LMProb > 1 {
		problems = append(problems, fmt.Sprintf("lm_prob %.4f outside [0,1]", t.LMProb))
	} else if t.LMProb == 1 {
		// ASR is never selected, so no epoch could end.
		problems = append(problems, "lm_prob 1 never trains ASR")
	}
	if t.StepsPerCheckpoint <= 0 {
		problems = append(problems, "steps_per_checkpoint must be positive")
	}
	if t.StepsPerEpoch <= 0 {
		problems = append(problems, "steps_per_epoch must be positive")
	}
	if t.DecayWindow <= 0 || t.StallWindow <= 0 {
		problems = append(problems, "decay_window and stall_window must be positive")
	}
	if t.BestRetention <= 0 {
		problems = append(problems, "best_retention must be positive")
	}
	if len(c.Data.BucketBatchSizes) == 0 {
		problems = append(problems, "at least one bucket is required")
	}
	for i, bs := range c.Data.BucketBatchSizes {
		if bs <= 0 {
			problems = append(problems, fmt.Sprintf("bucket %d batch size %d", i, bs))
		}
	}
	if c.Paths.TrainDir == "" || c.Paths.BestModelDir == "" {
		problems = append(problems, "train_dir and best_model_dir are required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// #endregion validate

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
