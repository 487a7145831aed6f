package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/checkpoint"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/config"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/dataset"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/eval"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/metrics"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/policy"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/scheduler"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/state"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/status"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/tracing"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/worker"
)

const serviceVersion = "0.1.0"

// #region exit-codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitStalled   = 3
	exitCancelled = 130
)

// exitCode maps a termination signal to the process exit status.
// Startup stalls exit 1 like any other abrupt failure.
func exitCode(sig scheduler.TerminationSignal) int {
	switch sig {
	case scheduler.Completed:
		return exitOK
	case scheduler.Stalled:
		return exitStalled
	case scheduler.Cancelled:
		return exitCancelled
	default:
		return exitFailure
	}
}

// #endregion exit-codes

// #region main

func main() {
	configPath := flag.String("config", envOr("TRAINER_CONFIG", ""), "path to trainer YAML config")
	lmProb := flag.Float64("lm-prob", -1, "override training.lm_prob (negative keeps the config value)")
	chaos := flag.Bool("chaos", false, "seed from wall-clock time instead of training.seed")
	workerAddr := flag.String("worker", "", "override worker.addr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("[TRAINER] %v", err)
		os.Exit(exitUsage)
	}
	if *lmProb >= 0 {
		cfg.Training.LMProb = *lmProb
	}
	if *chaos {
		cfg.Training.Chaos = true
	}
	if *workerAddr != "" {
		cfg.Worker.Addr = *workerAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("[TRAINER] %v", err)
		os.Exit(exitUsage)
	}

	os.Exit(run(cfg))
}

// #endregion main

// #region run

func run(cfg config.Config) int {
	if url.Scheme(cfg.Paths.TrainDir, file.Scheme) == file.Scheme {
		if err := os.MkdirAll(url.Path(cfg.Paths.TrainDir), 0o755); err != nil {
			log.Printf("[TRAINER] create train dir: %v", err)
			return exitFailure
		}
	}

	store, err := state.NewStore(cfg.Paths.DBPath)
	if err != nil {
		log.Printf("[TRAINER] failed to open store: %v", err)
		return exitFailure
	}
	defer store.Close()

	cfgJSON, _ := json.Marshal(cfg)
	runRec, err := store.StartRun(string(cfgJSON))
	if err != nil {
		log.Printf("[TRAINER] start run: %v", err)
		return exitFailure
	}
	log.Printf("[TRAINER] run %s | train dir %s | worker %s", runRec.RunID, cfg.Paths.TrainDir, cfg.Worker.Addr)

	if cfg.Telemetry.TraceFile != "" {
		shutdown, err := tracing.Init("asr-trainer", serviceVersion, cfg.Telemetry.TraceFile)
		if err != nil {
			log.Printf("[TRAINER] tracing disabled: %v", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	board := status.NewBoard(runRec.RunID)
	if cfg.Telemetry.StatusAddr != "" {
		srv := startStatusServer(cfg.Telemetry.StatusAddr, board, store)
		defer srv.Shutdown(context.Background())
	}

	client, err := worker.NewClient(cfg.Worker.Addr, cfg.Worker.CallTimeout)
	if err != nil {
		log.Printf("[TRAINER] failed to connect to worker at %s: %v", cfg.Worker.Addr, err)
		finish(store, runRec.RunID, scheduler.Failed)
		return exitFailure
	}
	defer client.Close()

	seed := cfg.Training.Seed
	if cfg.Training.Chaos {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		log.Printf("[TRAINER] received %s, stopping after the current step", sig)
		cancel()
	}()

	fs := afs.New()
	ckpts := checkpoint.NewManager(fs, checkpoint.Options{
		TrainDir:      cfg.Paths.TrainDir,
		BestDir:       cfg.Paths.BestModelDir,
		BestRetention: cfg.Training.BestRetention,
	}, store, runRec.RunID)
	if err := ckpts.EnsureDirs(ctx); err != nil {
		log.Printf("[TRAINER] %v", err)
		finish(store, runRec.RunID, scheduler.Failed)
		return exitFailure
	}

	sched := scheduler.New(scheduler.Deps{
		Model:       client,
		Eval:        eval.NewEvalHarness(eval.DefaultEvalConfig(), client),
		Data:        dataset.NewProvider(ctx, fs, cfg.Data, rng),
		Checkpoints: ckpts,
		Gate: policy.NewGate(policy.Config{
			MinSteps:    cfg.Training.MinSteps,
			LRFloor:     cfg.Training.LRFloor,
			DecayWindow: cfg.Training.DecayWindow,
			StallWindow: cfg.Training.StallWindow,
		}),
		Sink:  metrics.MultiSink{metrics.NewStoreSink(store, runRec.RunID), metrics.LogSink{}},
		DB:    store.DB(),
		Board: board,
		RNG:   rng,
		RunID: runRec.RunID,
	}, scheduler.Options{
		MaxEpochs:          cfg.Training.MaxEpochs,
		StepsPerCheckpoint: cfg.Training.StepsPerCheckpoint,
		StepsPerEpoch:      cfg.Training.StepsPerEpoch,
		LMProb:             cfg.Training.LMProb,
		Seed:               seed,
		PretrainPaths:      []string{cfg.Paths.PretrainLMPath, cfg.Paths.PretrainPhonePath},
	})

	sig, err := sched.Run(ctx)
	finish(store, runRec.RunID, sig)
	if err != nil {
		log.Printf("[TRAINER] %s: %v", sig, err)
	}

	code := exitCode(sig)
	if sig == scheduler.StalledAtStartup {
		// Nothing was trained; skip the deferred worker and tracing teardown.
		os.Exit(code)
	}
	log.Printf("[TRAINER] run %s finished: %s (exit %d)", runRec.RunID, sig, code)
	return code
}

func finish(store *state.Store, runID string, sig scheduler.TerminationSignal) {
	if err := store.FinishRun(runID, string(sig)); err != nil {
		log.Printf("[TRAINER] finish run: %v", err)
	}
}

// #endregion run

// #region status-server

func startStatusServer(addr string, board *status.Board, store *state.Store) *http.Server {
	r := mux.NewRouter()
	status.SetupRoutes(r, status.NewHandler(board, store))
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[STATUS] serving on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[STATUS] server stopped: %v", err)
		}
	}()
	return server
}

// #endregion status-server

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
