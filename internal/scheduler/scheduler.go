package scheduler

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/checkpoint"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/clock"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/dataset"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/logging"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/metrics"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/policy"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/status"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/tracing"
)

// #endregion

// #region scheduler-struct

// Scheduler owns the epoch and step loop: task selection, bucket draining,
// the checkpoint cadence and the decay and stop decisions.
type Scheduler struct {
	deps Deps
	opts Options

	sess     *Session
	asrLoss  *metrics.Window
	lmLoss   *metrics.Window
	saves    int
	lastCkpt string
}

// #endregion

// #region constructor

// New creates a scheduler. Sink defaults to a LogSink.
func New(deps Deps, opts Options) *Scheduler {
	if deps.Sink == nil {
		deps.Sink = metrics.LogSink{}
	}
	if opts.StepsPerCheckpoint <= 0 {
		opts.StepsPerCheckpoint = 1
	}
	if opts.StepsPerEpoch <= 0 {
		opts.StepsPerEpoch = 1
	}
	return &Scheduler{deps: deps, opts: opts}
}

// Session returns the live session, or nil before Run.
func (s *Scheduler) Session() *Session {
	return s.sess
}

// #endregion

// #region run

// Run trains until the epoch bound, a stall, cancellation or an error.
// Cancellation is only observed between steps; a step or checkpoint already
// under way finishes first, saves included.
func (s *Scheduler) Run(ctx context.Context) (TerminationSignal, error) {
	if err := s.setup(ctx); err != nil {
		return s.fail(err)
	}

	sess, err := s.start(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.sess = sess

	if s.deps.Gate.Stop(sess.LearningRate, sess.History) {
		log.Printf("[SCHED] no improvement in %d checkpoints, refusing to resume", s.deps.Gate.Config().StallWindow)
		s.logDecision(logging.DecisionEntry{
			TriggerType: "startup",
			Decision:    string(policy.ActionStop),
			Reason:      fmt.Sprintf("lr %.6f at floor and history of %d stalled", sess.LearningRate, len(sess.History)),
		})
		s.stopBoard(StalledAtStartup)
		return StalledAtStartup, nil
	}

	s.asrLoss = metrics.NewWindow(s.opts.StepsPerCheckpoint)
	s.lmLoss = metrics.NewWindow(s.opts.StepsPerCheckpoint)
	s.deps.Board.Update(func(b *status.Snapshot) { b.Phase = status.PhaseTraining })

	for sess.Epoch <= s.opts.MaxEpochs {
		sig, err := s.runEpoch(ctx)
		if err != nil {
			return s.fail(err)
		}
		if sig != "" {
			s.stopBoard(sig)
			return sig, nil
		}
	}

	log.Printf("[SCHED] reached max epochs %.0f at step %d", s.opts.MaxEpochs, sess.GlobalStep)
	s.stopBoard(Completed)
	return Completed, nil
}

func (s *Scheduler) fail(err error) (TerminationSignal, error) {
	s.stopBoard(Failed)
	return Failed, err
}

// #endregion

// #region setup

// setup lists the dev and LM shards and lets the worker build its graphs.
func (s *Scheduler) setup(ctx context.Context) error {
	dev, err := s.deps.Data.DevFiles(ctx)
	if err != nil {
		return fmt.Errorf("list dev files: %w", err)
	}
	log.Printf("[SCHED] total dev files: %d", len(dev))

	var lm []string
	if s.opts.LMProb > 0 {
		lm, err = s.deps.Data.LMFiles(ctx)
		if err != nil {
			return fmt.Errorf("list lm files: %w", err)
		}
		log.Printf("[SCHED] total lm files: %d", len(lm))
	}

	if err := s.deps.Model.Setup(ctx, model.SetupRequest{DevFiles: dev, LMFiles: lm, Seed: s.opts.Seed}); err != nil {
		return fmt.Errorf("worker setup: %w", err)
	}
	return nil
}

// #endregion

// #region start

// start restores the newest rolling checkpoint, or initializes fresh
// variables and imports any pretrained subsets. It then reloads the error
// history and, when resuming, the best score.
func (s *Scheduler) start(ctx context.Context) (*Session, error) {
	sess := &Session{Best: checkpoint.WorstScore}

	latest, err := s.deps.Checkpoints.Latest(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		if err := s.deps.Model.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize: %w", err)
		}
		for _, p := range s.opts.PretrainPaths {
			if p == "" {
				continue
			}
			if err := s.deps.Model.ImportVariables(ctx, p); err != nil {
				return nil, fmt.Errorf("import %s: %w", p, err)
			}
			log.Printf("[SCHED] imported shared variables from %s", p)
		}
	case err != nil:
		return nil, fmt.Errorf("find checkpoint: %w", err)
	default:
		if err := s.deps.Model.Restore(ctx, latest); err != nil {
			return nil, fmt.Errorf("restore %s: %w", latest, err)
		}
		sess.Resumed = true
		sess.Restored = latest
		log.Printf("[SCHED] restored %s", latest)
	}

	st, err := s.deps.Model.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	sess.GlobalStep = st.GlobalStep
	sess.LearningRate = st.LearningRate
	sess.LMEpoch = st.LMEpoch
	sess.Epoch = float64(st.GlobalStep) / float64(s.opts.StepsPerEpoch)

	if sess.Resumed {
		sess.Best = s.deps.Checkpoints.LoadBest(ctx)
	}
	sess.History = s.deps.Checkpoints.LoadHistory(ctx)

	log.Printf("[SCHED] start: step=%d epoch=%.2f lr=%.6f best=%.4f history=%d",
		sess.GlobalStep, sess.Epoch, sess.LearningRate, sess.Best, len(sess.History))

	s.deps.Board.SetHistory(sess.History)
	s.deps.Board.Update(func(b *status.Snapshot) {
		b.GlobalStep = sess.GlobalStep
		b.Epoch = sess.Epoch
		b.LMEpoch = sess.LMEpoch
		b.LearningRate = sess.LearningRate
		b.BestScore = sess.Best
	})
	return sess, nil
}

// #endregion

// #region epoch

// runEpoch drains every bucket once. It returns a non-empty signal when the
// run must end inside the epoch.
func (s *Scheduler) runEpoch(ctx context.Context) (TerminationSignal, error) {
	sess := s.sess
	if ctx.Err() != nil {
		return Cancelled, nil
	}
	log.Printf("[SCHED] epochs done: %d", int64(sess.Epoch))
	started := clock.Now()

	ctx, span := tracing.StartSpan(ctx, "epoch")
	span.SetFloat64("epoch", sess.Epoch)

	// A started step or checkpoint runs to completion; ctx is only polled at
	// the top of the loop.
	work := context.WithoutCancel(ctx)

	buckets, err := s.deps.Data.Buckets(work)
	if err != nil {
		tracing.EndSpan(span, err)
		return "", fmt.Errorf("list buckets: %w", err)
	}
	active, err := dataset.InitEpoch(work, s.deps.Model, buckets)
	if err != nil {
		tracing.EndSpan(span, err)
		return "", err
	}
	s.deps.Board.Update(func(b *status.Snapshot) { b.ActiveBuckets = active.Buckets() })

	for active.Len() > 0 {
		if err := ctx.Err(); err != nil {
			tracing.EndSpan(span, err)
			return Cancelled, nil
		}

		var sig TerminationSignal
		switch SelectTask(s.deps.RNG, s.opts.LMProb) {
		case model.TaskLM:
			err = s.lmStep(work)
		default:
			sig, err = s.asrStep(work, active)
		}
		if err != nil || sig != "" {
			tracing.EndSpan(span, err)
			return sig, err
		}
	}

	epoch, err := s.deps.Model.IncrementEpoch(work)
	if err != nil {
		tracing.EndSpan(span, err)
		return "", fmt.Errorf("increment epoch: %w", err)
	}
	sess.Epoch++
	elapsed := clock.Since(started)
	log.Printf("[SCHED] total steps: %d, epoch %d done in %s, reshuffling", sess.GlobalStep, epoch, elapsed.Round(time.Second))
	s.logDecision(logging.DecisionEntry{
		TriggerType: "epoch",
		Decision:    "epoch_end",
		Reason:      fmt.Sprintf("epoch %d finished in %s", epoch, elapsed.Round(time.Second)),
	})
	s.deps.Board.Update(func(b *status.Snapshot) {
		b.Epoch = sess.Epoch
		b.ActiveBuckets = nil
	})
	tracing.EndSpan(span, nil)
	return "", nil
}

// #endregion

// #region lm-step

// lmStep runs one auxiliary LM update. An exhausted LM stream is reset and
// the LM epoch advances; it never ends the ASR epoch.
func (s *Scheduler) lmStep(ctx context.Context) error {
	res, err := s.deps.Model.Step(ctx, model.TaskLM, "")
	if err != nil {
		return fmt.Errorf("lm step: %w", err)
	}
	if res.Exhausted {
		lmEpoch, err := s.deps.Model.ResetLMStream(ctx)
		if err != nil {
			return fmt.Errorf("reset lm stream: %w", err)
		}
		s.sess.LMEpoch = lmEpoch
		log.Printf("[SCHED] LM epoch done %d", lmEpoch)
		s.deps.Board.Update(func(b *status.Snapshot) { b.LMEpoch = lmEpoch })
		return nil
	}

	if !s.lmLoss.Add(res.Loss) {
		return nil
	}
	snap := s.lmLoss.Snapshot()
	log.Printf("[SCHED] LM steps: %d, perplexity: %f", snap.Steps, snap.Perplexity)
	s.emit(ctx, metrics.LMPerplexity, snap.Perplexity)
	s.lmLoss.Reset()
	return nil
}

// #endregion

// #region asr-step

// asrStep trains on the first live bucket. Exhaustion drops the bucket for
// the rest of the epoch; every StepsPerCheckpoint updates run a checkpoint.
func (s *Scheduler) asrStep(ctx context.Context, active *dataset.ActiveSet) (TerminationSignal, error) {
	stream, _ := active.First()
	res, err := s.deps.Model.Step(ctx, model.TaskASR, stream.Handle)
	if err != nil {
		return "", fmt.Errorf("asr step on bucket %d: %w", stream.Bucket, err)
	}
	if res.Exhausted {
		active.RemoveFirst()
		log.Printf("[SCHED] bucket %d exhausted, %d left", stream.Bucket, active.Len())
		s.deps.Board.Update(func(b *status.Snapshot) { b.ActiveBuckets = active.Buckets() })
		return "", nil
	}

	s.sess.GlobalStep++
	if !s.asrLoss.Add(res.Loss) {
		return "", nil
	}
	stop, err := s.checkpoint(ctx)
	if err != nil {
		return "", err
	}
	if stop {
		return Stalled, nil
	}
	return "", nil
}

// #endregion

// #region checkpoint

// checkpoint evaluates, applies the decay and stop decisions, and saves.
// It reports whether training must stop; in that case nothing is saved.
func (s *Scheduler) checkpoint(ctx context.Context) (bool, error) {
	sess := s.sess
	ctx, span := tracing.StartSpan(ctx, "checkpoint")

	st, err := s.deps.Model.State(ctx)
	if err != nil {
		tracing.EndSpan(span, err)
		return false, fmt.Errorf("read state: %w", err)
	}
	sess.GlobalStep = st.GlobalStep
	sess.LearningRate = st.LearningRate
	span.SetInt64("global_step", sess.GlobalStep)

	window := s.asrLoss.Snapshot()
	log.Printf("[SCHED] step %d learning rate %.4f checkpoint time %.2f perplexity %.4f",
		sess.GlobalStep, sess.LearningRate, window.Elapsed.Seconds(), window.Perplexity)
	s.emit(ctx, metrics.ASRPerplexity, window.Perplexity)
	s.emit(ctx, metrics.LearningRate, sess.LearningRate)

	s.deps.Board.Update(func(b *status.Snapshot) { b.Phase = status.PhaseEvaluating })
	evalCtx, evalSpan := tracing.StartSpan(ctx, "evaluate")
	result, err := s.deps.Eval.Run(evalCtx)
	tracing.EndSpan(evalSpan, err)
	if err != nil {
		tracing.EndSpan(span, err)
		return false, err
	}
	score := result.ErrorRate
	log.Printf("[SCHED] ASR error: %.4f, decoding time: %s (%s)", score, result.Duration.Round(time.Millisecond), result.Reason)
	s.emit(ctx, metrics.ASRError, score)
	if err := s.deps.Checkpoints.AppendHistory(ctx, score); err != nil {
		tracing.EndSpan(span, err)
		return false, err
	}

	gate := s.deps.Gate
	decision := gate.Decay(policy.Input{
		GlobalStep:   sess.GlobalStep,
		LearningRate: sess.LearningRate,
		Prior:        sess.History,
		Current:      score,
	})
	sig := logging.CheckpointSignals{
		GlobalStep:   sess.GlobalStep,
		Epoch:        sess.Epoch,
		LearningRate: sess.LearningRate,
		Loss:         window.Loss,
		Perplexity:   window.Perplexity,
		ErrorRate:    score,
		BestScore:    sess.Best,
		Thresholds: logging.CheckpointThresholds{
			MinSteps:    gate.Config().MinSteps,
			LRFloor:     gate.Config().LRFloor,
			DecayWindow: gate.Config().DecayWindow,
			StallWindow: gate.Config().StallWindow,
		},
		DecayReason: decision.Reason,
	}
	if decision.Action == policy.ActionDecayLR {
		lr, err := s.deps.Model.DecayLearningRate(ctx)
		if err != nil {
			tracing.EndSpan(span, err)
			return false, fmt.Errorf("decay learning rate: %w", err)
		}
		log.Printf("[SCHED] learning rate decreased %.6f -> %.6f", sess.LearningRate, lr)
		sess.LearningRate = lr
		sig.Decayed = true
		sig.NewLR = lr
	}

	sess.History = append(sess.History, score)
	sig.HistoryLen = len(sess.History)
	s.deps.Board.SetHistory(sess.History)

	if gate.Stop(sess.LearningRate, sess.History) {
		log.Printf("[SCHED] no improvement in %d checkpoints", gate.Config().StallWindow)
		sig.Stopped = true
		s.logCheckpoint(sig, policy.ActionStop, "stalled at learning rate floor")
		tracing.EndSpan(span, nil)
		return true, nil
	}

	snap := checkpoint.Snapshot{
		GlobalStep:   sess.GlobalStep,
		Epoch:        sess.Epoch,
		LearningRate: sess.LearningRate,
		Loss:         window.Loss,
		ErrorRate:    score,
	}
	if policy.Improved(sess.Best, score) {
		sess.Best = score
		sig.NewBest = true
		log.Printf("[SCHED] best ASR error rate: %.4f, saving the best model", score)
		saveCtx, saveSpan := tracing.StartSpan(ctx, "save_best")
		_, err := s.deps.Checkpoints.SaveBest(saveCtx, s.deps.Model, snap)
		tracing.EndSpan(saveSpan, err)
		if err != nil {
			tracing.EndSpan(span, err)
			return false, err
		}
	}

	saveCtx, saveSpan := tracing.StartSpan(ctx, "save_rolling")
	path, err := s.deps.Checkpoints.SaveRolling(saveCtx, s.deps.Model, snap)
	tracing.EndSpan(saveSpan, err)
	if err != nil {
		tracing.EndSpan(span, err)
		return false, err
	}
	s.saves++
	s.lastCkpt = path

	action := policy.ActionNoOp
	switch {
	case sig.Decayed:
		action = policy.ActionDecayLR
	case sig.NewBest:
		action = policy.ActionNewBest
	}
	s.logCheckpoint(sig, action, decision.Reason)

	s.deps.Board.Update(func(b *status.Snapshot) {
		b.Phase = status.PhaseTraining
		b.GlobalStep = sess.GlobalStep
		b.LearningRate = sess.LearningRate
		b.LastScore = score
		b.BestScore = sess.Best
		b.Checkpoints = s.saves
		b.LastCheckpoint = path
	})

	s.asrLoss.Reset()
	tracing.EndSpan(span, nil)
	return false, nil
}

// #endregion

// #region helpers

func (s *Scheduler) emit(ctx context.Context, name string, value float64) {
	if err := s.deps.Sink.Emit(ctx, metrics.Event{Name: name, Step: s.sess.GlobalStep, Value: value}); err != nil {
		log.Printf("[SCHED] metric %s: %v", name, err)
	}
}

func (s *Scheduler) logCheckpoint(sig logging.CheckpointSignals, action policy.Action, reason string) {
	signals, err := logging.EncodeSignals(sig)
	if err != nil {
		log.Printf("[SCHED] %v", err)
	}
	s.logDecision(logging.DecisionEntry{
		TriggerType: "checkpoint",
		SignalsJSON: signals,
		Decision:    string(action),
		Reason:      reason,
	})
}

func (s *Scheduler) logDecision(entry logging.DecisionEntry) {
	if s.deps.DB == nil {
		return
	}
	entry.RunID = s.deps.RunID
	if s.sess != nil {
		entry.GlobalStep = s.sess.GlobalStep
	}
	if err := logging.LogDecision(s.deps.DB, entry); err != nil {
		log.Printf("[SCHED] logging error: %v", err)
	}
}

func (s *Scheduler) stopBoard(sig TerminationSignal) {
	s.deps.Board.Update(func(b *status.Snapshot) {
		b.Phase = status.PhaseStopped
		b.Outcome = string(sig)
	})
}

// #endregion
