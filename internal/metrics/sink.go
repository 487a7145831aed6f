package metrics

import (
	"context"
	"fmt"
	"log"
)

// Summary names emitted by the scheduler.
const (
	ASRPerplexity = "ASR Perplexity"
	LMPerplexity  = "LM Perplexity"
	LearningRate  = "Learning rate"
	ASRError      = "ASR Error"
)

// Event is one scalar summary value at a global step.
type Event struct {
	Name  string
	Step  int64
	Value float64
}

// Sink receives summary events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Recorder persists metric events; satisfied by *state.Store.
type Recorder interface {
	RecordMetric(runID, name string, step int64, value float64) error
}

// StoreSink writes events to a Recorder under one run ID.
type StoreSink struct {
	rec   Recorder
	runID string
}

// NewStoreSink binds a recorder to a run.
func NewStoreSink(rec Recorder, runID string) *StoreSink {
	return &StoreSink{rec: rec, runID: runID}
}

// Emit persists the event.
func (s *StoreSink) Emit(_ context.Context, ev Event) error {
	if err := s.rec.RecordMetric(s.runID, ev.Name, ev.Step, ev.Value); err != nil {
		return fmt.Errorf("record metric %q: %w", ev.Name, err)
	}
	return nil
}

// LogSink prints events through the standard logger.
type LogSink struct{}

// Emit logs the event.
func (LogSink) Emit(_ context.Context, ev Event) error {
	log.Printf("[METRIC] step=%d %s=%.4f", ev.Step, ev.Name, ev.Value)
	return nil
}

// MultiSink fans an event out to every sink and returns the first error.
type MultiSink []Sink

// Emit sends ev to all sinks, even when one fails.
func (m MultiSink) Emit(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
