package common

import (
	"context"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Metrics interface
// ---------------------------------------------------------------------------

// Metrics receives the numeric side effects of scenario generation,
// training and evaluation.  The Prometheus-backed implementation lives in
// the monitoring package; NewNoopMetrics is used when metrics are disabled.
type Metrics interface {
	// RecordScenario counts one generated scenario by fidelity.
	RecordScenario(ctx context.Context, fidelity string)
	// ObserveSolve records one DC-OPF solve attempt.
	ObserveSolve(ctx context.Context, d time.Duration, success bool)
	// RecordEpoch publishes the mean loss of a finished epoch.
	RecordEpoch(ctx context.Context, model string, epoch int, loss float64)
	// ObserveEvaluationError records the absolute error of one evaluated scenario.
	ObserveEvaluationError(ctx context.Context, model string, absErr float64)
	// RecordCheckpoint counts a checkpoint save or load.
	RecordCheckpoint(ctx context.Context, op string, success bool)
}

// Checkpoint operations reported to RecordCheckpoint.
const (
	CheckpointOpSave = "save"
	CheckpointOpLoad = "load"
)

// ---------------------------------------------------------------------------
// No-op implementation
// ---------------------------------------------------------------------------

type noopMetrics struct{}

// NewNoopMetrics returns a Metrics that drops everything.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordScenario(context.Context, string)                  {}
func (noopMetrics) ObserveSolve(context.Context, time.Duration, bool)       {}
func (noopMetrics) RecordEpoch(context.Context, string, int, float64)       {}
func (noopMetrics) ObserveEvaluationError(context.Context, string, float64) {}
func (noopMetrics) RecordCheckpoint(context.Context, string, bool)          {}

// OrNoop returns m, or a no-op Metrics when m is nil.
func OrNoop(m Metrics) Metrics {
	if m == nil {
		return NewNoopMetrics()
	}
	return m
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// EpochRecord is one RecordEpoch call.
type EpochRecord struct {
	Model string
	Epoch int
	Loss  float64
}

// InMemoryMetrics keeps every observation; it backs assertions in tests.
type InMemoryMetrics struct {
	mu          sync.Mutex
	scenarios   map[string]int
	solves      int
	solveFails  int
	epochs      []EpochRecord
	evalErrors  map[string][]float64
	checkpoints map[string]int
}

// NewInMemoryMetrics returns an empty InMemoryMetrics.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		scenarios:   make(map[string]int),
		evalErrors:  make(map[string][]float64),
		checkpoints: make(map[string]int),
	}
}

func (m *InMemoryMetrics) RecordScenario(_ context.Context, fidelity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[fidelity]++
}

func (m *InMemoryMetrics) ObserveSolve(_ context.Context, _ time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solves++
	if !success {
		m.solveFails++
	}
}

func (m *InMemoryMetrics) RecordEpoch(_ context.Context, model string, epoch int, loss float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs = append(m.epochs, EpochRecord{Model: model, Epoch: epoch, Loss: loss})
}

func (m *InMemoryMetrics) ObserveEvaluationError(_ context.Context, model string, absErr float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evalErrors[model] = append(m.evalErrors[model], absErr)
}

func (m *InMemoryMetrics) RecordCheckpoint(_ context.Context, op string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op
	if !success {
		key += "_failed"
	}
	m.checkpoints[key]++
}

// Scenarios returns the count of scenarios recorded with fidelity.
func (m *InMemoryMetrics) Scenarios(fidelity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scenarios[fidelity]
}

// Solves returns total and failed solve counts.
func (m *InMemoryMetrics) Solves() (total, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solves, m.solveFails
}

// Epochs returns a copy of the recorded epochs.
func (m *InMemoryMetrics) Epochs() []EpochRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EpochRecord(nil), m.epochs...)
}

// EvaluationErrors returns a copy of the errors observed for model.
func (m *InMemoryMetrics) EvaluationErrors(model string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.evalErrors[model]...)
}

// Checkpoints returns the count for op; failed operations are keyed "<op>_failed".
func (m *InMemoryMetrics) Checkpoints(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoints[key]
}
