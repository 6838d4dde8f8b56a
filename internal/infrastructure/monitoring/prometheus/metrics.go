package prometheus

import (
	"context"
	"strconv"
	"time"
)

// OPFMetrics holds the pipeline metrics.  It satisfies the Metrics
// interface the scenario generator, predictors and driver report to.
type OPFMetrics struct {
	// Scenario generation
	ScenariosTotal CounterVec
	SolveDuration  HistogramVec
	SolvesTotal    CounterVec

	// Training
	EpochLoss   GaugeVec
	EpochsTotal CounterVec

	// Evaluation
	EvaluationAbsError HistogramVec

	// Checkpoints
	CheckpointOpsTotal CounterVec
}

// Default buckets.
var (
	DefaultSolveDurationBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1}
	DefaultAbsErrorBuckets      = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}
)

// NewOPFMetrics registers every pipeline metric on c.
func NewOPFMetrics(c MetricsCollector) *OPFMetrics {
	return &OPFMetrics{
		ScenariosTotal: c.RegisterCounter("scenarios_generated_total",
			"Scenarios generated, by cost fidelity.", "fidelity"),
		SolveDuration: c.RegisterHistogram("dcopf_solve_duration_seconds",
			"Duration of DC-OPF solve attempts.", DefaultSolveDurationBuckets, "status"),
		SolvesTotal: c.RegisterCounter("dcopf_solves_total",
			"DC-OPF solve attempts, by outcome.", "status"),
		EpochLoss: c.RegisterGauge("epoch_loss",
			"Mean loss of the most recent finished epoch.", "model"),
		EpochsTotal: c.RegisterCounter("epochs_total",
			"Finished training epochs.", "model"),
		EvaluationAbsError: c.RegisterHistogram("evaluation_abs_error",
			"Absolute prediction error per evaluated scenario.", DefaultAbsErrorBuckets, "model"),
		CheckpointOpsTotal: c.RegisterCounter("checkpoint_operations_total",
			"Checkpoint saves and loads, by outcome.", "op", "status"),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordScenario counts one generated scenario.
func (m *OPFMetrics) RecordScenario(_ context.Context, fidelity string) {
	m.ScenariosTotal.WithLabelValues(fidelity).Inc()
}

// ObserveSolve records one solve attempt.
func (m *OPFMetrics) ObserveSolve(_ context.Context, d time.Duration, success bool) {
	s := status(success)
	m.SolvesTotal.WithLabelValues(s).Inc()
	m.SolveDuration.WithLabelValues(s).Observe(d.Seconds())
}

// RecordEpoch publishes the loss of a finished epoch.
func (m *OPFMetrics) RecordEpoch(_ context.Context, model string, _ int, loss float64) {
	m.EpochLoss.WithLabelValues(model).Set(loss)
	m.EpochsTotal.WithLabelValues(model).Inc()
}

// ObserveEvaluationError records one absolute evaluation error.
func (m *OPFMetrics) ObserveEvaluationError(_ context.Context, model string, absErr float64) {
	m.EvaluationAbsError.WithLabelValues(model).Observe(absErr)
}

// RecordCheckpoint counts a checkpoint operation.
func (m *OPFMetrics) RecordCheckpoint(_ context.Context, op string, success bool) {
	m.CheckpointOpsTotal.WithLabelValues(op, status(success)).Inc()
}

// RunInfo is a gauge fixed at 1 carrying the run identifier and seed, so
// textfiles from different runs can be told apart.
func RunInfo(c MetricsCollector, runID string, seed uint64) {
	c.RegisterGauge("run_info", "Identifies the run that wrote these metrics.", "run_id", "seed").
		WithLabelValues(runID, strconv.FormatUint(seed, 10)).Set(1)
}
