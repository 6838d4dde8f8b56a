// Package training drives the graph predictor through its lifecycle: fit on
// scenario records, checkpoint, reload into a fresh model and evaluate.
package training

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/turtacn/gnn-opf/internal/application/scenario"
	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/gnn-opf/internal/intelligence/common"
	"github.com/turtacn/gnn-opf/internal/intelligence/opf_gnn"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// MetricsModel is the model label the driver reports metrics under.
const MetricsModel = "gnn"

// metaNodeFeatures records the node feature layout in checkpoints.
const metaNodeFeatures = "node_features"

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// State is a Driver lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateTraining   State = "training"
	StateConverged  State = "converged"
	StateSaved      State = "saved"
	StateLoaded     State = "loaded"
	StateEvaluating State = "evaluating"
	StateReported   State = "reported"
)

// transitions lists the legal successors of each state.  A failed Train
// returns to idle; a failed Evaluate returns to the state it started from.
var transitions = map[State][]State{
	StateIdle:       {StateTraining, StateLoaded},
	StateTraining:   {StateConverged, StateIdle},
	StateConverged:  {StateSaved},
	StateSaved:      {StateSaved},
	StateLoaded:     {StateEvaluating},
	StateEvaluating: {StateReported, StateLoaded},
	StateReported:   {StateEvaluating},
}

// ─────────────────────────────────────────────────────────────────────────────
// Options
// ─────────────────────────────────────────────────────────────────────────────

// Options configures a Driver.
type Options struct {
	Epochs       int
	LearningRate float64
	// LoadVariation feeds the legacy load mapping for records without loads.
	LoadVariation float64
	NodeFeatures  opf_gnn.NodeFeatureMode
	// Model supplies hidden size, readout and loss settings.  InputDim is
	// derived from NodeFeatures.
	Model *opf_gnn.ModelConfig
	// AdoptCheckpoint lets Load take the architecture and node features a
	// checkpoint records instead of rejecting ones that differ from Model.
	AdoptCheckpoint bool
}

// DefaultOptions mirrors the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		Epochs:        5,
		LearningRate:  0.01,
		LoadVariation: 0.3,
		NodeFeatures:  opf_gnn.NodeFeaturesVoltage,
		Model:         opf_gnn.DefaultModelConfig(),
	}
}

func (o *Options) normalize() error {
	if o.Epochs < 1 {
		return errors.InvalidParam("epochs must be at least 1")
	}
	if !(o.LearningRate > 0) {
		return errors.InvalidParam("learning_rate must be positive")
	}
	mode, err := opf_gnn.ParseNodeFeatureMode(string(o.NodeFeatures))
	if err != nil {
		return err
	}
	o.NodeFeatures = mode
	cfg := opf_gnn.DefaultModelConfig()
	if o.Model != nil {
		cfg = o.Model
	}
	copied := *cfg
	copied.InputDim = mode.Dim()
	o.Model = &copied
	return o.Model.Validate()
}

// ─────────────────────────────────────────────────────────────────────────────
// Driver
// ─────────────────────────────────────────────────────────────────────────────

// EvaluationResult is the outcome for one scenario.
type EvaluationResult struct {
	Scenario       int     `json:"scenario"`
	PredictedTotal float64 `json:"predicted_total"`
	TargetTotal    float64 `json:"target_total"`
	Error          float64 `json:"error"`
}

// Driver owns one graph predictor and its lifecycle.
type Driver struct {
	mu      sync.Mutex
	state   State
	opts    Options
	network *grid.Network
	model   *opf_gnn.Model
	rng     *rand.Rand
	logger  logging.Logger
	metrics common.Metrics
}

// NewDriver builds a driver around a freshly initialised model.
func NewDriver(n *grid.Network, opts Options, rng *rand.Rand, logger logging.Logger, metrics common.Metrics) (*Driver, error) {
	if n == nil || len(n.Buses) == 0 {
		return nil, errors.InvalidParam("network is required")
	}
	if rng == nil {
		return nil, errors.InvalidParam("random source is required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	model, err := opf_gnn.NewModel(opts.Model, rng)
	if err != nil {
		return nil, err
	}
	return &Driver{
		state:   StateIdle,
		opts:    opts,
		network: n,
		model:   model,
		rng:     rng,
		logger:  logging.OrNop(logger).Named("driver"),
		metrics: common.OrNoop(metrics),
	}, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Model returns the current predictor.
func (d *Driver) Model() *opf_gnn.Model {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model
}

// NodeFeatures returns the node feature layout the model consumes.
func (d *Driver) NodeFeatures() opf_gnn.NodeFeatureMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.NodeFeatures
}

func (d *Driver) transition(to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range transitions[d.state] {
		if s == to {
			d.logger.Debug("state transition", logging.String("from", string(d.state)), logging.String("to", string(to)))
			d.state = to
			return nil
		}
	}
	return errors.Newf(errors.CodeInvalidState, "cannot move from %s to %s", d.state, to)
}

// graphs converts every record into the model's graph layout.  Train and
// Evaluate build them once per call and reuse them across epochs; a graph
// depends only on the network and the record's fixed overlay.
func (d *Driver) graphs(records []scenario.Record) ([]*opf_gnn.PowerGraph, error) {
	if len(records) == 0 {
		return nil, errors.DataError("no scenario records")
	}
	out := make([]*opf_gnn.PowerGraph, len(records))
	for i, rec := range records {
		g, err := opf_gnn.ConvertNetworkToGraph(d.network, rec.Overlay(d.network, d.opts.LoadVariation),
			opf_gnn.GraphOptions{NodeFeatures: d.opts.NodeFeatures})
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, "build graph").WithDetail("scenario " + strconv.Itoa(rec.Scenario))
		}
		out[i] = g
	}
	return out, nil
}

// Train fits the model for the configured number of epochs with one Adam
// step per scenario.  It returns the summed loss of every epoch.
func (d *Driver) Train(ctx context.Context, records []scenario.Record) ([]float64, error) {
	if err := d.transition(StateTraining); err != nil {
		return nil, err
	}
	losses, err := d.train(ctx, records)
	if err != nil {
		d.forceState(StateIdle)
		return losses, err
	}
	if err := d.transition(StateConverged); err != nil {
		return losses, err
	}
	return losses, nil
}

func (d *Driver) train(ctx context.Context, records []scenario.Record) ([]float64, error) {
	graphs, err := d.graphs(records)
	if err != nil {
		return nil, err
	}
	opt, err := common.NewAdam(d.model.Parameters(), d.opts.LearningRate)
	if err != nil {
		return nil, err
	}

	losses := make([]float64, 0, d.opts.Epochs)
	for epoch := 1; epoch <= d.opts.Epochs; epoch++ {
		var total float64
		for i, g := range graphs {
			if err := ctx.Err(); err != nil {
				return losses, errors.Wrap(err, errors.CodeCanceled, "gnn training interrupted")
			}
			r, err := d.model.Forward(g)
			if err != nil {
				return losses, err
			}
			opt.ZeroGrad()
			loss := d.model.Loss(r, records[i].TotalCost)
			d.model.Backward(r, records[i].TotalCost)
			opt.Step()
			total += loss.Total
		}
		if math.IsNaN(total) || math.IsInf(total, 0) {
			return losses, errors.Newf(errors.CodeInternal, "gnn loss diverged at epoch %d", epoch)
		}
		losses = append(losses, total)
		d.metrics.RecordEpoch(ctx, MetricsModel, epoch, total/float64(len(graphs)))
		d.logger.Info("epoch finished",
			logging.Epoch(epoch), logging.Int("epochs", d.opts.Epochs), logging.Loss(total))
	}
	return losses, nil
}

func (d *Driver) forceState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

// Save writes the trained model to path.
func (d *Driver) Save(ctx context.Context, path string) error {
	if err := d.transition(StateSaved); err != nil {
		return err
	}
	ck := d.model.Checkpoint()
	ck.Meta[metaNodeFeatures] = string(d.opts.NodeFeatures)
	err := common.SaveCheckpoint(path, ck)
	d.metrics.RecordCheckpoint(ctx, common.CheckpointOpSave, err == nil)
	if err != nil {
		d.forceState(StateConverged)
		return err
	}
	d.logger.Info("model saved", logging.String("path", path))
	return nil
}

// Load replaces the model with the checkpoint at path.  The checkpoint must
// record the driver's architecture and node feature layout; any difference
// is a CheckpointError unless AdoptCheckpoint is set, in which case the
// checkpoint's architecture wins and the loss settings are kept.
func (d *Driver) Load(ctx context.Context, path string) error {
	if s := d.State(); s != StateIdle {
		return errors.Newf(errors.CodeInvalidState, "cannot move from %s to %s", s, StateLoaded)
	}

	model, mode, err := d.restore(path)
	d.metrics.RecordCheckpoint(ctx, common.CheckpointOpLoad, err == nil)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.model = model
	d.opts.NodeFeatures = mode
	d.mu.Unlock()
	if err := d.transition(StateLoaded); err != nil {
		return err
	}
	d.logger.Info("model loaded", logging.String("path", path), logging.String("node_features", string(mode)))
	return nil
}

func (d *Driver) restore(path string) (*opf_gnn.Model, opf_gnn.NodeFeatureMode, error) {
	ck, err := common.LoadCheckpoint(path, opf_gnn.ModelKind)
	if err != nil {
		return nil, "", err
	}
	mode := d.opts.NodeFeatures
	if v, ok := ck.Meta[metaNodeFeatures]; ok {
		if mode, err = opf_gnn.ParseNodeFeatureMode(v); err != nil {
			return nil, "", errors.Wrap(err, errors.CodeCheckpointError, "checkpoint node_features is invalid")
		}
	}
	cfg, err := opf_gnn.ConfigFromCheckpoint(ck, d.opts.Model)
	if err != nil {
		return nil, "", err
	}
	if cfg.InputDim != mode.Dim() {
		return nil, "", errors.Newf(errors.CodeCheckpointError,
			"checkpoint input_dim %d does not match %s node features", cfg.InputDim, mode)
	}
	if !d.opts.AdoptCheckpoint {
		if err := d.checkArchitecture(cfg, mode); err != nil {
			return nil, "", err
		}
		cfg = d.opts.Model
	}
	model, err := opf_gnn.NewModel(cfg, d.rng)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.CodeCheckpointError, "rebuild model")
	}
	if err := model.Restore(ck); err != nil {
		return nil, "", err
	}
	return model, mode, nil
}

// checkArchitecture compares the checkpoint's recorded layout with the
// driver's configured one.
func (d *Driver) checkArchitecture(cfg *opf_gnn.ModelConfig, mode opf_gnn.NodeFeatureMode) error {
	want := d.opts.Model
	var diffs []string
	if mode != d.opts.NodeFeatures {
		diffs = append(diffs, "node_features "+string(mode)+" != "+string(d.opts.NodeFeatures))
	}
	if cfg.InputDim != want.InputDim {
		diffs = append(diffs, "input_dim "+strconv.Itoa(cfg.InputDim)+" != "+strconv.Itoa(want.InputDim))
	}
	if cfg.HiddenDim != want.HiddenDim {
		diffs = append(diffs, "hidden_dim "+strconv.Itoa(cfg.HiddenDim)+" != "+strconv.Itoa(want.HiddenDim))
	}
	if cfg.Readout != want.Readout {
		diffs = append(diffs, "readout "+string(cfg.Readout)+" != "+string(want.Readout))
	}
	if len(diffs) > 0 {
		return errors.New(errors.CodeCheckpointError, "checkpoint architecture does not match the configured model").
			WithDetail(strings.Join(diffs, "; "))
	}
	return nil
}

// Evaluate predicts every record and reports the absolute error per
// scenario.  The driver must hold a loaded model.
func (d *Driver) Evaluate(ctx context.Context, records []scenario.Record) ([]EvaluationResult, error) {
	prev := d.State()
	if err := d.transition(StateEvaluating); err != nil {
		return nil, err
	}
	results, err := d.evaluate(ctx, records)
	if err != nil {
		d.forceState(prev)
		return nil, err
	}
	if err := d.transition(StateReported); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Driver) evaluate(ctx context.Context, records []scenario.Record) ([]EvaluationResult, error) {
	graphs, err := d.graphs(records)
	if err != nil {
		return nil, err
	}
	results := make([]EvaluationResult, len(records))
	for i, g := range graphs {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeCanceled, "evaluation interrupted")
		}
		pred, _, err := d.model.Predict(g)
		if err != nil {
			return nil, err
		}
		rec := records[i]
		res := EvaluationResult{
			Scenario:       rec.Scenario,
			PredictedTotal: pred,
			TargetTotal:    rec.TotalCost,
			Error:          math.Abs(pred - rec.TotalCost),
		}
		results[i] = res
		d.metrics.ObserveEvaluationError(ctx, MetricsModel, res.Error)
		d.logger.Info("scenario evaluated",
			logging.Scenario(res.Scenario),
			logging.Float64("predicted", res.PredictedTotal),
			logging.Float64("actual", res.TargetTotal),
			logging.Float64("error", res.Error))
	}
	return results, nil
}

// Infer runs the current model on the base network under overlay.  It is
// available in every state.
func (d *Driver) Infer(overlay grid.LoadOverlay) (*opf_gnn.InferenceResult, error) {
	d.mu.Lock()
	model, mode := d.model, d.opts.NodeFeatures
	d.mu.Unlock()
	return opf_gnn.Infer(model, d.network, overlay, mode)
}
