// Package opf_baseline is the feed-forward reference regressor: it maps a
// scenario's scalar features straight to total cost without looking at the
// network.
package opf_baseline

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/gnn-opf/internal/intelligence/common"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// ModelKind tags baseline checkpoints.
const ModelKind = "baseline"

// Parameter names.
const (
	ParamFC1Weight = "fc1.weight"
	ParamFC1Bias   = "fc1.bias"
	ParamFC2Weight = "fc2.weight"
	ParamFC2Bias   = "fc2.bias"
)

// Architecture defaults.
const (
	DefaultInputDim  = 2
	DefaultHiddenDim = 8
)

// Config describes the Linear(in→hidden) → ReLU → Linear(hidden→1) stack.
type Config struct {
	InputDim  int `json:"input_dim" yaml:"input_dim"`
	HiddenDim int `json:"hidden_dim" yaml:"hidden_dim"`
}

// DefaultConfig returns the two-feature, eight-unit configuration.
func DefaultConfig() *Config {
	return &Config{InputDim: DefaultInputDim, HiddenDim: DefaultHiddenDim}
}

// Validate checks dimensions.  Only one or two input features are defined.
func (c *Config) Validate() error {
	if c.InputDim < 1 || c.InputDim > 2 {
		return errors.InvalidParam("baseline input_dim must be 1 or 2").WithDetail(strconv.Itoa(c.InputDim))
	}
	if c.HiddenDim <= 0 {
		return errors.InvalidParam("baseline hidden_dim must be positive")
	}
	return nil
}

// Sample is one training example.
type Sample struct {
	Features []float64
	Target   float64
}

// Features builds the input vector of a scenario: [scenario] or
// [scenario, bus1 load].
func Features(scenario int, firstBusLoad float64, dim int) []float64 {
	if dim == 1 {
		return []float64{float64(scenario)}
	}
	return []float64{float64(scenario), firstBusLoad}
}

// TrainOptions controls Train.
type TrainOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	// Rand shuffles the batch order each epoch.  Required.
	Rand *rand.Rand
	// OnEpoch, if set, is called after every epoch with its 1-based number
	// and summed batch loss.
	OnEpoch func(epoch int, loss float64)
}

func (o TrainOptions) validate() error {
	if o.Epochs < 1 {
		return errors.InvalidParam("epochs must be at least 1")
	}
	if o.BatchSize < 1 {
		return errors.InvalidParam("batch_size must be at least 1")
	}
	if !(o.LearningRate > 0) {
		return errors.InvalidParam("learning_rate must be positive")
	}
	if o.Rand == nil {
		return errors.InvalidParam("random source is required")
	}
	return nil
}

// Model is the baseline MLP.  Weights are stored input-major (in × out).
type Model struct {
	cfg    Config
	fc1W   *common.Parameter
	fc1B   *common.Parameter
	fc2W   *common.Parameter
	fc2B   *common.Parameter
	params common.ParameterSet
	logger logging.Logger
}

// NewModel initialises every weight and bias from U(±1/sqrt(fan_in)).
func NewModel(cfg *Config, rng *rand.Rand, logger logging.Logger) (*Model, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.InvalidParam("random source is required")
	}
	m := &Model{
		cfg:    *cfg,
		fc1W:   common.NewParameter(ParamFC1Weight, cfg.InputDim, cfg.HiddenDim),
		fc1B:   common.NewParameter(ParamFC1Bias, 1, cfg.HiddenDim),
		fc2W:   common.NewParameter(ParamFC2Weight, cfg.HiddenDim, 1),
		fc2B:   common.NewParameter(ParamFC2Bias, 1, 1),
		logger: logging.OrNop(logger).Named("baseline"),
	}
	common.UniformFanIn(m.fc1W.Value, cfg.InputDim, rng)
	common.UniformFanIn(m.fc1B.Value, cfg.InputDim, rng)
	common.UniformFanIn(m.fc2W.Value, cfg.HiddenDim, rng)
	common.UniformFanIn(m.fc2B.Value, cfg.HiddenDim, rng)
	m.params = common.ParameterSet{m.fc1W, m.fc1B, m.fc2W, m.fc2B}
	return m, nil
}

// Config returns a copy of the architecture.
func (m *Model) Config() Config { return m.cfg }

// Parameters returns the trainable parameters.
func (m *Model) Parameters() common.ParameterSet { return m.params }

type activations struct {
	x, z1, h1 *mat.Dense
	out       *mat.Dense
}

func (m *Model) forward(x *mat.Dense) *activations {
	a := &activations{x: x, z1: &mat.Dense{}, out: &mat.Dense{}}
	a.z1.Mul(x, m.fc1W.Value)
	common.AddBias(a.z1, m.fc1B.Value)
	a.h1 = common.ReLU(a.z1)
	a.out.Mul(a.h1, m.fc2W.Value)
	common.AddBias(a.out, m.fc2B.Value)
	return a
}

// backward accumulates the gradient of the batch MSE.
func (m *Model) backward(a *activations, targets []float64) float64 {
	b := len(targets)
	g := mat.NewDense(b, 1, nil)
	var loss float64
	for i, t := range targets {
		d := a.out.At(i, 0) - t
		loss += d * d
		g.Set(i, 0, 2*d/float64(b))
	}

	var dW2, dH1, dW1 mat.Dense
	dW2.Mul(a.h1.T(), g)
	m.fc2W.AccumulateGrad(&dW2)
	m.fc2B.AccumulateGrad(common.ColSum(g))

	dH1.Mul(g, m.fc2W.Value.T())
	dZ1 := common.ReLUBackward(&dH1, a.z1)
	dW1.Mul(a.x.T(), dZ1)
	m.fc1W.AccumulateGrad(&dW1)
	m.fc1B.AccumulateGrad(common.ColSum(dZ1))
	return loss / float64(b)
}

func (m *Model) inputMatrix(rows [][]float64) (*mat.Dense, error) {
	x := mat.NewDense(len(rows), m.cfg.InputDim, nil)
	for i, f := range rows {
		if len(f) != m.cfg.InputDim {
			return nil, errors.Newf(errors.CodeModelShape, "sample %d has %d features, model expects %d", i, len(f), m.cfg.InputDim)
		}
		x.SetRow(i, f)
	}
	return x, nil
}

// Predict returns the cost estimate for one feature vector.
func (m *Model) Predict(features []float64) (float64, error) {
	x, err := m.inputMatrix([][]float64{features})
	if err != nil {
		return 0, err
	}
	return m.forward(x).out.At(0, 0), nil
}

// Train fits the model with mini-batch Adam on the mean squared error.
// Every epoch shuffles the samples and runs to completion; there is no
// early stopping.  It returns the summed batch loss of each epoch.
func (m *Model) Train(ctx context.Context, samples []Sample, opts TrainOptions) ([]float64, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.DataError("no training samples")
	}
	rows := make([][]float64, len(samples))
	for i, s := range samples {
		rows[i] = s.Features
	}
	x, err := m.inputMatrix(rows)
	if err != nil {
		return nil, err
	}
	opt, err := common.NewAdam(m.params, opts.LearningRate)
	if err != nil {
		return nil, err
	}

	losses := make([]float64, 0, opts.Epochs)
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return losses, errors.Wrap(err, errors.CodeCanceled, "baseline training interrupted")
		}
		batches, err := common.Batches(len(samples), opts.BatchSize, opts.Rand)
		if err != nil {
			return losses, err
		}
		var total float64
		for _, idx := range batches {
			bx := mat.NewDense(len(idx), m.cfg.InputDim, nil)
			targets := make([]float64, len(idx))
			for r, i := range idx {
				bx.SetRow(r, x.RawRowView(i))
				targets[r] = samples[i].Target
			}
			opt.ZeroGrad()
			total += m.backward(m.forward(bx), targets)
			opt.Step()
		}
		if math.IsNaN(total) || math.IsInf(total, 0) {
			return losses, errors.Newf(errors.CodeInternal, "baseline loss diverged at epoch %d", epoch)
		}
		losses = append(losses, total)
		m.logger.Info("epoch finished",
			logging.Epoch(epoch), logging.Int("epochs", opts.Epochs), logging.Loss(total))
		if opts.OnEpoch != nil {
			opts.OnEpoch(epoch, total)
		}
	}
	return losses, nil
}

// Checkpoint snapshots the parameters and architecture.
func (m *Model) Checkpoint() *common.Checkpoint {
	return &common.Checkpoint{
		Kind: ModelKind,
		Meta: map[string]string{
			"input_dim":  strconv.Itoa(m.cfg.InputDim),
			"hidden_dim": strconv.Itoa(m.cfg.HiddenDim),
		},
		State: m.params.StateDict(),
	}
}

// Restore loads a baseline checkpoint into the model.  Recorded dimensions
// and tensor shapes must match the model's configuration.
func (m *Model) Restore(ck *common.Checkpoint) error {
	if ck == nil {
		return errors.CheckpointError("checkpoint is nil")
	}
	if ck.Kind != ModelKind {
		return errors.Newf(errors.CodeCheckpointError, "checkpoint holds a %q model, want %q", ck.Kind, ModelKind)
	}
	for key, want := range map[string]int{"input_dim": m.cfg.InputDim, "hidden_dim": m.cfg.HiddenDim} {
		if v, ok := ck.Meta[key]; ok && v != strconv.Itoa(want) {
			return errors.Newf(errors.CodeCheckpointError, "checkpoint %s %s does not match model %s %d", key, v, key, want)
		}
	}
	return m.params.LoadStateDict(ck.State)
}

// LoadWeights restores the checkpoint at path into this model without
// changing its architecture.
func (m *Model) LoadWeights(path string) error {
	ck, err := common.LoadCheckpoint(path, ModelKind)
	if err != nil {
		return err
	}
	return m.Restore(ck)
}

// Save writes the model to path.
func (m *Model) Save(path string) error {
	return common.SaveCheckpoint(path, m.Checkpoint())
}

// Load reads a baseline checkpoint from path, rebuilding the architecture
// it records.
func Load(path string, logger logging.Logger) (*Model, error) {
	ck, err := common.LoadCheckpoint(path, ModelKind)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	for key, dst := range map[string]*int{"input_dim": &cfg.InputDim, "hidden_dim": &cfg.HiddenDim} {
		if v, ok := ck.Meta[key]; ok {
			d, err := strconv.Atoi(v)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeCheckpointError, "checkpoint "+key+" is not an integer")
			}
			*dst = d
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpointError, "checkpoint architecture is invalid")
	}
	// Weights are overwritten by Restore; the seed only satisfies NewModel.
	m, err := NewModel(cfg, common.NewRand(0), logger)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(ck); err != nil {
		return nil, err
	}
	return m, nil
}
