package opf_gnn

import (
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/internal/intelligence/common"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// ModelKind tags GNN checkpoints.
const ModelKind = "gnn"

// Parameter names, stable across checkpoints.
const (
	ParamConv1Weight  = "conv1.weight"
	ParamConv1Bias    = "conv1.bias"
	ParamConv2Weight  = "conv2.weight"
	ParamConv2Bias    = "conv2.bias"
	ParamReadoutQuery = "readout.query"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// ReadoutType selects how per-node outputs are reduced to one prediction.
type ReadoutType string

const (
	ReadoutMean      ReadoutType = "mean"
	ReadoutSum       ReadoutType = "sum"
	ReadoutAttention ReadoutType = "attention"
)

// Defaults matching the reference two-layer network.
const (
	DefaultHiddenDim        = 16
	DefaultPenaltyReference = 100.0
	DefaultPenaltyWeight    = 1.0
)

// ModelConfig holds the architecture and loss settings of the GCN.
type ModelConfig struct {
	InputDim         int         `json:"input_dim" yaml:"input_dim"`
	HiddenDim        int         `json:"hidden_dim" yaml:"hidden_dim"`
	Readout          ReadoutType `json:"readout" yaml:"readout"`
	PenaltyReference float64     `json:"penalty_reference" yaml:"penalty_reference"`
	PenaltyWeight    float64     `json:"penalty_weight" yaml:"penalty_weight"`
}

// DefaultModelConfig returns the 1→16→1 mean-readout configuration.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		InputDim:         1,
		HiddenDim:        DefaultHiddenDim,
		Readout:          ReadoutMean,
		PenaltyReference: DefaultPenaltyReference,
		PenaltyWeight:    DefaultPenaltyWeight,
	}
}

// Validate checks the configuration for consistency.
func (c *ModelConfig) Validate() error {
	if c.InputDim <= 0 {
		return errors.InvalidParam("input_dim must be positive")
	}
	if c.HiddenDim <= 0 {
		return errors.InvalidParam("hidden_dim must be positive")
	}
	switch c.Readout {
	case ReadoutMean, ReadoutSum, ReadoutAttention:
	default:
		return errors.InvalidParam("readout must be one of mean, sum, attention").WithDetail(string(c.Readout))
	}
	if c.PenaltyWeight < 0 || math.IsNaN(c.PenaltyWeight) {
		return errors.InvalidParam("penalty_weight must be non-negative")
	}
	if math.IsNaN(c.PenaltyReference) || math.IsInf(c.PenaltyReference, 0) {
		return errors.InvalidParam("penalty_reference must be finite")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Model is a two-layer graph convolutional regressor:
//
//	H = relu(Â X W1 + b1)
//	Y = Â H W2 + b2
//
// producing one output per node, reduced by the configured readout.
type Model struct {
	cfg ModelConfig

	conv1W, conv1B *common.Parameter
	conv2W, conv2B *common.Parameter
	query          *common.Parameter
	params         common.ParameterSet
}

// NewModel builds a model with Glorot-initialised weights and zero biases
// drawn from rng.
func NewModel(cfg *ModelConfig, rng *rand.Rand) (*Model, error) {
	if cfg == nil {
		return nil, errors.InvalidParam("model config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.InvalidParam("random source is required")
	}
	m := &Model{
		cfg:    *cfg,
		conv1W: common.NewParameter(ParamConv1Weight, cfg.InputDim, cfg.HiddenDim),
		conv1B: common.NewParameter(ParamConv1Bias, 1, cfg.HiddenDim),
		conv2W: common.NewParameter(ParamConv2Weight, cfg.HiddenDim, 1),
		conv2B: common.NewParameter(ParamConv2Bias, 1, 1),
	}
	common.GlorotUniform(m.conv1W.Value, rng)
	common.GlorotUniform(m.conv2W.Value, rng)
	m.params = common.ParameterSet{m.conv1W, m.conv1B, m.conv2W, m.conv2B}
	if cfg.Readout == ReadoutAttention {
		m.query = common.NewParameter(ParamReadoutQuery, cfg.HiddenDim, 1)
		common.GlorotUniform(m.query.Value, rng)
		m.params = append(m.params, m.query)
	}
	return m, nil
}

// Config returns a copy of the model configuration.
func (m *Model) Config() ModelConfig { return m.cfg }

// Parameters returns the trainable parameters in registration order.
func (m *Model) Parameters() common.ParameterSet { return m.params }

// ForwardResult holds a forward pass and the activations Backward needs.
type ForwardResult struct {
	// Outputs is the raw per-node prediction.
	Outputs []float64
	// Prediction is the readout of Outputs.
	Prediction float64
	// Penalty is PhysicsPenalty(Outputs, reference).
	Penalty float64
	// Attention holds the readout weights; nil unless the readout is attention.
	Attention []float64

	adj *mat.Dense
	ax  *mat.Dense // Â X
	z1  *mat.Dense // Â X W1 + b1
	h1  *mat.Dense // relu(z1)
	ah1 *mat.Dense // Â H
}

// Forward runs the network on g.
func (m *Model) Forward(g *PowerGraph) (*ForwardResult, error) {
	if g == nil || g.NumNodes() == 0 {
		return nil, errors.New(errors.CodeModelShape, "graph has no nodes")
	}
	if f := g.FeatureDim(); f != m.cfg.InputDim {
		return nil, errors.Newf(errors.CodeModelShape, "graph has %d node features, model expects %d", f, m.cfg.InputDim)
	}
	n := g.NumNodes()
	r := &ForwardResult{adj: g.NormalizedAdjacency()}

	r.ax = &mat.Dense{}
	r.ax.Mul(r.adj, g.NodeFeatures)
	r.z1 = &mat.Dense{}
	r.z1.Mul(r.ax, m.conv1W.Value)
	common.AddBias(r.z1, m.conv1B.Value)
	r.h1 = common.ReLU(r.z1)

	r.ah1 = &mat.Dense{}
	r.ah1.Mul(r.adj, r.h1)
	var y mat.Dense
	y.Mul(r.ah1, m.conv2W.Value)
	common.AddBias(&y, m.conv2B.Value)

	r.Outputs = make([]float64, n)
	for i := range r.Outputs {
		r.Outputs[i] = y.At(i, 0)
	}

	switch m.cfg.Readout {
	case ReadoutSum:
		for _, v := range r.Outputs {
			r.Prediction += v
		}
	case ReadoutAttention:
		var s mat.Dense
		s.Mul(r.h1, m.query.Value)
		r.Attention = softmax(s.RawMatrix().Data)
		for i, v := range r.Outputs {
			r.Prediction += r.Attention[i] * v
		}
	default:
		for _, v := range r.Outputs {
			r.Prediction += v
		}
		r.Prediction /= float64(n)
	}
	r.Penalty = PhysicsPenalty(r.Outputs, m.cfg.PenaltyReference)
	return r, nil
}

// Loss is the training objective for one scenario.
type Loss struct {
	Total   float64
	MSE     float64
	Penalty float64
}

// Loss evaluates (prediction − target)² + penalty_weight × penalty.
func (m *Model) Loss(r *ForwardResult, target float64) Loss {
	d := r.Prediction - target
	l := Loss{MSE: d * d, Penalty: r.Penalty}
	l.Total = l.MSE + m.cfg.PenaltyWeight*l.Penalty
	return l
}

// Backward accumulates the gradient of Loss(r, target) into the model
// parameters.  r must come from Forward on this model with unchanged weights.
func (m *Model) Backward(r *ForwardResult, target float64) {
	n := len(r.Outputs)
	dPred := 2 * (r.Prediction - target)
	penScale := m.cfg.PenaltyWeight / float64(n)

	// dL/dY
	gy := mat.NewDense(n, 1, nil)
	for i, y := range r.Outputs {
		var w float64
		switch m.cfg.Readout {
		case ReadoutSum:
			w = 1
		case ReadoutAttention:
			w = r.Attention[i]
		default:
			w = 1 / float64(n)
		}
		gy.Set(i, 0, dPred*w+penScale*common.Sign(y-m.cfg.PenaltyReference))
	}

	// Second convolution.
	var dW2 mat.Dense
	dW2.Mul(r.ah1.T(), gy)
	m.conv2W.AccumulateGrad(&dW2)
	m.conv2B.AccumulateGrad(common.ColSum(gy))

	var gah1, dH1 mat.Dense
	gah1.Mul(gy, m.conv2W.Value.T())
	dH1.Mul(r.adj.T(), &gah1)

	if m.cfg.Readout == ReadoutAttention {
		// pred = Σ αᵢ yᵢ with α = softmax(H q); dpred/dsᵢ = αᵢ (yᵢ − pred).
		ds := mat.NewDense(n, 1, nil)
		for i, y := range r.Outputs {
			ds.Set(i, 0, dPred*r.Attention[i]*(y-r.Prediction))
		}
		var dq mat.Dense
		dq.Mul(r.h1.T(), ds)
		m.query.AccumulateGrad(&dq)

		var viaScore mat.Dense
		viaScore.Mul(ds, m.query.Value.T())
		dH1.Add(&dH1, &viaScore)
	}

	// First convolution.
	dZ1 := common.ReLUBackward(&dH1, r.z1)
	var dW1 mat.Dense
	dW1.Mul(r.ax.T(), dZ1)
	m.conv1W.AccumulateGrad(&dW1)
	m.conv1B.AccumulateGrad(common.ColSum(dZ1))
}

// Predict runs Forward and returns only the readout and penalty.
func (m *Model) Predict(g *PowerGraph) (prediction, penalty float64, err error) {
	r, err := m.Forward(g)
	if err != nil {
		return 0, 0, err
	}
	return r.Prediction, r.Penalty, nil
}

// PhysicsPenalty is the mean absolute deviation of outputs from reference.
// An empty slice has zero penalty.
func PhysicsPenalty(outputs []float64, reference float64) float64 {
	if len(outputs) == 0 {
		return 0
	}
	var s float64
	for _, v := range outputs {
		s += math.Abs(v - reference)
	}
	return s / float64(len(outputs))
}

func softmax(s []float64) []float64 {
	out := make([]float64, len(s))
	hi := math.Inf(-1)
	for _, v := range s {
		hi = math.Max(hi, v)
	}
	var z float64
	for i, v := range s {
		out[i] = math.Exp(v - hi)
		z += out[i]
	}
	for i := range out {
		out[i] /= z
	}
	return out
}

// ---------------------------------------------------------------------------
// Checkpointing
// ---------------------------------------------------------------------------

// Checkpoint snapshots the parameters together with the architecture.
func (m *Model) Checkpoint() *common.Checkpoint {
	return &common.Checkpoint{
		Kind: ModelKind,
		Meta: map[string]string{
			"input_dim":  strconv.Itoa(m.cfg.InputDim),
			"hidden_dim": strconv.Itoa(m.cfg.HiddenDim),
			"readout":    string(m.cfg.Readout),
		},
		State: m.params.StateDict(),
	}
}

// Restore loads a checkpoint into the model.  The checkpoint must be a GNN
// checkpoint whose tensors match this model's parameter names and shapes.
func (m *Model) Restore(ck *common.Checkpoint) error {
	if ck == nil {
		return errors.CheckpointError("checkpoint is nil")
	}
	if ck.Kind != ModelKind {
		return errors.Newf(errors.CodeCheckpointError, "checkpoint holds a %q model, want %q", ck.Kind, ModelKind)
	}
	return m.params.LoadStateDict(ck.State)
}

// ConfigFromCheckpoint rebuilds the architecture recorded in ck on top of
// base, which supplies the loss settings.
func ConfigFromCheckpoint(ck *common.Checkpoint, base *ModelConfig) (*ModelConfig, error) {
	cfg := *base
	if v, ok := ck.Meta["input_dim"]; ok {
		d, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeCheckpointError, "checkpoint input_dim is not an integer")
		}
		cfg.InputDim = d
	}
	if v, ok := ck.Meta["hidden_dim"]; ok {
		d, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeCheckpointError, "checkpoint hidden_dim is not an integer")
		}
		cfg.HiddenDim = d
	}
	if v, ok := ck.Meta["readout"]; ok {
		cfg.Readout = ReadoutType(v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpointError, "checkpoint architecture is invalid")
	}
	return &cfg, nil
}
