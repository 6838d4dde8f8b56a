package opf_gnn

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/internal/intelligence/common"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

func TestDefaultModelConfig(t *testing.T) {
	cfg := DefaultModelConfig()
	if cfg.InputDim != 1 || cfg.HiddenDim != 16 {
		t.Errorf("expected 1→16→1, got %d→%d→1", cfg.InputDim, cfg.HiddenDim)
	}
	if cfg.Readout != ReadoutMean {
		t.Errorf("expected mean readout, got %s", cfg.Readout)
	}
	if cfg.PenaltyReference != 100 || cfg.PenaltyWeight != 1 {
		t.Errorf("unexpected penalty settings %v/%v", cfg.PenaltyReference, cfg.PenaltyWeight)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestModelConfig_ValidateRejects(t *testing.T) {
	mutations := map[string]func(*ModelConfig){
		"input_dim":      func(c *ModelConfig) { c.InputDim = 0 },
		"hidden_dim":     func(c *ModelConfig) { c.HiddenDim = -1 },
		"readout":        func(c *ModelConfig) { c.Readout = "max" },
		"penalty_weight": func(c *ModelConfig) { c.PenaltyWeight = -1 },
		"reference":      func(c *ModelConfig) { c.PenaltyReference = math.Inf(1) },
	}
	for name, mutate := range mutations {
		cfg := DefaultModelConfig()
		mutate(cfg)
		if err := cfg.Validate(); !errors.IsCode(err, errors.CodeInvalidParam) {
			t.Errorf("%s: expected invalid param, got %v", name, err)
		}
	}
}

func TestNewModel_ParameterShapes(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.Readout = ReadoutAttention
	m, err := NewModel(cfg, common.NewRand(1))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][2]int{
		ParamConv1Weight:  {1, 16},
		ParamConv1Bias:    {1, 16},
		ParamConv2Weight:  {16, 1},
		ParamConv2Bias:    {1, 1},
		ParamReadoutQuery: {16, 1},
	}
	ps := m.Parameters()
	if len(ps) != len(want) {
		t.Fatalf("expected %d parameters, got %v", len(want), ps.Names())
	}
	for name, shape := range want {
		p := ps.ByName(name)
		if p == nil {
			t.Fatalf("missing parameter %s", name)
		}
		if r, c := p.Shape(); r != shape[0] || c != shape[1] {
			t.Errorf("%s: expected %v, got %dx%d", name, shape, r, c)
		}
	}
	if mat.Norm(ps.ByName(ParamConv1Bias).Value, 1) != 0 {
		t.Error("biases must start at zero")
	}

	if _, err := NewModel(cfg, nil); err == nil {
		t.Error("expected error without random source")
	}
}

func TestForward_ReadoutsAndPenalty(t *testing.T) {
	n := pathNetwork(t)
	g, err := ConvertNetworkToGraph(n, nil, GraphOptions{})
	if err != nil {
		t.Fatal(err)
	}

	for _, ro := range []ReadoutType{ReadoutMean, ReadoutSum, ReadoutAttention} {
		cfg := DefaultModelConfig()
		cfg.Readout = ro
		m, err := NewModel(cfg, common.NewRand(3))
		if err != nil {
			t.Fatal(err)
		}
		r, err := m.Forward(g)
		if err != nil {
			t.Fatal(err)
		}
		if len(r.Outputs) != 3 {
			t.Fatalf("expected one output per bus, got %d", len(r.Outputs))
		}
		var sum float64
		for _, v := range r.Outputs {
			sum += v
		}
		switch ro {
		case ReadoutMean:
			if math.Abs(r.Prediction-sum/3) > 1e-12 {
				t.Errorf("mean readout: expected %v, got %v", sum/3, r.Prediction)
			}
		case ReadoutSum:
			if math.Abs(r.Prediction-sum) > 1e-12 {
				t.Errorf("sum readout: expected %v, got %v", sum, r.Prediction)
			}
		case ReadoutAttention:
			var total float64
			for _, a := range r.Attention {
				total += a
			}
			if math.Abs(total-1) > 1e-12 {
				t.Errorf("attention weights must sum to 1, got %v", total)
			}
		}
		if want := PhysicsPenalty(r.Outputs, 100); r.Penalty != want {
			t.Errorf("penalty: expected %v, got %v", want, r.Penalty)
		}
	}
}

func TestForward_FeatureMismatch(t *testing.T) {
	g, err := ConvertNetworkToGraph(pathNetwork(t), nil, GraphOptions{NodeFeatures: NodeFeaturesVoltageLoad})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := NewModel(DefaultModelConfig(), common.NewRand(1))
	if _, err := m.Forward(g); !errors.IsCode(err, errors.CodeModelShape) {
		t.Errorf("expected model shape error, got %v", err)
	}
}

func TestPhysicsPenalty(t *testing.T) {
	if got := PhysicsPenalty([]float64{90, 110, 100}, 100); math.Abs(got-20.0/3) > 1e-12 {
		t.Errorf("expected 20/3, got %v", got)
	}
	if got := PhysicsPenalty(nil, 100); got != 0 {
		t.Errorf("expected 0 for no outputs, got %v", got)
	}
}

// numericGradient perturbs every parameter element and returns the central
// difference of the loss.
func numericGradient(t *testing.T, m *Model, g *PowerGraph, target float64, p *common.Parameter) *mat.Dense {
	t.Helper()
	const eps = 1e-6
	r, c := p.Shape()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			orig := p.Value.At(i, j)
			p.Value.Set(i, j, orig+eps)
			fp, err := m.Forward(g)
			if err != nil {
				t.Fatal(err)
			}
			p.Value.Set(i, j, orig-eps)
			fm, err := m.Forward(g)
			if err != nil {
				t.Fatal(err)
			}
			p.Value.Set(i, j, orig)
			out.Set(i, j, (m.Loss(fp, target).Total-m.Loss(fm, target).Total)/(2*eps))
		}
	}
	return out
}

func TestBackward_MatchesFiniteDifferences(t *testing.T) {
	g, err := ConvertNetworkToGraph(pathNetwork(t), grid.LoadOverlay{10: 0.5, 20: 1.5, 30: 0.9},
		GraphOptions{NodeFeatures: NodeFeaturesVoltageLoad})
	if err != nil {
		t.Fatal(err)
	}
	const target = 5.0

	for _, ro := range []ReadoutType{ReadoutMean, ReadoutSum, ReadoutAttention} {
		t.Run(string(ro), func(t *testing.T) {
			cfg := &ModelConfig{InputDim: 2, HiddenDim: 4, Readout: ro, PenaltyReference: 100, PenaltyWeight: 0.5}
			m, err := NewModel(cfg, common.NewRand(11))
			if err != nil {
				t.Fatal(err)
			}
			// Non-zero biases so every term of the gradient is exercised.
			for j := 0; j < 4; j++ {
				m.Parameters().ByName(ParamConv1Bias).Value.Set(0, j, 0.05*float64(j+1))
			}
			m.Parameters().ByName(ParamConv2Bias).Value.Set(0, 0, 0.3)

			m.Parameters().ZeroGrad()
			r, err := m.Forward(g)
			if err != nil {
				t.Fatal(err)
			}
			m.Backward(r, target)

			for _, p := range m.Parameters() {
				num := numericGradient(t, m, g, target, p)
				rows, cols := p.Shape()
				for i := 0; i < rows; i++ {
					for j := 0; j < cols; j++ {
						a, n := p.Grad.At(i, j), num.At(i, j)
						if math.Abs(a-n) > 1e-5*math.Max(1, math.Abs(n)) {
							t.Errorf("%s[%d][%d]: analytic %v, numeric %v", p.Name, i, j, a, n)
						}
					}
				}
			}
		})
	}
}

func TestTraining_ChangesParametersAndReducesLoss(t *testing.T) {
	g, err := ConvertNetworkToGraph(pathNetwork(t), nil, GraphOptions{})
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewModel(DefaultModelConfig(), common.NewRand(5))
	if err != nil {
		t.Fatal(err)
	}
	before := m.Parameters().StateDict()
	opt, err := common.NewAdam(m.Parameters(), 0.01)
	if err != nil {
		t.Fatal(err)
	}

	const target = 50.0
	first, _ := m.Forward(g)
	initial := m.Loss(first, target).Total
	for i := 0; i < 200; i++ {
		opt.ZeroGrad()
		r, err := m.Forward(g)
		if err != nil {
			t.Fatal(err)
		}
		m.Backward(r, target)
		opt.Step()
	}
	last, _ := m.Forward(g)
	if final := m.Loss(last, target).Total; final >= initial {
		t.Errorf("expected loss to drop from %v, got %v", initial, final)
	}
	changed := false
	for name, v := range before {
		if !mat.Equal(v, m.Parameters().ByName(name).Value) {
			changed = true
		}
	}
	if !changed {
		t.Error("expected at least one parameter to change")
	}
}

func TestCheckpoint_RoundTripReproducesOutputs(t *testing.T) {
	g, err := ConvertNetworkToGraph(pathNetwork(t), nil, GraphOptions{})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultModelConfig()
	cfg.Readout = ReadoutAttention
	src, _ := NewModel(cfg, common.NewRand(21))

	path := filepath.Join(t.TempDir(), "gnn.ckpt")
	if err := common.SaveCheckpoint(path, src.Checkpoint()); err != nil {
		t.Fatal(err)
	}
	ck, err := common.LoadCheckpoint(path, ModelKind)
	if err != nil {
		t.Fatal(err)
	}
	restoredCfg, err := ConfigFromCheckpoint(ck, DefaultModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	if restoredCfg.Readout != ReadoutAttention {
		t.Errorf("expected readout from checkpoint, got %s", restoredCfg.Readout)
	}
	dst, _ := NewModel(restoredCfg, common.NewRand(99))
	if err := dst.Restore(ck); err != nil {
		t.Fatal(err)
	}

	a, _ := src.Forward(g)
	b, _ := dst.Forward(g)
	for i := range a.Outputs {
		if a.Outputs[i] != b.Outputs[i] {
			t.Errorf("node %d: %v != %v", i, a.Outputs[i], b.Outputs[i])
		}
	}
	if a.Prediction != b.Prediction {
		t.Errorf("prediction %v != %v", a.Prediction, b.Prediction)
	}
}

func TestRestore_ShapeMismatch(t *testing.T) {
	small := DefaultModelConfig()
	small.HiddenDim = 8
	src, _ := NewModel(small, common.NewRand(1))
	dst, _ := NewModel(DefaultModelConfig(), common.NewRand(1))

	err := dst.Restore(src.Checkpoint())
	if !errors.IsCode(err, errors.CodeCheckpointError) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}

	wrongKind := src.Checkpoint()
	wrongKind.Kind = "baseline"
	if err := src.Restore(wrongKind); !errors.IsCode(err, errors.CodeCheckpointError) {
		t.Errorf("expected checkpoint error for wrong kind, got %v", err)
	}
}

func TestInfer_Case14(t *testing.T) {
	n, err := grid.LoadCase("case14")
	if err != nil {
		t.Fatal(err)
	}
	m, _ := NewModel(DefaultModelConfig(), common.NewRand(42))
	res, err := Infer(m, n, nil, NodeFeaturesVoltage)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NodePredictions) != 14 || len(res.BusIDs) != 14 {
		t.Fatalf("expected 14 node predictions, got %d", len(res.NodePredictions))
	}
	if math.IsNaN(res.Prediction) || res.Penalty < 0 {
		t.Errorf("unexpected result %+v", res)
	}
}
