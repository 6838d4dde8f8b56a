package training

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/gnn-opf/internal/application/scenario"
	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/internal/intelligence/common"
	"github.com/turtacn/gnn-opf/internal/intelligence/opf_baseline"
	"github.com/turtacn/gnn-opf/internal/intelligence/opf_gnn"
	"github.com/turtacn/gnn-opf/internal/testutil"
	apperrors "github.com/turtacn/gnn-opf/pkg/errors"
)

type DriverTestSuite struct {
	suite.Suite
	network *grid.Network
	records []scenario.Record
	metrics *common.InMemoryMetrics
	log     *testutil.MockLogger
	dir     string
}

func (s *DriverTestSuite) SetupTest() {
	n, err := grid.LoadCase("case14")
	s.Require().NoError(err)
	s.network = n

	opts := scenario.DefaultOptions()
	opts.CostModel = scenario.CostModelSynthetic
	gen, err := scenario.NewGenerator(opts, common.NewRand(42), nil, nil, nil)
	s.Require().NoError(err)
	s.records, err = gen.Generate(context.Background(), n, 5, 0.3)
	s.Require().NoError(err)

	s.metrics = common.NewInMemoryMetrics()
	s.log = testutil.NewMockLogger()
	s.dir = s.T().TempDir()
}

func (s *DriverTestSuite) newDriver(opts Options) *Driver {
	d, err := NewDriver(s.network, opts, common.NewRand(7), s.log, s.metrics)
	s.Require().NoError(err)
	return d
}

func (s *DriverTestSuite) TestLifecycle() {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Epochs = 3
	d := s.newDriver(opts)
	s.Equal(StateIdle, d.State())

	losses, err := d.Train(ctx, s.records)
	s.Require().NoError(err)
	s.Len(losses, 3)
	s.Equal(StateConverged, d.State())

	path := filepath.Join(s.dir, "model.ckpt")
	s.Require().NoError(d.Save(ctx, path))
	s.Equal(StateSaved, d.State())

	fresh := s.newDriver(DefaultOptions())
	s.Require().NoError(fresh.Load(ctx, path))
	s.Equal(StateLoaded, fresh.State())

	results, err := fresh.Evaluate(ctx, s.records)
	s.Require().NoError(err)
	s.Equal(StateReported, fresh.State())
	s.Require().Len(results, len(s.records))

	for i, res := range results {
		s.Equal(s.records[i].Scenario, res.Scenario)
		s.Equal(s.records[i].TotalCost, res.TargetTotal)
		s.InDelta(math.Abs(res.PredictedTotal-res.TargetTotal), res.Error, 1e-12)

		g, err := opf_gnn.ConvertNetworkToGraph(s.network, s.records[i].Loads, opf_gnn.GraphOptions{})
		s.Require().NoError(err)
		want, _, err := d.Model().Predict(g)
		s.Require().NoError(err)
		s.InDelta(want, res.PredictedTotal, 1e-9)
	}

	// Re-evaluation is allowed after a report.
	_, err = fresh.Evaluate(ctx, s.records)
	s.NoError(err)

	s.Len(s.metrics.Epochs(), 3)
	s.Len(s.metrics.EvaluationErrors(MetricsModel), 2*len(s.records))
	s.Len(s.log.Find("info", "epoch finished"), 3)
	evaluated := s.log.Find("info", "scenario evaluated")
	s.Require().Len(evaluated, 2*len(s.records))
	_, ok := evaluated[0].Field("predicted")
	s.True(ok)
	s.Equal(1, s.metrics.Checkpoints(common.CheckpointOpSave))
	s.Equal(1, s.metrics.Checkpoints(common.CheckpointOpLoad))
}

func (s *DriverTestSuite) TestTrainingReducesLoss() {
	opts := DefaultOptions()
	opts.Epochs = 4
	losses, err := s.newDriver(opts).Train(context.Background(), s.records)
	s.Require().NoError(err)
	s.Less(losses[len(losses)-1], losses[0])
}

func (s *DriverTestSuite) TestIllegalTransitions() {
	ctx := context.Background()
	d := s.newDriver(DefaultOptions())

	_, err := d.Evaluate(ctx, s.records)
	s.True(apperrors.IsCode(err, apperrors.CodeInvalidState), "evaluate before load: %v", err)

	err = d.Save(ctx, filepath.Join(s.dir, "early.ckpt"))
	s.True(apperrors.IsCode(err, apperrors.CodeInvalidState), "save before train: %v", err)

	_, err = d.Train(ctx, s.records)
	s.Require().NoError(err)
	_, err = d.Train(ctx, s.records)
	s.True(apperrors.IsCode(err, apperrors.CodeInvalidState), "second train: %v", err)

	err = d.Load(ctx, filepath.Join(s.dir, "any.ckpt"))
	s.True(apperrors.IsCode(err, apperrors.CodeInvalidState), "load into trained driver: %v", err)
}

func (s *DriverTestSuite) TestTrainFailureReturnsToIdle() {
	d := s.newDriver(DefaultOptions())

	_, err := d.Train(context.Background(), nil)
	s.True(apperrors.IsCode(err, apperrors.CodeDataError))
	s.Equal(StateIdle, d.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Train(ctx, s.records)
	s.True(apperrors.IsCode(err, apperrors.CodeCanceled))
	s.Equal(StateIdle, d.State())
}

func (s *DriverTestSuite) TestLoadFailures() {
	ctx := context.Background()

	d := s.newDriver(DefaultOptions())
	err := d.Load(ctx, filepath.Join(s.dir, "absent.ckpt"))
	s.True(apperrors.IsCode(err, apperrors.CodeCheckpointError), "missing: %v", err)
	s.Equal(StateIdle, d.State())
	s.Equal(1, s.metrics.Checkpoints(common.CheckpointOpLoad+"_failed"))

	baselinePath := filepath.Join(s.dir, "baseline.ckpt")
	bm, err := opf_baseline.NewModel(nil, common.NewRand(1), nil)
	s.Require().NoError(err)
	s.Require().NoError(bm.Save(baselinePath))
	err = d.Load(ctx, baselinePath)
	s.True(apperrors.IsCode(err, apperrors.CodeCheckpointError), "wrong kind: %v", err)

	// Architecture metadata that disagrees with the stored tensors.
	m, err := opf_gnn.NewModel(opf_gnn.DefaultModelConfig(), common.NewRand(1))
	s.Require().NoError(err)
	ck := m.Checkpoint()
	ck.Meta["hidden_dim"] = "4"
	mismatch := filepath.Join(s.dir, "mismatch.ckpt")
	s.Require().NoError(common.SaveCheckpoint(mismatch, ck))
	err = d.Load(ctx, mismatch)
	s.True(apperrors.IsCode(err, apperrors.CodeCheckpointError), "shape mismatch: %v", err)

	// Node features that disagree with the stored input width.
	ck = m.Checkpoint()
	ck.Meta[metaNodeFeatures] = string(opf_gnn.NodeFeaturesVoltageLoad)
	wrongMode := filepath.Join(s.dir, "mode.ckpt")
	s.Require().NoError(common.SaveCheckpoint(wrongMode, ck))
	err = d.Load(ctx, wrongMode)
	s.True(apperrors.IsCode(err, apperrors.CodeCheckpointError), "feature mismatch: %v", err)

	s.Equal(StateIdle, d.State())
}

func (s *DriverTestSuite) TestLoadRejectsDifferentHiddenDim() {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Epochs = 1
	opts.Model = opf_gnn.DefaultModelConfig()
	opts.Model.HiddenDim = 4
	small := s.newDriver(opts)
	_, err := small.Train(ctx, s.records)
	s.Require().NoError(err)
	path := filepath.Join(s.dir, "hidden4.ckpt")
	s.Require().NoError(small.Save(ctx, path))

	d := s.newDriver(DefaultOptions())
	s.Require().Equal(16, d.Model().Config().HiddenDim)
	err = d.Load(ctx, path)
	s.True(apperrors.IsCode(err, apperrors.CodeCheckpointError), "hidden_dim 4 into 16: %v", err)
	s.ErrorContains(err, "hidden_dim 4 != 16")
	s.Equal(StateIdle, d.State())
	s.Equal(16, d.Model().Config().HiddenDim)

	same := s.newDriver(opts)
	s.Require().NoError(same.Load(ctx, path))
	s.Equal(4, same.Model().Config().HiddenDim)
}

func (s *DriverTestSuite) TestLoadAdoptsCheckpointFeatures() {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Epochs = 1
	opts.NodeFeatures = opf_gnn.NodeFeaturesVoltageLoad
	trained := s.newDriver(opts)
	_, err := trained.Train(ctx, s.records)
	s.Require().NoError(err)
	path := filepath.Join(s.dir, "vl.ckpt")
	s.Require().NoError(trained.Save(ctx, path))

	strict := s.newDriver(DefaultOptions())
	err = strict.Load(ctx, path)
	s.True(apperrors.IsCode(err, apperrors.CodeCheckpointError), "configured voltage features: %v", err)
	s.Equal(StateIdle, strict.State())

	adopting := DefaultOptions()
	adopting.AdoptCheckpoint = true
	d := s.newDriver(adopting)
	s.Require().NoError(d.Load(ctx, path))
	s.Equal(opf_gnn.NodeFeaturesVoltageLoad, d.NodeFeatures())
	s.Equal(2, d.Model().Config().InputDim)

	res, err := d.Infer(s.network.BaseLoads())
	s.Require().NoError(err)
	s.Len(res.NodePredictions, s.network.NumBuses())
}

func (s *DriverTestSuite) TestEvaluateFailureKeepsState() {
	ctx := context.Background()
	d := s.newDriver(DefaultOptions())
	_, err := d.Train(ctx, s.records)
	s.Require().NoError(err)
	path := filepath.Join(s.dir, "model.ckpt")
	s.Require().NoError(d.Save(ctx, path))

	fresh := s.newDriver(DefaultOptions())
	s.Require().NoError(fresh.Load(ctx, path))
	bad := []scenario.Record{{Scenario: 1, TotalCost: 1, Loads: grid.LoadOverlay{999: 1}}}
	_, err = fresh.Evaluate(ctx, bad)
	s.True(apperrors.IsCode(err, apperrors.CodeGraphBuildError), "unknown bus: %v", err)
	s.Equal(StateLoaded, fresh.State())
}

func TestDriverTestSuite(t *testing.T) {
	suite.Run(t, new(DriverTestSuite))
}

func TestNewDriver_InvalidOptions(t *testing.T) {
	n, err := grid.LoadCase("case9")
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Epochs = 0
	_, err = NewDriver(n, opts, common.NewRand(1), nil, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))

	opts = DefaultOptions()
	opts.NodeFeatures = "pressure"
	_, err = NewDriver(n, opts, common.NewRand(1), nil, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))

	_, err = NewDriver(nil, DefaultOptions(), common.NewRand(1), nil, nil)
	assert.Error(t, err)
}
