package opf_baseline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/internal/intelligence/common"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

func linearSamples(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		s := i + 1
		load := 1 + 0.1*float64(i%3)
		out[i] = Sample{Features: Features(s, load, 2), Target: 3 + 0.5*float64(s) + load}
	}
	return out
}

func newModel(t *testing.T, seed uint64) *Model {
	t.Helper()
	m, err := NewModel(DefaultConfig(), common.NewRand(seed), nil)
	require.NoError(t, err)
	return m
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, (&Config{InputDim: 1, HiddenDim: 8}).Validate())

	for _, c := range []Config{{InputDim: 0, HiddenDim: 8}, {InputDim: 3, HiddenDim: 8}, {InputDim: 2, HiddenDim: 0}} {
		err := c.Validate()
		assert.True(t, errors.IsCode(err, errors.CodeInvalidParam), "%+v: %v", c, err)
	}
}

func TestFeatures(t *testing.T) {
	assert.Equal(t, []float64{3}, Features(3, 140, 1))
	assert.Equal(t, []float64{3, 140}, Features(3, 140, 2))
}

func TestNewModel_InitWithinFanInBounds(t *testing.T) {
	m := newModel(t, 1)
	require.Len(t, m.Parameters(), 4)
	for _, v := range m.Parameters().ByName(ParamFC1Weight).Value.RawMatrix().Data {
		assert.LessOrEqual(t, v*v, 0.5+1e-12)
	}
	r, c := m.Parameters().ByName(ParamFC2Weight).Shape()
	assert.Equal(t, 8, r)
	assert.Equal(t, 1, c)
}

func TestTrain_UpdatesParametersAndReportsEpochs(t *testing.T) {
	m := newModel(t, 42)
	before := m.Parameters().StateDict()

	var seen []int
	losses, err := m.Train(context.Background(), linearSamples(10), TrainOptions{
		Epochs: 30, BatchSize: 4, LearningRate: 0.01, Rand: common.NewRand(42),
		OnEpoch: func(epoch int, _ float64) { seen = append(seen, epoch) },
	})
	require.NoError(t, err)
	require.Len(t, losses, 30)
	assert.Len(t, seen, 30)
	assert.Equal(t, 1, seen[0])
	assert.Less(t, losses[29], losses[0])

	changed := false
	for name, v := range before {
		if !mat.Equal(v, m.Parameters().ByName(name).Value) {
			changed = true
		}
	}
	assert.True(t, changed, "no parameter moved")
}

func TestTrain_DeterministicForSeed(t *testing.T) {
	run := func() []float64 {
		m := newModel(t, 7)
		losses, err := m.Train(context.Background(), linearSamples(9), TrainOptions{
			Epochs: 3, BatchSize: 2, LearningRate: 0.01, Rand: common.NewRand(7),
		})
		require.NoError(t, err)
		return losses
	}
	assert.Equal(t, run(), run())
}

func TestTrain_Rejects(t *testing.T) {
	m := newModel(t, 1)
	ctx := context.Background()
	good := TrainOptions{Epochs: 1, BatchSize: 1, LearningRate: 0.01, Rand: common.NewRand(1)}

	bad := []TrainOptions{
		{Epochs: 0, BatchSize: 1, LearningRate: 0.01, Rand: common.NewRand(1)},
		{Epochs: 1, BatchSize: 0, LearningRate: 0.01, Rand: common.NewRand(1)},
		{Epochs: 1, BatchSize: 1, LearningRate: 0, Rand: common.NewRand(1)},
		{Epochs: 1, BatchSize: 1, LearningRate: 0.01},
	}
	for _, o := range bad {
		_, err := m.Train(ctx, linearSamples(2), o)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidParam), "%+v: %v", o, err)
	}

	_, err := m.Train(ctx, nil, good)
	assert.True(t, errors.IsCode(err, errors.CodeDataError))

	_, err = m.Train(ctx, []Sample{{Features: []float64{1, 2, 3}, Target: 1}}, good)
	assert.True(t, errors.IsCode(err, errors.CodeModelShape))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Train(canceled, linearSamples(2), good)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
}

func TestSaveLoad_ReproducesPredictions(t *testing.T) {
	m := newModel(t, 3)
	_, err := m.Train(context.Background(), linearSamples(6), TrainOptions{
		Epochs: 2, BatchSize: 4, LearningRate: 0.01, Rand: common.NewRand(3),
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "baseline.ckpt")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	want, err := m.Predict([]float64{1, 0.5})
	require.NoError(t, err)
	got, err := loaded.Predict([]float64{1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, m.Config(), loaded.Config())
}

func TestRestore_RejectsOtherArchitectures(t *testing.T) {
	one, err := NewModel(&Config{InputDim: 1, HiddenDim: 8}, common.NewRand(1), nil)
	require.NoError(t, err)
	two := newModel(t, 1)

	err = two.Restore(one.Checkpoint())
	assert.True(t, errors.IsCode(err, errors.CodeCheckpointError))

	ck := two.Checkpoint()
	ck.Kind = "gnn"
	assert.True(t, errors.IsCode(two.Restore(ck), errors.CodeCheckpointError))

	_, err = Load(filepath.Join(t.TempDir(), "missing.ckpt"), nil)
	assert.True(t, errors.IsCode(err, errors.CodeCheckpointError))
}

func TestLoadWeights_KeepsConfiguredArchitecture(t *testing.T) {
	dir := t.TempDir()
	narrow, err := NewModel(&Config{InputDim: 2, HiddenDim: 4}, common.NewRand(2), nil)
	require.NoError(t, err)
	path := filepath.Join(dir, "hidden4.ckpt")
	require.NoError(t, narrow.Save(path))

	configured := newModel(t, 1)
	err = configured.LoadWeights(path)
	assert.True(t, errors.IsCode(err, errors.CodeCheckpointError), "hidden_dim 4 into 8: %v", err)
	assert.ErrorContains(t, err, "hidden_dim")
	assert.Equal(t, DefaultHiddenDim, configured.Config().HiddenDim)

	same, err := NewModel(&Config{InputDim: 2, HiddenDim: 4}, common.NewRand(9), nil)
	require.NoError(t, err)
	require.NoError(t, same.LoadWeights(path))
	want, err := narrow.Predict([]float64{2, 1})
	require.NoError(t, err)
	got, err := same.Predict([]float64{2, 1})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.True(t, errors.IsCode(configured.LoadWeights(filepath.Join(dir, "missing.ckpt")), errors.CodeCheckpointError))
}

func TestPredict_WrongWidth(t *testing.T) {
	m := newModel(t, 1)
	_, err := m.Predict([]float64{1})
	assert.True(t, errors.IsCode(err, errors.CodeModelShape))
}
