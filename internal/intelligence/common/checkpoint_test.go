package common

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		Kind: "gnn",
		Meta: map[string]string{"hidden_dim": "16"},
		State: map[string]*mat.Dense{
			"conv1.weight": mat.NewDense(1, 3, []float64{0.1, -0.2, 0.3}),
			"conv1.bias":   mat.NewDense(1, 3, nil),
		},
	}
}

func TestCheckpoint_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "model.ckpt")
	require.NoError(t, SaveCheckpoint(path, sampleCheckpoint()))

	ck, err := LoadCheckpoint(path, "gnn")
	require.NoError(t, err)
	assert.Equal(t, "gnn", ck.Kind)
	assert.Equal(t, "16", ck.Meta["hidden_dim"])
	assert.False(t, ck.CreatedAt.IsZero())
	require.Len(t, ck.State, 2)
	assert.True(t, mat.Equal(sampleCheckpoint().State["conv1.weight"], ck.State["conv1.weight"]))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestCheckpoint_EncodingIsStable(t *testing.T) {
	var a, b bytes.Buffer
	ck := sampleCheckpoint()
	require.NoError(t, EncodeCheckpoint(&a, ck))
	require.NoError(t, EncodeCheckpoint(&b, ck))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestLoadCheckpoint_Failures(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCheckpoint(filepath.Join(dir, "absent.ckpt"), "gnn")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCheckpointError))
	assert.Contains(t, err.Error(), "does not exist")

	garbage := filepath.Join(dir, "garbage.ckpt")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a model"), 0o644))
	_, err = LoadCheckpoint(garbage, "gnn")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCheckpointError))

	var buf bytes.Buffer
	require.NoError(t, EncodeCheckpoint(&buf, sampleCheckpoint()))
	truncated := filepath.Join(dir, "truncated.ckpt")
	require.NoError(t, os.WriteFile(truncated, buf.Bytes()[:buf.Len()/2], 0o644))
	_, err = LoadCheckpoint(truncated, "gnn")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCheckpointError))

	good := filepath.Join(dir, "good.ckpt")
	require.NoError(t, SaveCheckpoint(good, sampleCheckpoint()))
	_, err = LoadCheckpoint(good, "baseline")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCheckpointError))
	assert.Contains(t, err.Error(), `"gnn"`)
}

func TestEncodeCheckpoint_RequiresKind(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, EncodeCheckpoint(&buf, &Checkpoint{}))
	assert.Error(t, EncodeCheckpoint(&buf, nil))
}
