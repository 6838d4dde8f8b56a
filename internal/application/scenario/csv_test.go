package scenario

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/gnn-opf/internal/domain/grid"
	apperrors "github.com/turtacn/gnn-opf/pkg/errors"
)

func TestWriteCSV_Layout(t *testing.T) {
	n := testNetwork(t)
	recs := []Record{
		{Scenario: 1, TotalCost: 1500.25, Loads: grid.LoadOverlay{1: 55, 2: 60.5, 3: 38}, Fidelity: FidelitySolved},
		{Scenario: 2, TotalCost: 980, Loads: grid.LoadOverlay{1: 45, 2: 66, 3: 41}, Fidelity: FidelitySynthetic},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, n, recs))

	want := "scenario,total_cost,bus1_load,bus2_load,bus3_load,fidelity\n" +
		"1,1500.25,55,60.5,38,solved\n" +
		"2,980,45,66,41,synthetic\n"
	assert.Equal(t, want, buf.String())
}

func TestCSV_RoundTrip(t *testing.T) {
	n := testNetwork(t)
	recs, err := newGenerator(t, DefaultOptions(), 11, nil, nil).Generate(context.Background(), n, 6, 0.3)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "data", "scenarios.csv")
	require.NoError(t, SaveCSV(path, n, recs))
	back, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, recs, back)
}

func TestReadCSV_Legacy(t *testing.T) {
	recs, err := ReadCSV(strings.NewReader("scenario,total_cost\n0.0,1000.5\n1.0,990\n"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 0, recs[0].Scenario)
	assert.Equal(t, 1000.5, recs[0].TotalCost)
	assert.Empty(t, recs[0].Loads)
	assert.Equal(t, FidelityUnknown, recs[1].Fidelity)
}

func TestReadCSV_Errors(t *testing.T) {
	for name, input := range map[string]string{
		"empty":         "",
		"missing cost":  "scenario,bus1_load\n1,50\n",
		"header only":   "scenario,total_cost\n",
		"bad cost":      "scenario,total_cost\n1,abc\n",
		"fractional":    "scenario,total_cost\n1.5,100\n",
		"bad load":      "scenario,total_cost,bus1_load\n1,100,x\n",
		"infinite cost": "scenario,total_cost\n1,+Inf\n",
		"ragged row":    "scenario,total_cost\n1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(input))
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeDataError), "got %v", err)
		})
	}
}

func TestLoadCSV_Missing(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDataError))
}
