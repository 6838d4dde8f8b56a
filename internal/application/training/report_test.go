package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/gnn-opf/internal/application/scenario"
	"github.com/turtacn/gnn-opf/internal/domain/grid"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]EvaluationResult{{Error: 1}, {Error: 2}, {Error: 3}, {Error: 4}})
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.MAE, 1e-12)
	assert.InDelta(t, math.Sqrt(7.5), s.RMSE, 1e-12)
	assert.Equal(t, 4.0, s.MaxError)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestBaselineSamples(t *testing.T) {
	n, err := grid.NewNetwork("two-bus",
		[]grid.Bus{{ID: 1, Voltage: 100}, {ID: 2, Voltage: 50}},
		[]grid.Line{{ID: 1, FromBus: 1, ToBus: 2, Reactance: 0.1}},
		[]grid.Generator{{ID: 1, Bus: 1, MaxOutput: 300, Cost: 5}})
	require.NoError(t, err)

	records := []scenario.Record{
		{Scenario: 1, TotalCost: 900, Loads: grid.LoadOverlay{1: 110, 2: 45}},
		{Scenario: 4, TotalCost: 1100},
	}
	samples := BaselineSamples(n, records, 0.5, 2)
	require.Len(t, samples, 2)
	assert.Equal(t, []float64{1, 110}, samples[0].Features)
	assert.Equal(t, 900.0, samples[0].Target)
	// Legacy mapping: 100 × (1 + 0.5 × 4/10).
	assert.InDelta(t, 120.0, samples[1].Features[1], 1e-12)

	one := BaselineSamples(n, records, 0.5, 1)
	assert.Equal(t, []float64{4}, one[1].Features)
}
