package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlay_ResolveFallsBackToBase(t *testing.T) {
	n, err := LoadNetworkConfig(writeYAML(t, threeBusYAML))
	require.NoError(t, err)

	o := LoadOverlay{2: 66}
	assert.Equal(t, []float64{50, 66, 40}, o.Resolve(n))
	assert.InDelta(t, 156, o.Total(n), 1e-12)
	assert.Empty(t, o.UnknownBuses(n))

	o[7] = 1
	o[5] = 1
	assert.Equal(t, []int{5, 7}, o.UnknownBuses(n))
}

func TestLoadOverlay_DoesNotMutateNetwork(t *testing.T) {
	n, err := LoadCase("case14")
	require.NoError(t, err)

	before := append([]Bus(nil), n.Buses...)
	o := n.BaseLoads()
	o[1] = 9999
	_ = o.Resolve(n)
	assert.Equal(t, before, n.Buses)
}

func TestOverlayFromLoads(t *testing.T) {
	n, err := LoadNetworkConfig(writeYAML(t, threeBusYAML))
	require.NoError(t, err)

	o := OverlayFromLoads(n, []float64{1, 2, 3, 4})
	assert.Equal(t, LoadOverlay{1: 1, 2: 2, 3: 3}, o)
}

func TestLegacyOverlay(t *testing.T) {
	n, err := LoadNetworkConfig(writeYAML(t, threeBusYAML))
	require.NoError(t, err)

	o := LegacyOverlay(n, 5, 0.3)
	assert.InDelta(t, 50*1.15, o[1], 1e-12)
	assert.InDelta(t, 60*1.15, o[2], 1e-12)
	assert.InDelta(t, 40*1.15, o[3], 1e-12)
}

func TestBusIndex_LiteralNetwork(t *testing.T) {
	n := &Network{Buses: []Bus{{ID: 4, Voltage: 1}, {ID: 9, Voltage: 1}}}
	i, ok := n.BusIndex(9)
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = n.BusIndex(3)
	assert.False(t, ok)
}

func TestTopology_CollapsesParallelLines(t *testing.T) {
	n, err := NewNetwork("parallel",
		[]Bus{{ID: 1, Voltage: 1}, {ID: 2, Voltage: 1}},
		[]Line{
			{ID: 1, FromBus: 1, ToBus: 2, Reactance: 0.1},
			{ID: 2, FromBus: 2, ToBus: 1, Reactance: 0.3},
		},
		[]Generator{{ID: 1, Bus: 1, MaxOutput: 1, Cost: 1}})
	require.NoError(t, err)

	g := n.Topology()
	assert.Equal(t, 2, g.Nodes().Len())
	assert.Equal(t, 1, g.Edges().Len())
	assert.True(t, n.IsConnected())
}
