package grid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

const threeBusYAML = `
name: three-bus
buses:
  - {id: 1, voltage: 50}
  - {id: 2, voltage: 60, nominal: 1.02}
  - {id: 3, voltage: 40}
lines:
  - {id: 1, from_bus: 1, to_bus: 2, reactance: 0.1, capacity: 100, length: 2}
  - {id: 2, from_bus: 2, to_bus: 3, reactance: 0.2, capacity: 100, resistance: 0.01}
generators:
  - {id: 1, bus: 1, max_output: 200, cost: 10}
`

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "network.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadNetworkConfig_Valid(t *testing.T) {
	n, err := LoadNetworkConfig(writeYAML(t, threeBusYAML))
	require.NoError(t, err)

	assert.Equal(t, "three-bus", n.Name)
	assert.Equal(t, 3, n.NumBuses())
	assert.Len(t, n.Lines, 2)
	assert.Len(t, n.Generators, 1)
	assert.Equal(t, []int{1, 2, 3}, n.BusIDs())

	assert.Equal(t, DefaultNominalPU, n.Buses[0].Nominal)
	assert.Equal(t, 1.02, n.Buses[1].Nominal)
	assert.InDelta(t, 0.2, n.Lines[0].EffectiveReactance(), 1e-12)
	assert.InDelta(t, 2*DefaultLineResistance, n.Lines[0].EffectiveResistance(), 1e-12)
	assert.InDelta(t, 0.01, n.Lines[1].EffectiveResistance(), 1e-12)

	idx, ok := n.BusIndex(3)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestLoadNetworkConfig_MissingFile(t *testing.T) {
	_, err := LoadNetworkConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfigError))
}

func TestParseNetworkConfig_MissingKeys(t *testing.T) {
	cases := map[string]string{
		"buses": `
lines: []
generators: [{id: 1, bus: 1, max_output: 1, cost: 1}]
`,
		"lines": `
buses: [{id: 1, voltage: 1}]
generators: [{id: 1, bus: 1, max_output: 1, cost: 1}]
`,
		"generators": `
buses: [{id: 1, voltage: 1}]
lines: []
`,
	}
	for key, doc := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := ParseNetworkConfig([]byte(doc), "test")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeConfigError))
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestParseNetworkConfig_Rejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty document", "", "empty"},
		{"malformed", "buses: [", "malformed"},
		{"unknown key", threeBusYAML + "transformers: []\n", "transformers"},
		{"no buses", "buses: []\nlines: []\ngenerators: [{id: 1, bus: 1, max_output: 1, cost: 1}]\n", "no buses"},
		{"no generators", "buses: [{id: 1, voltage: 1}]\nlines: []\ngenerators: []\n", "no generators"},
		{"dangling line", `
buses: [{id: 1, voltage: 1}, {id: 2, voltage: 1}]
lines: [{id: 7, from_bus: 1, to_bus: 42, reactance: 0.1, capacity: 1}]
generators: [{id: 1, bus: 1, max_output: 1, cost: 1}]
`, "undefined bus 42"},
		{"dangling generator", `
buses: [{id: 1, voltage: 1}]
lines: []
generators: [{id: 3, bus: 9, max_output: 1, cost: 1}]
`, "generator 3"},
		{"duplicate bus", `
buses: [{id: 1, voltage: 1}, {id: 1, voltage: 2}]
lines: []
generators: [{id: 1, bus: 1, max_output: 1, cost: 1}]
`, "duplicate bus id 1"},
		{"zero reactance", `
buses: [{id: 1, voltage: 1}, {id: 2, voltage: 1}]
lines: [{id: 1, from_bus: 1, to_bus: 2, reactance: 0, capacity: 1}]
generators: [{id: 1, bus: 1, max_output: 1, cost: 1}]
`, "reactance"},
		{"self loop", `
buses: [{id: 1, voltage: 1}]
lines: [{id: 1, from_bus: 1, to_bus: 1, reactance: 0.1, capacity: 1}]
generators: [{id: 1, bus: 1, max_output: 1, cost: 1}]
`, "tobus must differ"},
		{"negative voltage", `
buses: [{id: 1, voltage: -5}]
lines: []
generators: [{id: 1, bus: 1, max_output: 1, cost: 1}]
`, "voltage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseNetworkConfig([]byte(tc.doc), "test")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeConfigError), "got %v", err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadCase_BuiltIns(t *testing.T) {
	assert.Equal(t, []string{"case14", "case9"}, AvailableCases())

	n, err := LoadCase("case14")
	require.NoError(t, err)
	assert.Equal(t, 14, n.NumBuses())
	assert.Len(t, n.Lines, 20)
	assert.Len(t, n.Generators, 5)
	assert.True(t, n.IsConnected())
	assert.Equal(t, 135.0, n.Buses[0].Voltage)

	n9, err := LoadCase("case9")
	require.NoError(t, err)
	assert.Equal(t, 9, n9.NumBuses())
}

func TestLoadCase_Unknown(t *testing.T) {
	_, err := LoadCase("case99")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfigError))
	assert.Contains(t, err.Error(), "case14")
}

func TestCaseSource_RoundTripsThroughLoader(t *testing.T) {
	data, err := CaseSource("case14")
	require.NoError(t, err)

	n, err := LoadNetworkConfig(writeYAML(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, 14, n.NumBuses())
}

func TestResolve_PrefersPath(t *testing.T) {
	n, err := Resolve(writeYAML(t, threeBusYAML), "case14")
	require.NoError(t, err)
	assert.Equal(t, 3, n.NumBuses())

	n, err = Resolve("", "case9")
	require.NoError(t, err)
	assert.Equal(t, 9, n.NumBuses())
}
