// Package grid models the static power network used by every stage of the
// pipeline: buses, lines and generators loaded from a declarative YAML
// description, per-scenario load overlays, and a DC optimal power flow that
// prices a load pattern.
package grid

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Line defaults applied when the YAML leaves a field unset.
const (
	DefaultLineLength     = 1.0
	DefaultLineResistance = 1e-4
	DefaultNominalPU      = 1.0
)

// Bus is a network node.  Voltage is the nominal voltage in kV and doubles as
// the bus's base load; Nominal is the per-unit voltage set-point.
type Bus struct {
	ID      int     `yaml:"id"`
	Voltage float64 `yaml:"voltage" validate:"gt=0"`
	Nominal float64 `yaml:"nominal" validate:"gte=0"`
}

// Line is a transmission line.  Reactance and Resistance are per unit length.
type Line struct {
	ID         int     `yaml:"id"`
	FromBus    int     `yaml:"from_bus"`
	ToBus      int     `yaml:"to_bus" validate:"nefield=FromBus"`
	Reactance  float64 `yaml:"reactance" validate:"ne=0"`
	Capacity   float64 `yaml:"capacity" validate:"gte=0"`
	Resistance float64 `yaml:"resistance" validate:"gte=0"`
	Length     float64 `yaml:"length" validate:"gte=0"`
}

// EffectiveReactance is reactance scaled by length.
func (l Line) EffectiveReactance() float64 { return l.Reactance * l.Length }

// EffectiveResistance is resistance scaled by length.
func (l Line) EffectiveResistance() float64 { return l.Resistance * l.Length }

// Generator is a dispatchable source with a linear marginal cost.
type Generator struct {
	ID        int     `yaml:"id"`
	Bus       int     `yaml:"bus"`
	MaxOutput float64 `yaml:"max_output" validate:"gte=0"`
	Cost      float64 `yaml:"cost" validate:"gte=0"`
}

// Network is an immutable, validated grid model.  Buses keep their declared
// order, which fixes node order in graphs and column order in scenario CSVs.
type Network struct {
	Name       string
	Buses      []Bus
	Lines      []Line
	Generators []Generator

	busIndex map[int]int
}

// NewNetwork validates references and builds the bus index.  It is used by
// the YAML loader and by callers that assemble networks in code.
func NewNetwork(name string, buses []Bus, lines []Line, gens []Generator) (*Network, error) {
	n := &Network{
		Name:       name,
		Buses:      append([]Bus(nil), buses...),
		Lines:      append([]Line(nil), lines...),
		Generators: append([]Generator(nil), gens...),
	}
	n.applyDefaults()
	if err := n.index(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Network) applyDefaults() {
	for i := range n.Buses {
		if n.Buses[i].Nominal == 0 {
			n.Buses[i].Nominal = DefaultNominalPU
		}
	}
	for i := range n.Lines {
		if n.Lines[i].Length == 0 {
			n.Lines[i].Length = DefaultLineLength
		}
		if n.Lines[i].Resistance == 0 {
			n.Lines[i].Resistance = DefaultLineResistance
		}
	}
}

// NumBuses returns the bus count.
func (n *Network) NumBuses() int { return len(n.Buses) }

// BusIndex returns the declared position of bus id.
// Networks assembled as literals have no index and fall back to a scan.
func (n *Network) BusIndex(id int) (int, bool) {
	if n.busIndex == nil {
		for i, b := range n.Buses {
			if b.ID == id {
				return i, true
			}
		}
		return 0, false
	}
	i, ok := n.busIndex[id]
	return i, ok
}

// BusIDs returns bus ids in declared order.
func (n *Network) BusIDs() []int {
	ids := make([]int, len(n.Buses))
	for i, b := range n.Buses {
		ids[i] = b.ID
	}
	return ids
}

// TotalGeneration is the sum of generator limits.
func (n *Network) TotalGeneration() float64 {
	var s float64
	for _, g := range n.Generators {
		s += g.MaxOutput
	}
	return s
}

// Topology returns the undirected bus graph with one node per bus index and
// |reactance×length| as edge weight.  Parallel lines collapse to one edge.
func (n *Network) Topology() *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range n.Buses {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, l := range n.Lines {
		from, okF := n.BusIndex(l.FromBus)
		to, okT := n.BusIndex(l.ToBus)
		if !okF || !okT || from == to {
			continue
		}
		g.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(int64(from)),
			T: simple.Node(int64(to)),
			W: math.Abs(l.EffectiveReactance()),
		})
	}
	return g
}

// Islands returns the connected components as sorted lists of bus ids.  A
// fully connected network yields exactly one island.
func (n *Network) Islands() [][]int {
	comps := topo.ConnectedComponents(n.Topology())
	out := make([][]int, 0, len(comps))
	for _, c := range comps {
		ids := make([]int, 0, len(c))
		for _, node := range c {
			ids = append(ids, n.Buses[node.ID()].ID)
		}
		sort.Ints(ids)
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// IsConnected reports whether every bus is reachable from every other.
func (n *Network) IsConnected() bool {
	if len(n.Buses) == 0 {
		return false
	}
	return len(topo.ConnectedComponents(n.Topology())) == 1
}

// ─────────────────────────────────────────────────────────────────────────────
// LoadOverlay
// ─────────────────────────────────────────────────────────────────────────────

// LoadOverlay maps bus id to a scenario-specific load in MW.  It is passed
// alongside the immutable Network instead of mutating bus records.
type LoadOverlay map[int]float64

// BaseLoads returns the overlay in which every bus carries its nominal
// voltage as load.
func (n *Network) BaseLoads() LoadOverlay {
	o := make(LoadOverlay, len(n.Buses))
	for _, b := range n.Buses {
		o[b.ID] = b.Voltage
	}
	return o
}

// Resolve returns loads in declared bus order.  Buses absent from the
// overlay fall back to their base load.
func (o LoadOverlay) Resolve(n *Network) []float64 {
	out := make([]float64, len(n.Buses))
	for i, b := range n.Buses {
		if v, ok := o[b.ID]; ok {
			out[i] = v
		} else {
			out[i] = b.Voltage
		}
	}
	return out
}

// Total is the sum of Resolve(n).
func (o LoadOverlay) Total(n *Network) float64 {
	var s float64
	for _, v := range o.Resolve(n) {
		s += v
	}
	return s
}

// UnknownBuses lists overlay keys that are not buses of n, sorted.
func (o LoadOverlay) UnknownBuses(n *Network) []int {
	var out []int
	for id := range o {
		if _, ok := n.BusIndex(id); !ok {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// OverlayFromLoads builds an overlay from loads given in declared bus order.
func OverlayFromLoads(n *Network, loads []float64) LoadOverlay {
	o := make(LoadOverlay, len(loads))
	for i, v := range loads {
		if i >= len(n.Buses) {
			break
		}
		o[n.Buses[i].ID] = v
	}
	return o
}

// LegacyOverlay reproduces the scenario-number load mapping used by CSVs
// that carry no per-bus loads: load = voltage × (1 + variation × scenario/10).
func LegacyOverlay(n *Network, scenario int, variation float64) LoadOverlay {
	o := make(LoadOverlay, len(n.Buses))
	factor := float64(scenario) / 10.0
	for _, b := range n.Buses {
		o[b.ID] = b.Voltage * (1 + variation*factor)
	}
	return o
}
