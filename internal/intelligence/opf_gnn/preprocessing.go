package opf_gnn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// ---------------------------------------------------------------------------
// Node / edge feature layout
// ---------------------------------------------------------------------------

// NodeFeatureMode selects the per-bus input features.
//
//	voltage       [voltage]          dim 1
//	load          [scenario load]    dim 1
//	voltage_load  [voltage, load]    dim 2
type NodeFeatureMode string

const (
	NodeFeaturesVoltage     NodeFeatureMode = "voltage"
	NodeFeaturesLoad        NodeFeatureMode = "load"
	NodeFeaturesVoltageLoad NodeFeatureMode = "voltage_load"
)

// EdgeAttrDim is the width of every edge attribute row: [reactance, capacity].
const EdgeAttrDim = 2

// Dim returns the node feature width, or 0 for an unknown mode.
func (m NodeFeatureMode) Dim() int {
	switch m {
	case NodeFeaturesVoltage, NodeFeaturesLoad:
		return 1
	case NodeFeaturesVoltageLoad:
		return 2
	default:
		return 0
	}
}

// ParseNodeFeatureMode validates s; the empty string selects voltage.
func ParseNodeFeatureMode(s string) (NodeFeatureMode, error) {
	if s == "" {
		return NodeFeaturesVoltage, nil
	}
	m := NodeFeatureMode(s)
	if m.Dim() == 0 {
		return "", errors.Newf(errors.CodeInvalidParam, "unknown node feature mode %q", s).
			WithDetail("expected voltage, load or voltage_load")
	}
	return m, nil
}

// GraphOptions controls ConvertNetworkToGraph.
type GraphOptions struct {
	NodeFeatures NodeFeatureMode
}

// ---------------------------------------------------------------------------
// PowerGraph
// ---------------------------------------------------------------------------

// PowerGraph is the tensor view of one network scenario.  Node i is the
// i-th declared bus.  Every line appears twice in EdgeIndex, once per
// direction, with identical attributes.
type PowerGraph struct {
	BusIDs []int
	// NodeFeatures is N×F.
	NodeFeatures *mat.Dense
	// EdgeIndex holds directed (source, target) node pairs.
	EdgeIndex [][2]int
	// EdgeAttr is E×2: reactance×length, capacity.
	EdgeAttr *mat.Dense
	// EdgeResistance is resistance×length per directed edge.
	EdgeResistance []float64
	// Loads is the resolved per-bus load of the scenario.
	Loads []float64
}

// NumNodes returns the bus count.
func (g *PowerGraph) NumNodes() int { return len(g.BusIDs) }

// NumEdges returns the directed edge count.
func (g *PowerGraph) NumEdges() int { return len(g.EdgeIndex) }

// FeatureDim returns the node feature width.
func (g *PowerGraph) FeatureDim() int {
	_, c := g.NodeFeatures.Dims()
	return c
}

// NormalizedAdjacency returns the GCN propagation matrix
// D^-1/2 (A + I) D^-1/2, where A[t][s] counts directed edges s→t and D is
// the row-degree of A + I.  Existing self loops are replaced by the single
// added one.
func (g *PowerGraph) NormalizedAdjacency() *mat.Dense {
	n := g.NumNodes()
	a := mat.NewDense(n, n, nil)
	for _, e := range g.EdgeIndex {
		s, t := e[0], e[1]
		if s == t {
			continue
		}
		a.Set(t, s, a.At(t, s)+1)
	}
	deg := make([]float64, n)
	for i := 0; i < n; i++ {
		a.Set(i, i, 1)
		for j := 0; j < n; j++ {
			deg[i] += a.At(i, j)
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if v := a.At(i, j); v != 0 {
				a.Set(i, j, v/math.Sqrt(deg[i]*deg[j]))
			}
		}
	}
	return a
}

// ConvertNetworkToGraph builds the graph of n under the given load overlay.
// A nil overlay means base loads.  A line or overlay entry naming an
// unknown bus is a CodeGraphBuildError.
func ConvertNetworkToGraph(n *grid.Network, overlay grid.LoadOverlay, opts GraphOptions) (*PowerGraph, error) {
	if n == nil || len(n.Buses) == 0 {
		return nil, errors.New(errors.CodeGraphBuildError, "network has no buses")
	}
	mode := opts.NodeFeatures
	if mode == "" {
		mode = NodeFeaturesVoltage
	}
	if mode.Dim() == 0 {
		return nil, errors.Newf(errors.CodeGraphBuildError, "unknown node feature mode %q", mode)
	}
	if unknown := overlay.UnknownBuses(n); len(unknown) > 0 {
		return nil, errors.Newf(errors.CodeGraphBuildError, "load overlay names unknown buses %v", unknown)
	}

	g := &PowerGraph{
		BusIDs:         n.BusIDs(),
		NodeFeatures:   mat.NewDense(len(n.Buses), mode.Dim(), nil),
		EdgeIndex:      make([][2]int, 0, 2*len(n.Lines)),
		EdgeResistance: make([]float64, 0, 2*len(n.Lines)),
		Loads:          overlay.Resolve(n),
	}
	for i, b := range n.Buses {
		switch mode {
		case NodeFeaturesVoltage:
			g.NodeFeatures.Set(i, 0, b.Voltage)
		case NodeFeaturesLoad:
			g.NodeFeatures.Set(i, 0, g.Loads[i])
		case NodeFeaturesVoltageLoad:
			g.NodeFeatures.Set(i, 0, b.Voltage)
			g.NodeFeatures.Set(i, 1, g.Loads[i])
		}
	}

	attrs := make([]float64, 0, 2*EdgeAttrDim*len(n.Lines))
	for _, l := range n.Lines {
		from, okF := n.BusIndex(l.FromBus)
		to, okT := n.BusIndex(l.ToBus)
		if !okF || !okT {
			missing := l.FromBus
			if okF {
				missing = l.ToBus
			}
			return nil, errors.Newf(errors.CodeGraphBuildError, "line %d references unknown bus %d", l.ID, missing)
		}
		x, r := l.EffectiveReactance(), l.EffectiveResistance()
		for _, e := range [][2]int{{from, to}, {to, from}} {
			g.EdgeIndex = append(g.EdgeIndex, e)
			g.EdgeResistance = append(g.EdgeResistance, r)
			attrs = append(attrs, x, l.Capacity)
		}
	}
	if len(attrs) > 0 {
		g.EdgeAttr = mat.NewDense(len(g.EdgeIndex), EdgeAttrDim, attrs)
	} else {
		g.EdgeAttr = &mat.Dense{}
	}
	return g, nil
}

// String summarises the graph for logs.
func (g *PowerGraph) String() string {
	return fmt.Sprintf("PowerGraph(nodes=%d, edges=%d, features=%d)", g.NumNodes(), g.NumEdges(), g.FeatureDim())
}
