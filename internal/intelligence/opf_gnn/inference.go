package opf_gnn

import (
	"github.com/turtacn/gnn-opf/internal/domain/grid"
)

// InferenceResult is the per-bus view of one forward pass.
type InferenceResult struct {
	BusIDs          []int     `json:"bus_ids"`
	NodePredictions []float64 `json:"node_predictions"`
	Prediction      float64   `json:"prediction"`
	Penalty         float64   `json:"penalty"`
	Attention       []float64 `json:"attention,omitempty"`
}

// Infer converts n under overlay into a graph with the model's input layout
// and runs a forward pass.
func Infer(m *Model, n *grid.Network, overlay grid.LoadOverlay, mode NodeFeatureMode) (*InferenceResult, error) {
	g, err := ConvertNetworkToGraph(n, overlay, GraphOptions{NodeFeatures: mode})
	if err != nil {
		return nil, err
	}
	r, err := m.Forward(g)
	if err != nil {
		return nil, err
	}
	return &InferenceResult{
		BusIDs:          g.BusIDs,
		NodePredictions: r.Outputs,
		Prediction:      r.Prediction,
		Penalty:         r.Penalty,
		Attention:       r.Attention,
	}, nil
}
