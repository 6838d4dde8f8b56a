package training

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/gnn-opf/internal/application/scenario"
	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/internal/intelligence/opf_baseline"
)

// Summary aggregates an evaluation.
type Summary struct {
	Count    int     `json:"count"`
	MAE      float64 `json:"mae"`
	RMSE     float64 `json:"rmse"`
	MaxError float64 `json:"max_error"`
}

// Summarize computes MAE, RMSE and the largest absolute error.  An empty
// slice yields the zero Summary.
func Summarize(results []EvaluationResult) Summary {
	if len(results) == 0 {
		return Summary{}
	}
	errs := make([]float64, len(results))
	sq := make([]float64, len(results))
	for i, r := range results {
		errs[i] = r.Error
		sq[i] = r.Error * r.Error
	}
	return Summary{
		Count:    len(results),
		MAE:      stat.Mean(errs, nil),
		RMSE:     math.Sqrt(stat.Mean(sq, nil)),
		MaxError: floats.Max(errs),
	}
}

// BaselineSamples turns records into baseline training samples with dim
// features each.  Records without loads use the legacy load mapping.
func BaselineSamples(n *grid.Network, records []scenario.Record, variation float64, dim int) []opf_baseline.Sample {
	out := make([]opf_baseline.Sample, len(records))
	for i, rec := range records {
		out[i] = opf_baseline.Sample{
			Features: opf_baseline.Features(rec.Scenario, rec.FirstBusLoad(n, variation), dim),
			Target:   rec.TotalCost,
		}
	}
	return out
}
