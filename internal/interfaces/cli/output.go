package cli

import (
	"strconv"

	"github.com/turtacn/gnn-opf/internal/application/pipeline"
	"github.com/turtacn/gnn-opf/internal/application/scenario"
	"github.com/turtacn/gnn-opf/internal/application/training"
	"github.com/turtacn/gnn-opf/internal/intelligence/opf_gnn"
)

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

// EvaluationView is the per-scenario comparison plus its summary.
type EvaluationView struct {
	Results []training.EvaluationResult `json:"results"`
	Summary training.Summary            `json:"summary"`
}

func (v EvaluationView) TableHeaders() []string {
	return []string{"SCENARIO", "PREDICTED", "ACTUAL", "ABS ERROR"}
}

func (v EvaluationView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Results)+3)
	for _, r := range v.Results {
		rows = append(rows, []string{
			strconv.Itoa(r.Scenario), formatFloat(r.PredictedTotal), formatFloat(r.TargetTotal), formatFloat(r.Error),
		})
	}
	return append(rows,
		[]string{"MAE", "", "", formatFloat(v.Summary.MAE)},
		[]string{"RMSE", "", "", formatFloat(v.Summary.RMSE)},
		[]string{"MAX", "", "", formatFloat(v.Summary.MaxError)},
	)
}

// RunView renders a full run report; its table is the evaluation.
type RunView struct {
	*pipeline.Report
}

func (v RunView) TableHeaders() []string { return EvaluationView{}.TableHeaders() }

func (v RunView) TableRows() [][]string {
	return EvaluationView{Results: v.Results, Summary: v.Summary}.TableRows()
}

// ScenariosView lists generated scenarios.
type ScenariosView struct {
	Path    string            `json:"path"`
	Records []scenario.Record `json:"records"`
}

func (v ScenariosView) TableHeaders() []string {
	return []string{"SCENARIO", "TOTAL COST", "TOTAL LOAD", "FIDELITY"}
}

func (v ScenariosView) TableRows() [][]string {
	rows := make([][]string, len(v.Records))
	for i, r := range v.Records {
		var load float64
		for _, l := range r.Loads {
			load += l
		}
		rows[i] = []string{strconv.Itoa(r.Scenario), formatFloat(r.TotalCost), formatFloat(load), string(r.Fidelity)}
	}
	return rows
}

// TrainingView lists per-epoch losses of one model.
type TrainingView struct {
	Model      string    `json:"model"`
	Losses     []float64 `json:"epoch_losses"`
	Checkpoint string    `json:"checkpoint"`
}

func (v TrainingView) TableHeaders() []string { return []string{"EPOCH", "LOSS"} }

func (v TrainingView) TableRows() [][]string {
	rows := make([][]string, len(v.Losses))
	for i, l := range v.Losses {
		rows[i] = []string{strconv.Itoa(i + 1), formatFloat(l)}
	}
	return rows
}

// InferenceView shows per-bus outputs and the graph-level prediction.
type InferenceView struct {
	*opf_gnn.InferenceResult
}

func (v InferenceView) TableHeaders() []string { return []string{"BUS", "OUTPUT"} }

func (v InferenceView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.BusIDs)+2)
	for i, id := range v.BusIDs {
		rows = append(rows, []string{strconv.Itoa(id), formatFloat(v.NodePredictions[i])})
	}
	return append(rows,
		[]string{"PREDICTION", formatFloat(v.Prediction)},
		[]string{"PENALTY", formatFloat(v.Penalty)},
	)
}

// CaseInfo describes a built-in network.
type CaseInfo struct {
	Name       string `json:"name"`
	Buses      int    `json:"buses"`
	Lines      int    `json:"lines"`
	Generators int    `json:"generators"`
}

// CasesView lists built-in networks.
type CasesView []CaseInfo

func (v CasesView) TableHeaders() []string { return []string{"CASE", "BUSES", "LINES", "GENERATORS"} }

func (v CasesView) TableRows() [][]string {
	rows := make([][]string, len(v))
	for i, c := range v {
		rows[i] = []string{c.Name, strconv.Itoa(c.Buses), strconv.Itoa(c.Lines), strconv.Itoa(c.Generators)}
	}
	return rows
}
