package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/gnn-opf/internal/application/pipeline"
	"github.com/turtacn/gnn-opf/internal/application/scenario"
	"github.com/turtacn/gnn-opf/internal/domain/grid"
)

// NewTrainCmd returns the train command group.
func NewTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a predictor on an existing scenario CSV",
	}
	cmd.AddCommand(newTrainBaselineCmd(), newTrainGNNCmd())
	return cmd
}

// loadScenarios resolves the network and reads the scenario CSV at path, or
// at the configured location when path is empty.
func loadScenarios(p *pipeline.Pipeline, cliCtx *CLIContext, path string) (*grid.Network, []scenario.Record, error) {
	n, err := p.Network()
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		path = cliCtx.Config.Paths.Resolve(cliCtx.Config.Paths.ScenariosCSV)
	}
	records, err := scenario.LoadCSV(path)
	if err != nil {
		return nil, nil, err
	}
	return n, records, nil
}

func newTrainBaselineCmd() *cobra.Command {
	var scenarios string

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Train the feed-forward baseline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cliCtx, err := NewPipeline(cmd)
			if err != nil {
				return err
			}
			n, records, err := loadScenarios(p, cliCtx, scenarios)
			if err != nil {
				return err
			}
			report, err := p.TrainBaseline(cmd.Context(), n, records)
			if err != nil {
				return err
			}
			if _, err := p.WriteMetrics(); err != nil {
				return err
			}
			return PrintResult(cmd, TrainingView{Model: pipeline.BaselineModel, Losses: report.Losses, Checkpoint: report.Checkpoint})
		},
	}

	cmd.Flags().StringVar(&scenarios, "scenarios", "", "scenario CSV (default: <data-dir>/<scenarios_csv>)")
	return cmd
}

func newTrainGNNCmd() *cobra.Command {
	var scenarios string

	cmd := &cobra.Command{
		Use:   "gnn",
		Short: "Train the graph predictor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cliCtx, err := NewPipeline(cmd)
			if err != nil {
				return err
			}
			n, records, err := loadScenarios(p, cliCtx, scenarios)
			if err != nil {
				return err
			}
			report, err := p.TrainGNN(cmd.Context(), n, records)
			if err != nil {
				return err
			}
			if _, err := p.WriteMetrics(); err != nil {
				return err
			}
			return PrintResult(cmd, TrainingView{Model: "gnn", Losses: report.Losses, Checkpoint: report.Checkpoint})
		},
	}

	cmd.Flags().StringVar(&scenarios, "scenarios", "", "scenario CSV (default: <data-dir>/<scenarios_csv>)")
	return cmd
}
