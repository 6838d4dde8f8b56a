package cli

import (
	"github.com/spf13/cobra"
)

// NewRunCmd returns the command that executes every stage end to end.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate scenarios, train both predictors and evaluate",
		Long: `Run the full pipeline: generate and price load scenarios, write them to CSV,
train the baseline and the graph predictor, round-trip the graph predictor
through its checkpoint and compare its predictions with the scenario costs.
The JSON report is written next to the other artifacts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := NewPipeline(cmd)
			if err != nil {
				return err
			}
			report, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			return PrintResult(cmd, RunView{Report: report})
		},
	}
}
