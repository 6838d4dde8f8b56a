package cli

import (
	"github.com/spf13/cobra"
)

// NewEvaluateCmd returns the command that scores a saved graph predictor.
func NewEvaluateCmd() *cobra.Command {
	var (
		scenarios  string
		checkpoint string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compare a saved graph predictor with scenario costs",
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
			if checkpoint == "" {
				checkpoint = cliCtx.Config.Paths.Resolve(cliCtx.Config.Paths.Checkpoint)
			}
			results, summary, err := p.Evaluate(cmd.Context(), n, records, checkpoint)
			if err != nil {
				return err
			}
			if _, err := p.WriteMetrics(); err != nil {
				return err
			}
			return PrintResult(cmd, EvaluationView{Results: results, Summary: summary})
		},
	}

	cmd.Flags().StringVar(&scenarios, "scenarios", "", "scenario CSV (default: <data-dir>/<scenarios_csv>)")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "graph predictor checkpoint (default: <data-dir>/<checkpoint>)")
	return cmd
}
