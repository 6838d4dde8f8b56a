package cli

import (
	"github.com/spf13/cobra"
)

// NewInferCmd returns the command that runs one forward pass on the base
// network loads.
func NewInferCmd() *cobra.Command {
	var (
		checkpoint string
		untrained  bool
	)

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Predict the cost of the base network loads",
		Long: `Forward the network at its nominal loads through the graph predictor and
print the per-bus outputs and the graph-level prediction.  With --untrained
the model keeps its random initialisation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cliCtx, err := NewPipeline(cmd)
			if err != nil {
				return err
			}
			if untrained {
				checkpoint = ""
			} else if checkpoint == "" {
				checkpoint = cliCtx.Config.Paths.Resolve(cliCtx.Config.Paths.Checkpoint)
			}
			res, err := p.RunInference(cmd.Context(), checkpoint)
			if err != nil {
				return err
			}
			return PrintResult(cmd, InferenceView{InferenceResult: res})
		},
	}

	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "graph predictor checkpoint (default: <data-dir>/<checkpoint>)")
	cmd.Flags().BoolVar(&untrained, "untrained", false, "skip loading a checkpoint")
	return cmd
}
