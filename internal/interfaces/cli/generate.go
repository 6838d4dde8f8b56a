package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/gnn-opf/internal/application/scenario"
)

// NewGenerateCmd returns the command that writes the scenario CSV.
func NewGenerateCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and price load scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cliCtx, err := NewPipeline(cmd)
			if err != nil {
				return err
			}
			n, err := p.Network()
			if err != nil {
				return err
			}
			records, err := p.Generate(cmd.Context(), n)
			if err != nil {
				return err
			}
			if out == "" {
				out = cliCtx.Config.Paths.Resolve(cliCtx.Config.Paths.ScenariosCSV)
			}
			if err := scenario.SaveCSV(out, n, records); err != nil {
				return err
			}
			if _, err := p.WriteMetrics(); err != nil {
				return err
			}
			return PrintResult(cmd, ScenariosView{Path: out, Records: records})
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "CSV path (default: <data-dir>/<scenarios_csv>)")
	return cmd
}
