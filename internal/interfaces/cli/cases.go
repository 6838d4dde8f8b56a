package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/gnn-opf/internal/domain/grid"
)

// skipInit replaces the root initialisation for commands that need no
// configuration.
func skipInit(*cobra.Command, []string) error { return nil }

// NewCasesCmd returns the command that lists built-in networks.
func NewCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "cases",
		Short:             "List built-in network cases",
		Args:              cobra.NoArgs,
		PersistentPreRunE: skipInit,
		RunE: func(cmd *cobra.Command, args []string) error {
			var view CasesView
			for _, name := range grid.AvailableCases() {
				n, err := grid.LoadCase(name)
				if err != nil {
					return err
				}
				view = append(view, CaseInfo{Name: name, Buses: n.NumBuses(), Lines: len(n.Lines), Generators: len(n.Generators)})
			}
			return printFormatted(cmd, view)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <case>",
		Short: "Print the YAML of a built-in case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := grid.CaseSource(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}

// printFormatted prints without a CLIContext, honouring the root --output flag.
func printFormatted(cmd *cobra.Command, data interface{}) error {
	if f := cmd.Flag("output"); f != nil && f.Value.String() == "json" {
		return printJSON(cmd, data)
	}
	return printTable(cmd, data)
}
