package commands

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dhpolar/pkg/functional"
)

// NewFunctionalsCommand creates the functionals listing command.
func NewFunctionalsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "functionals",
		Short: "List the registered doubly hybrid functionals",
		Long: `List every registered functional with its self-consistent reference, the
functional the energy is evaluated with and the PT2 channel weights.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeFunctionals(cmd.OutOrStdout())
		},
	}
}

func writeFunctionals(w io.Writer) error {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"name", "scf", "energy", "cc", "c_os", "c_ss"})

	names := functional.Names()

	for _, name := range names {
		fn, err := functional.Parse(name)
		if err != nil {
			return err
		}

		tbl.AppendRow(table.Row{
			fn.Name,
			fn.SCF,
			fn.EnergyXC(),
			fmt.Sprintf("%g", fn.CC),
			fmt.Sprintf("%g", fn.COS),
			fmt.Sprintf("%g", fn.CSS),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d functionals", len(names))})

	fmt.Fprintln(w, tbl.Render())

	return nil
}
