package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/dhpolar/pkg/response"
	"github.com/Sumatoshi-tech/dhpolar/pkg/safeconv"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// axisLabels index the polarizability rows and columns.
var axisLabels = [3]string{"x", "y", "z"}

// writeResult prints the polarizability matrix, the energy decomposition
// and, when verbose, the per-stage timing table.
func writeResult(w io.Writer, res *response.Result, wall time.Duration, verbose bool) {
	color.New(color.FgGreen, color.Bold).Fprintf(w, "%s static polarizability (a.u.)\n", res.Functional)
	fmt.Fprintln(w, polarTable(res))
	fmt.Fprintln(w)
	fmt.Fprintln(w, energyTable(res))

	if verbose {
		fmt.Fprintln(w)
		fmt.Fprintln(w, stageTable(res.Stages))
	}

	fmt.Fprintf(w, "\ncompleted in %s\n", wall.Round(time.Millisecond))
}

func polarTable(res *response.Result) string {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"", "x", "y", "z"})

	for i, axis := range axisLabels {
		row := table.Row{axis}
		for j := range axisLabels {
			row = append(row, fmt.Sprintf("%.6f", res.PolTotal.At(i, j)))
		}

		tbl.AppendRow(row)
	}

	tbl.AppendFooter(table.Row{"iso", fmt.Sprintf("%.6f", isotropic(res.PolTotal)), "", ""})

	return tbl.Render()
}

func energyTable(res *response.Result) string {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"quantity", "value"})
	tbl.AppendRow(table.Row{"E(SCF)", fmt.Sprintf("%.8f", res.EnergySCF)})
	tbl.AppendRow(table.Row{"E(corr, OS)", fmt.Sprintf("%.8f", res.EnergyCorrOS)})
	tbl.AppendRow(table.Row{"E(corr, SS)", fmt.Sprintf("%.8f", res.EnergyCorrSS)})
	tbl.AppendRow(table.Row{"E(corr, PT2)", fmt.Sprintf("%.8f", res.EnergyCorrPT2)})
	tbl.AppendRow(table.Row{"E(total)", fmt.Sprintf("%.8f", res.EnergyTotal)})
	tbl.AppendRow(table.Row{"alpha_iso(SCF)", fmt.Sprintf("%.6f", isotropic(res.PolSCF))})
	tbl.AppendRow(table.Row{"alpha_iso(corr)", fmt.Sprintf("%.6f", isotropic(res.PolCorr))})
	tbl.AppendRow(table.Row{"alpha_iso(total)", fmt.Sprintf("%.6f", isotropic(res.PolTotal))})

	return tbl.Render()
}

func stageTable(stages []response.StageTiming) string {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"stage", "elapsed", "heap"})

	var total time.Duration

	for _, stg := range stages {
		total += stg.Elapsed

		tbl.AppendRow(table.Row{
			stg.Name,
			stg.Elapsed.Round(time.Microsecond).String(),
			humanize.IBytes(safeconv.MustInt64ToUint64(stg.HeapAlloc)),
		})
	}

	tbl.AppendFooter(table.Row{"total", total.Round(time.Microsecond).String(), ""})

	return tbl.Render()
}

// newTable returns a writer in the borderless house style.
func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = false

	return tbl
}

// isotropic is the mean of the diagonal of a [3, 3] matrix.
func isotropic(m *tensor.Dense) float64 {
	if m == nil {
		return 0
	}

	return (m.At(0, 0) + m.At(1, 1) + m.At(2, 2)) / 3
}
