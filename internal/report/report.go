// Package report renders a finished response run as a standalone HTML
// page: the assembled polarizability, per-stage wall time and heap, and
// the stored tensors with their residency.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/dhpolar/pkg/response"
	"github.com/Sumatoshi-tech/dhpolar/pkg/safeconv"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

const (
	chartWidth  = "900px"
	chartHeight = "420px"
	xAxisRotate = 45

	bytesPerElement = 8

	colorSCF      = "#5470c6"
	colorCorr     = "#ee6666"
	colorDuration = "#5470c6"
	colorHeap     = "#91cc75"
	colorResident = "#91cc75"
	colorPaged    = "#fac858"
)

// polLabels names the unique Cartesian components of a symmetric
// polarizability matrix, diagonal first.
var polLabels = []string{"xx", "yy", "zz", "xy", "xz", "yz"}

// Dataset is one stored tensor and its in-memory size.
type Dataset struct {
	Key       string
	Bytes     int64
	Residency store.Residency
}

// Data carries one finished run for rendering.
type Data struct {
	Result   *response.Result
	Stats    store.Stats
	Datasets []Dataset
	Wall     time.Duration
}

// Build collects report data from a finished run. The store is inspected
// for dataset sizes and traffic counters, so call Build before Close.
func Build(res *response.Result, st *store.Store, wall time.Duration) *Data {
	data := &Data{
		Result: res,
		Wall:   wall,
	}

	if st == nil {
		return data
	}

	data.Stats = st.Stats()

	keys := st.Keys()
	sort.Strings(keys)

	for _, key := range keys {
		size, err := st.SizeOf(key)
		if err != nil {
			continue
		}

		residency, err := st.ResidencyOf(key)
		if err != nil {
			continue
		}

		data.Datasets = append(data.Datasets, Dataset{
			Key:       key,
			Bytes:     int64(size) * bytesPerElement,
			Residency: residency,
		})
	}

	sort.SliceStable(data.Datasets, func(i, j int) bool {
		return data.Datasets[i].Bytes > data.Datasets[j].Bytes
	})

	return data
}

// Render writes the report page as HTML.
func (d *Data) Render(w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("dhpolar run: %s", d.Result.Functional)
	page.SetLayout(components.PageFlexLayout)

	page.AddCharts(
		d.polarChart(),
		d.stageDurationChart(),
		d.heapChart(),
		d.datasetChart(),
	)

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	return nil
}

// WriteFile renders the report into path, creating or truncating it.
func (d *Data) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	if err := d.Render(f); err != nil {
		f.Close()

		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}

	return nil
}

func (d *Data) polarChart() *charts.Bar {
	bar := charts.NewBar()

	iso := isotropic(d.Result.PolTotal)
	subtitle := fmt.Sprintf(
		"alpha_iso %.6f | E(SCF) %.8f | E(PT2) %.8f | E(total) %.8f",
		iso, d.Result.EnergySCF, d.Result.EnergyCorrPT2, d.Result.EnergyTotal,
	)

	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: "Polarizability components", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "a.u."}),
		charts.WithGridOpts(opts.Grid{ContainLabel: opts.Bool(true)}),
	)

	bar.SetXAxis(polLabels)
	bar.AddSeries("SCF", barSeries(polComponents(d.Result.PolSCF)),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorSCF}))
	bar.AddSeries("Correlation", barSeries(polComponents(d.Result.PolCorr)),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorCorr}))

	return bar
}

func (d *Data) stageDurationChart() *charts.Bar {
	labels := make([]string, len(d.Result.Stages))
	values := make([]float64, len(d.Result.Stages))

	for i, stage := range d.Result.Stages {
		labels[i] = stage.Name
		values[i] = float64(stage.Elapsed.Microseconds()) / 1e3
	}

	bar := charts.NewBar()

	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Stage wall time",
			Subtitle: fmt.Sprintf("total %s", d.Wall.Round(time.Millisecond)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Rotate: xAxisRotate, Interval: "0"},
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
		charts.WithGridOpts(opts.Grid{ContainLabel: opts.Bool(true)}),
	)

	bar.SetXAxis(labels)
	bar.AddSeries("Wall time", barSeries(values),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorDuration}))

	return bar
}

func (d *Data) heapChart() *charts.Line {
	labels := make([]string, len(d.Result.Stages))
	data := make([]opts.LineData, len(d.Result.Stages))

	var peak int64

	for i, stage := range d.Result.Stages {
		labels[i] = stage.Name
		data[i] = opts.LineData{Value: float64(stage.HeapAlloc) / (1 << 20)}

		if stage.HeapAlloc > peak {
			peak = stage.HeapAlloc
		}
	}

	line := charts.NewLine()

	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Heap after stage",
			Subtitle: fmt.Sprintf("peak %s", humanize.IBytes(safeconv.MustInt64ToUint64(peak))),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Rotate: xAxisRotate, Interval: "0"},
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MiB"}),
		charts.WithGridOpts(opts.Grid{ContainLabel: opts.Bool(true)}),
	)

	line.SetXAxis(labels)
	line.AddSeries("Heap", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorHeap}),
	)

	return line
}

func (d *Data) datasetChart() *charts.Bar {
	labels := make([]string, len(d.Datasets))
	data := make([]opts.BarData, len(d.Datasets))

	var total int64

	for i, ds := range d.Datasets {
		labels[i] = ds.Key
		total += ds.Bytes

		color := colorResident
		if ds.Residency == store.ResidencyPaged {
			color = colorPaged
		}

		data[i] = opts.BarData{
			Value:     float64(ds.Bytes) / (1 << 20),
			ItemStyle: &opts.ItemStyle{Color: color},
		}
	}

	subtitle := fmt.Sprintf(
		"%s stored | read %s, wrote %s | green resident, yellow paged",
		humanize.IBytes(safeconv.MustInt64ToUint64(total)),
		humanize.IBytes(safeconv.MustInt64ToUint64(d.Stats.BytesRead)),
		humanize.IBytes(safeconv.MustInt64ToUint64(d.Stats.BytesWritten)),
	)

	bar := charts.NewBar()

	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: "Stored tensors", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Rotate: xAxisRotate, Interval: "0"},
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MiB"}),
		charts.WithGridOpts(opts.Grid{ContainLabel: opts.Bool(true)}),
	)

	bar.SetXAxis(labels)
	bar.AddSeries("Size", data)

	return bar
}

func barSeries(values []float64) []opts.BarData {
	data := make([]opts.BarData, len(values))
	for i, v := range values {
		data[i] = opts.BarData{Value: v}
	}

	return data
}

// polComponents extracts the unique components of a symmetric [3, 3]
// matrix in polLabels order. A nil matrix yields zeros.
func polComponents(m *tensor.Dense) []float64 {
	out := make([]float64, len(polLabels))
	if m == nil {
		return out
	}

	idx := [][2]int{{0, 0}, {1, 1}, {2, 2}, {0, 1}, {0, 2}, {1, 2}}
	for i, ij := range idx {
		out[i] = m.At(ij[0], ij[1])
	}

	return out
}

func isotropic(m *tensor.Dense) float64 {
	if m == nil {
		return 0
	}

	return (m.At(0, 0) + m.At(1, 1) + m.At(2, 2)) / 3
}
