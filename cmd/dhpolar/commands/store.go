package commands

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dhpolar/pkg/safeconv"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// bytesPerElement is the storage cost of one float64 tensor element.
const bytesPerElement = 8

// ErrStoresDiffer reports containers whose catalogs or values diverge.
var ErrStoresDiffer = errors.New("stores differ")

// StoreCommand holds flags shared by the store subcommands.
type StoreCommand struct {
	metadataPath string
	compression  string
	tol          float64
}

// NewStoreCommand creates the store command group.
func NewStoreCommand() *cobra.Command {
	sc := &StoreCommand{}

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and compare tensor store containers",
	}

	cmd.AddCommand(sc.inspectCmd(), sc.diffCmd())

	return cmd
}

func (sc *StoreCommand) inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect DIR",
		Short: "List the datasets of a store container",
		Long: `List every dataset of a store container with shape, residency and size.

DIR is a store directory or the container copy of a checkpoint. Pass the
checkpoint metadata blob with --metadata to include resident tensors; the
checkpoint itself is then copied aside and never written to.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sc.runInspect(cmd.OutOrStdout(), args[0])
		},
	}

	cmd.Flags().StringVar(&sc.metadataPath, "metadata", "", "Checkpoint metadata blob ("+checkpointMetadataName+")")
	cmd.Flags().StringVar(&sc.compression, "compression", "lz4", "Page codec of the container: lz4 or none")

	return cmd
}

func (sc *StoreCommand) diffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff DIR_A DIR_B",
		Short: "Compare the catalogs and values of two store containers",
		Long: `Compare two store containers: first their catalogs as a line diff, then
the values of every dataset present in both, elementwise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sc.runDiff(cmd.OutOrStdout(), args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&sc.compression, "compression", "lz4", "Page codec of both containers: lz4 or none")
	cmd.Flags().Float64Var(&sc.tol, "tol", 1e-12, "Max absolute elementwise deviation treated as equal")

	return cmd
}

// open opens dir directly, or restores a checkpoint pair when --metadata
// is given.
func (sc *StoreCommand) open(dir string) (*store.Store, error) {
	comp := store.CompressionLZ4
	if strings.EqualFold(sc.compression, "none") {
		comp = store.CompressionNone
	}

	if sc.metadataPath != "" {
		return store.Restore(dir, sc.metadataPath, comp)
	}

	return store.New(store.Config{Path: dir, Compression: comp})
}

func (sc *StoreCommand) runInspect(w io.Writer, dir string) error {
	st, err := sc.open(dir)
	if err != nil {
		return err
	}

	defer func() {
		_ = st.Close()
	}()

	rows := listStore(st)

	tbl := newTable()
	tbl.AppendHeader(table.Row{"key", "shape", "residency", "size"})

	var total int64

	for _, row := range rows {
		total += row.Bytes

		tbl.AppendRow(table.Row{
			row.Key,
			shapeString(row.Shape),
			row.Residency.String(),
			humanize.IBytes(safeconv.MustInt64ToUint64(row.Bytes)),
		})
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("%d datasets", len(rows)), "", "", humanize.IBytes(safeconv.MustInt64ToUint64(total)),
	})

	fmt.Fprintln(w, tbl.Render())

	return nil
}

func (sc *StoreCommand) runDiff(w io.Writer, dirA, dirB string) error {
	stA, err := sc.open(dirA)
	if err != nil {
		return err
	}

	defer func() {
		_ = stA.Close()
	}()

	stB, err := sc.open(dirB)
	if err != nil {
		return err
	}

	defer func() {
		_ = stB.Close()
	}()

	rowsA, rowsB := listStore(stA), listStore(stB)

	catalogDiffers := writeCatalogDiff(w, catalogListing(rowsA), catalogListing(rowsB))

	mismatched, err := compareValues(w, stA, stB, rowsA, rowsB, sc.tol)
	if err != nil {
		return err
	}

	if !catalogDiffers && mismatched == 0 {
		fmt.Fprintln(w, "stores match")

		return nil
	}

	return fmt.Errorf("%w: %s vs %s", ErrStoresDiffer, dirA, dirB)
}

// datasetRow is one catalog line of a container listing.
type datasetRow struct {
	Key       string
	Shape     []int
	Residency store.Residency
	Bytes     int64
}

func listStore(st *store.Store) []datasetRow {
	keys := st.Keys()
	sort.Strings(keys)

	rows := make([]datasetRow, 0, len(keys))

	for _, key := range keys {
		shape, err := st.ShapeOf(key)
		if err != nil {
			continue
		}

		res, err := st.ResidencyOf(key)
		if err != nil {
			continue
		}

		size, err := st.SizeOf(key)
		if err != nil {
			continue
		}

		rows = append(rows, datasetRow{
			Key:       key,
			Shape:     shape,
			Residency: res,
			Bytes:     int64(size) * bytesPerElement,
		})
	}

	return rows
}

// shapeString renders a shape like [3 8 8] as "3x8x8".
func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, dim := range shape {
		parts[i] = strconv.Itoa(dim)
	}

	return strings.Join(parts, "x")
}

// catalogListing renders rows as one line per dataset for the text diff.
func catalogListing(rows []datasetRow) string {
	var sb strings.Builder

	for _, row := range rows {
		fmt.Fprintf(&sb, "%s %s %s\n", row.Key, shapeString(row.Shape), row.Residency)
	}

	return sb.String()
}

// writeCatalogDiff prints a line diff of the two catalog listings and
// reports whether they differ.
func writeCatalogDiff(w io.Writer, listingA, listingB string) bool {
	if listingA == listingB {
		return false
	}

	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToRunes(listingA, listingB)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(src, dst, false), lines)

	for _, d := range diffs {
		var paint *color.Color

		prefix := "  "

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix, paint = "- ", color.New(color.FgRed)
		case diffmatchpatch.DiffInsert:
			prefix, paint = "+ ", color.New(color.FgGreen)
		case diffmatchpatch.DiffEqual:
		}

		for line := range strings.SplitSeq(strings.TrimRight(d.Text, "\n"), "\n") {
			if paint != nil {
				paint.Fprintf(w, "%s%s\n", prefix, line)
			} else {
				fmt.Fprintf(w, "%s%s\n", prefix, line)
			}
		}
	}

	return true
}

// compareValues loads every key present in both containers and reports
// elementwise deviations beyond tol.
func compareValues(
	w io.Writer, stA, stB *store.Store, rowsA, rowsB []datasetRow, tol float64,
) (int, error) {
	inB := make(map[string][]int, len(rowsB))
	for _, row := range rowsB {
		inB[row.Key] = row.Shape
	}

	mismatched := 0

	for _, row := range rowsA {
		shapeB, ok := inB[row.Key]
		if !ok {
			continue
		}

		if !slices.Equal(row.Shape, shapeB) {
			continue // already visible in the catalog diff
		}

		a, err := stA.Load(row.Key)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", row.Key, err)
		}

		b, err := stB.Load(row.Key)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", row.Key, err)
		}

		if dev := tensor.MaxAbsDiff(a, b); dev > tol {
			mismatched++

			color.New(color.FgYellow).Fprintf(w, "~ %s max |delta| %.3e\n", row.Key, dev)
		}
	}

	return mismatched, nil
}
