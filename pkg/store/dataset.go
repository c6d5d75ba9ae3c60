package store

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cockroachdb/pebble"

	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// Dataset is a handle onto one paged tensor: a logical shape plus the
// physical block range it reads and writes. Several aliased keys may hold
// handles onto the same physical id.
//
// Rows are leading-axis slices. Each row is one container block; a missing
// block reads back as zeros, which makes zero-fill a range deletion.
type Dataset struct {
	store    *Store
	physical string
	shape    []int
	rowElems int
}

func (s *Store) newDataset(rec manifestRecord) *Dataset {
	rowElems := 1
	for _, n := range rec.Shape[1:] {
		rowElems *= n
	}

	return &Dataset{
		store:    s,
		physical: rec.Physical,
		shape:    rec.Shape,
		rowElems: rowElems,
	}
}

// Shape returns the dataset's logical shape.
func (d *Dataset) Shape() []int {
	return slices.Clone(d.shape)
}

// Rows returns the leading-axis extent.
func (d *Dataset) Rows() int {
	return d.shape[0]
}

// RowElems returns the element count of one leading-axis slice.
func (d *Dataset) RowElems() int {
	return d.rowElems
}

func (d *Dataset) blockKey(row int) []byte {
	return []byte(fmt.Sprintf("%s%s/%012x", blockPrefix, d.physical, row))
}

func (d *Dataset) blockBounds() (lower, upper []byte) {
	return []byte(blockPrefix + d.physical + "/"), []byte(blockPrefix + d.physical + "0")
}

// ReadRows materializes rows [start, stop) as a tensor of shape
// [stop-start, trailing...]. Rows never written come back zero-filled.
func (d *Dataset) ReadRows(start, stop int) (*tensor.Dense, error) {
	if start < 0 || stop < start || stop > d.Rows() {
		return nil, fmt.Errorf("%w: read rows [%d, %d) of %d", ErrUsage, start, stop, d.Rows())
	}

	outShape := slices.Clone(d.shape)
	outShape[0] = stop - start
	out := tensor.New(outShape...)

	data := out.Data()

	for row := start; row < stop; row++ {
		value, closer, err := d.store.db.Get(d.blockKey(row))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("%w: read block %d of %q: %w", ErrStorage, row, d.physical, err)
		}

		decoded, decErr := decodeBlock(value, d.rowElems)
		closer.Close()

		if decErr != nil {
			return nil, fmt.Errorf("%w: block %d of %q: %w", ErrStorage, row, d.physical, decErr)
		}

		copy(data[(row-start)*d.rowElems:], decoded)
		d.store.countBytes(false, d.rowElems)
	}

	return out, nil
}

// WriteRows stores data at rows [start, start+data rows). The trailing
// shape must match the dataset's.
func (d *Dataset) WriteRows(start int, data *tensor.Dense) error {
	dataShape := data.Shape()
	if len(dataShape) != len(d.shape) || !slices.Equal(dataShape[1:], d.shape[1:]) {
		return fmt.Errorf("%w: write shape %v into dataset shape %v", ErrUsage, dataShape, d.shape)
	}

	if start < 0 || start+dataShape[0] > d.Rows() {
		return fmt.Errorf("%w: write rows [%d, %d) of %d", ErrUsage, start, start+dataShape[0], d.Rows())
	}

	batch := d.store.db.NewBatch()
	defer batch.Close()

	raw := data.Data()

	for i := range dataShape[0] {
		block, err := encodeBlock(raw[i*d.rowElems:(i+1)*d.rowElems], d.store.comp)
		if err != nil {
			return fmt.Errorf("%w: encode block %d of %q: %w", ErrStorage, start+i, d.physical, err)
		}

		setErr := batch.Set(d.blockKey(start+i), block, nil)
		if setErr != nil {
			return fmt.Errorf("%w: stage block %d of %q: %w", ErrStorage, start+i, d.physical, setErr)
		}

		d.store.countBytes(true, d.rowElems)
	}

	commitErr := batch.Commit(pebble.NoSync)
	if commitErr != nil {
		return fmt.Errorf("%w: commit rows [%d, %d) of %q: %w",
			ErrStorage, start, start+dataShape[0], d.physical, commitErr)
	}

	return nil
}

// zeroFill drops every block so all rows read back as zeros.
func (d *Dataset) zeroFill() error {
	lower, upper := d.blockBounds()

	err := d.store.db.DeleteRange(lower, upper, pebble.NoSync)
	if err != nil {
		return fmt.Errorf("%w: zero dataset %q: %w", ErrStorage, d.physical, err)
	}

	return nil
}

// dropBlocks removes the physical dataset from the container.
func (d *Dataset) dropBlocks() error {
	lower, upper := d.blockBounds()

	err := d.store.db.DeleteRange(lower, upper, pebble.NoSync)
	if err != nil {
		return fmt.Errorf("%w: drop dataset %q: %w", ErrStorage, d.physical, err)
	}

	return nil
}
