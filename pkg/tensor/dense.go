// Package tensor implements dense row-major float64 multidimensional arrays:
// shape and stride bookkeeping, leading-axis views, trailing-axis-pair
// symmetrization, and the contraction kernels used by the response stages.
// Shapes are immutable after construction; contents are mutable.
package tensor

import (
	"fmt"
	"math"
	"slices"
)

// Dense is a row-major float64 tensor. The zero value is not usable; use New
// or NewFromData.
type Dense struct {
	shape []int
	data  []float64
}

// New allocates a zero-filled tensor of the given shape. Dimensions must be
// positive.
func New(shape ...int) *Dense {
	return &Dense{shape: checkShape(shape), data: make([]float64, sizeOf(shape))}
}

// NewFromData wraps data in a tensor of the given shape without copying.
// The data length must match the shape's element count.
func NewFromData(data []float64, shape ...int) *Dense {
	checkShape(shape)

	if len(data) != sizeOf(shape) {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v (%d elements)",
			len(data), shape, sizeOf(shape)))
	}

	return &Dense{shape: slices.Clone(shape), data: data}
}

func checkShape(shape []int) []int {
	if len(shape) == 0 {
		panic("tensor: empty shape")
	}

	for _, n := range shape {
		if n <= 0 {
			panic(fmt.Sprintf("tensor: non-positive dimension in shape %v", shape))
		}
	}

	return slices.Clone(shape)
}

func sizeOf(shape []int) int {
	size := 1
	for _, n := range shape {
		size *= n
	}

	return size
}

// Shape returns a copy of the tensor's shape.
func (d *Dense) Shape() []int {
	return slices.Clone(d.shape)
}

// Dims returns the number of axes.
func (d *Dense) Dims() int {
	return len(d.shape)
}

// Dim returns the extent of axis i.
func (d *Dense) Dim(i int) int {
	return d.shape[i]
}

// Size returns the total element count.
func (d *Dense) Size() int {
	return len(d.data)
}

// Data returns the backing slice. Mutations are visible through the tensor
// and through any views sharing it.
func (d *Dense) Data() []float64 {
	return d.data
}

// offset maps a multi-index to a flat row-major offset.
func (d *Dense) offset(idx []int) int {
	if len(idx) != len(d.shape) {
		panic(fmt.Sprintf("tensor: %d indices for %d axes", len(idx), len(d.shape)))
	}

	off := 0

	for k, i := range idx {
		if i < 0 || i >= d.shape[k] {
			panic(fmt.Sprintf("tensor: index %d out of range [0,%d) on axis %d", i, d.shape[k], k))
		}

		off = off*d.shape[k] + i
	}

	return off
}

// At returns the element at the multi-index.
func (d *Dense) At(idx ...int) float64 {
	return d.data[d.offset(idx)]
}

// Set stores v at the multi-index.
func (d *Dense) Set(v float64, idx ...int) {
	d.data[d.offset(idx)] = v
}

// Zero fills the tensor with zeros.
func (d *Dense) Zero() {
	clear(d.data)
}

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	return &Dense{shape: slices.Clone(d.shape), data: slices.Clone(d.data)}
}

// CopyFrom copies src's contents into d. Shapes must match exactly.
func (d *Dense) CopyFrom(src *Dense) {
	if !slices.Equal(d.shape, src.shape) {
		panic(fmt.Sprintf("tensor: copy shape mismatch %v vs %v", d.shape, src.shape))
	}

	copy(d.data, src.data)
}

// Reshape returns a view with a new shape sharing the backing slice. The
// element count must be unchanged.
func (d *Dense) Reshape(shape ...int) *Dense {
	checkShape(shape)

	if sizeOf(shape) != len(d.data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v (%d elements) to %v", d.shape, len(d.data), shape))
	}

	return &Dense{shape: slices.Clone(shape), data: d.data}
}

// SliceLead returns the leading-axis view [start, stop) sharing the backing
// slice. Trailing axes are untouched, so any chunk produced this way keeps
// whole trailing blocks contiguous.
func (d *Dense) SliceLead(start, stop int) *Dense {
	lead := d.shape[0]
	if start < 0 || stop > lead || start >= stop {
		panic(fmt.Sprintf("tensor: lead slice [%d,%d) out of range [0,%d)", start, stop, lead))
	}

	block := len(d.data) / lead
	shape := slices.Clone(d.shape)
	shape[0] = stop - start

	return &Dense{shape: shape, data: d.data[start*block : stop*block]}
}

// Scale multiplies every element by alpha.
func (d *Dense) Scale(alpha float64) {
	for i := range d.data {
		d.data[i] *= alpha
	}
}

// AddScaled accumulates alpha*src into d elementwise. Shapes must match.
func (d *Dense) AddScaled(src *Dense, alpha float64) {
	if !slices.Equal(d.shape, src.shape) {
		panic(fmt.Sprintf("tensor: add shape mismatch %v vs %v", d.shape, src.shape))
	}

	for i, v := range src.data {
		d.data[i] += alpha * v
	}
}

// EqualApprox reports whether two tensors have identical shapes and all
// elements within tol of each other.
func (d *Dense) EqualApprox(o *Dense, tol float64) bool {
	if !slices.Equal(d.shape, o.shape) {
		return false
	}

	for i, v := range d.data {
		if math.Abs(v-o.data[i]) > tol {
			return false
		}
	}

	return true
}

// MaxAbsDiff returns the largest elementwise absolute difference. Shapes
// must match.
func MaxAbsDiff(a, b *Dense) float64 {
	if !slices.Equal(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: diff shape mismatch %v vs %v", a.shape, b.shape))
	}

	var m float64

	for i, v := range a.data {
		if d := math.Abs(v - b.data[i]); d > m {
			m = d
		}
	}

	return m
}
