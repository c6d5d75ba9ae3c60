package tensor

import (
	"fmt"
	"math"
)

// SymmetrizeLast2 adds the tensor's trailing-axis-pair transpose to it in
// place: T[..., i, j] += T[..., j, i] for every leading index. The trailing
// two axes must be square. Callers batching this over a memory budget slice
// the leading axis only (SliceLead), which keeps each trailing matrix a
// contiguous unit inside its chunk.
func SymmetrizeLast2(t *Dense) {
	n, lead := trailingSquare(t)
	block := n * n

	for l := range lead {
		m := t.data[l*block : (l+1)*block]

		for i := range n {
			for j := i + 1; j < n; j++ {
				s := m[i*n+j] + m[j*n+i]
				m[i*n+j] = s
				m[j*n+i] = s
			}

			m[i*n+i] *= 2
		}
	}
}

// TransposeLast2 returns a new tensor with the trailing two axes swapped:
// out[..., i, j] = T[..., j, i]. The trailing axes need not be square.
func TransposeLast2(t *Dense) *Dense {
	if t.Dims() < 2 {
		panic("tensor: trailing-pair transpose needs at least 2 axes")
	}

	rows := t.shape[len(t.shape)-2]
	cols := t.shape[len(t.shape)-1]
	block := rows * cols
	lead := len(t.data) / block

	shape := t.Shape()
	shape[len(shape)-2], shape[len(shape)-1] = cols, rows

	out := New(shape...)

	for l := range lead {
		src := t.data[l*block : (l+1)*block]
		dst := out.data[l*block : (l+1)*block]

		for i := range rows {
			for j := range cols {
				dst[j*rows+i] = src[i*cols+j]
			}
		}
	}

	return out
}

// IsSymmetricLast2 reports whether the tensor is invariant under swapping
// its trailing two axes, within tol.
func IsSymmetricLast2(t *Dense, tol float64) bool {
	n, lead := trailingSquare(t)
	block := n * n

	for l := range lead {
		m := t.data[l*block : (l+1)*block]

		for i := range n {
			for j := i + 1; j < n; j++ {
				if math.Abs(m[i*n+j]-m[j*n+i]) > tol {
					return false
				}
			}
		}
	}

	return true
}

// trailingSquare validates that the trailing two axes form a square matrix
// and returns its order and the flattened leading extent.
func trailingSquare(t *Dense) (n, lead int) {
	if t.Dims() < 2 {
		panic("tensor: trailing-pair symmetry needs at least 2 axes")
	}

	rows := t.shape[len(t.shape)-2]
	cols := t.shape[len(t.shape)-1]

	if rows != cols {
		panic(fmt.Sprintf("tensor: trailing axes %dx%d not square", rows, cols))
	}

	return rows, len(t.data) / (rows * cols)
}
