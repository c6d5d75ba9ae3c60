package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pathTol = 1e-12

// fill populates a tensor with a deterministic non-trivial pattern.
func fill(d *Dense, seed int) *Dense {
	for i := range d.Data() {
		d.Data()[i] = float64(((i+seed)*13)%17) / 4.0
	}

	return d
}

func TestNewContractor_ResolvesPathOnce(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PathNaive, NewContractor(false).Path())
	assert.Equal(t, PathBLAS, NewContractor(true).Path())
	assert.Equal(t, "naive", PathNaive.String())
	assert.Equal(t, "blas", PathBLAS.String())
}

func TestMatMul_KnownProduct(t *testing.T) {
	t.Parallel()

	a := NewFromData([]float64{1, 2, 3, 4}, 2, 2)
	b := NewFromData([]float64{5, 6, 7, 8}, 2, 2)

	// [[1*5+2*7, 1*6+2*8], [3*5+4*7, 3*6+4*8]] = [[19,22],[43,50]].
	got := NewContractor(false).MatMul(a, b)
	assert.Equal(t, []float64{19, 22, 43, 50}, got.Data())
}

func TestMatMul_PathsAgree(t *testing.T) {
	t.Parallel()

	a := fill(New(3, 5), 1)
	b := fill(New(5, 4), 2)

	naive := NewContractor(false).MatMul(a, b)
	blas := NewContractor(true).MatMul(a, b)
	assert.True(t, naive.EqualApprox(blas, pathTol))
}

func TestMatMulT_PathsAgree(t *testing.T) {
	t.Parallel()

	a := fill(New(5, 3), 3)
	b := fill(New(5, 4), 4)

	naive := NewContractor(false).MatMulT(a, b)
	blas := NewContractor(true).MatMulT(a, b)

	require.Equal(t, []int{3, 4}, naive.Shape())
	assert.True(t, naive.EqualApprox(blas, pathTol))
}

func TestMatMulNT_PathsAgree(t *testing.T) {
	t.Parallel()

	a := fill(New(3, 5), 5)
	b := fill(New(4, 5), 6)

	naive := NewContractor(false).MatMulNT(a, b)
	blas := NewContractor(true).MatMulNT(a, b)

	require.Equal(t, []int{3, 4}, naive.Shape())
	assert.True(t, naive.EqualApprox(blas, pathTol))
}

func TestMatMulT_MatchesExplicitTranspose(t *testing.T) {
	t.Parallel()

	c := NewContractor(false)
	a := fill(New(4, 2), 7)
	b := fill(New(4, 3), 8)

	viaT := c.MatMulT(a, b)
	explicit := c.MatMul(TransposeLast2(a), b)
	assert.True(t, viaT.EqualApprox(explicit, pathTol))
}

func TestTransform_BasisChange(t *testing.T) {
	t.Parallel()

	// Identity basis leaves the matrix unchanged.
	c := NewContractor(false)
	m := fill(New(2, 3, 3), 9)
	eye := NewFromData([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, 3, 3)

	got := c.Transform(m, eye)
	assert.True(t, got.EqualApprox(m, pathTol))
}

func TestTransform_RectangularBasis_PathsAgree(t *testing.T) {
	t.Parallel()

	m := fill(New(3, 4, 4), 10)
	basis := fill(New(4, 2), 11)

	naive := NewContractor(false).Transform(m, basis)
	blas := NewContractor(true).Transform(m, basis)

	require.Equal(t, []int{3, 2, 2}, naive.Shape())
	assert.True(t, naive.EqualApprox(blas, pathTol))
}

func TestContractor_DimensionMismatches_Panic(t *testing.T) {
	t.Parallel()

	c := NewContractor(false)

	assert.Panics(t, func() { c.MatMul(New(2, 3), New(2, 3)) })
	assert.Panics(t, func() { c.MatMulT(New(2, 3), New(3, 2)) })
	assert.Panics(t, func() { c.MatMulNT(New(2, 3), New(2, 4)) })
	assert.Panics(t, func() { c.MatMul(New(2), New(2, 2)) })
	assert.Panics(t, func() { c.Transform(New(2, 3, 3), New(4, 2)) })
}
