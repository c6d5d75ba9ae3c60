package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ZeroFilled(t *testing.T) {
	t.Parallel()

	d := New(2, 3, 4)
	assert.Equal(t, []int{2, 3, 4}, d.Shape())
	assert.Equal(t, 24, d.Size())
	assert.Equal(t, 3, d.Dims())
	assert.Equal(t, 4, d.Dim(2))

	for _, v := range d.Data() {
		assert.Zero(t, v)
	}
}

func TestNew_InvalidShape_Panics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New() })
	assert.Panics(t, func() { New(3, 0) })
	assert.Panics(t, func() { New(-1) })
}

func TestNewFromData_WrapsWithoutCopy(t *testing.T) {
	t.Parallel()

	data := []float64{1, 2, 3, 4, 5, 6}
	d := NewFromData(data, 2, 3)

	data[0] = 42
	assert.Equal(t, 42.0, d.At(0, 0))

	assert.Panics(t, func() { NewFromData(data, 2, 2) })
}

func TestAtSet_RowMajorLayout(t *testing.T) {
	t.Parallel()

	d := New(2, 3)
	d.Set(7, 1, 2)

	// Row-major: [1][2] is flat offset 1*3+2 = 5.
	assert.Equal(t, 7.0, d.Data()[5])
	assert.Equal(t, 7.0, d.At(1, 2))

	assert.Panics(t, func() { d.At(2, 0) })
	assert.Panics(t, func() { d.At(0) })
}

func TestClone_Independent(t *testing.T) {
	t.Parallel()

	d := NewFromData([]float64{1, 2, 3, 4}, 2, 2)
	c := d.Clone()

	c.Set(99, 0, 0)
	assert.Equal(t, 1.0, d.At(0, 0))
	assert.Equal(t, 99.0, c.At(0, 0))
}

func TestZero_ClearsInPlace(t *testing.T) {
	t.Parallel()

	d := NewFromData([]float64{1, 2, 3, 4}, 4)
	d.Zero()

	for _, v := range d.Data() {
		assert.Zero(t, v)
	}
}

func TestCopyFrom_RequiresMatchingShape(t *testing.T) {
	t.Parallel()

	dst := New(2, 2)
	dst.CopyFrom(NewFromData([]float64{1, 2, 3, 4}, 2, 2))
	assert.Equal(t, 4.0, dst.At(1, 1))

	assert.Panics(t, func() { dst.CopyFrom(New(4)) })
}

func TestReshape_SharesBacking(t *testing.T) {
	t.Parallel()

	d := NewFromData([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	r := d.Reshape(3, 2)

	r.Set(42, 2, 1)
	assert.Equal(t, 42.0, d.At(1, 2))

	assert.Panics(t, func() { d.Reshape(4, 2) })
}

func TestSliceLead_ViewSemantics(t *testing.T) {
	t.Parallel()

	d := NewFromData([]float64{
		1, 2,
		3, 4,
		5, 6,
	}, 3, 2)

	v := d.SliceLead(1, 3)
	assert.Equal(t, []int{2, 2}, v.Shape())
	assert.Equal(t, 3.0, v.At(0, 0))
	assert.Equal(t, 6.0, v.At(1, 1))

	// Mutation through the view is visible in the parent.
	v.Set(-1, 0, 1)
	assert.Equal(t, -1.0, d.At(1, 1))

	assert.Panics(t, func() { d.SliceLead(2, 2) })
	assert.Panics(t, func() { d.SliceLead(0, 4) })
}

func TestScaleAddScaled(t *testing.T) {
	t.Parallel()

	d := NewFromData([]float64{1, 2}, 2)
	d.Scale(3)
	assert.Equal(t, []float64{3, 6}, d.Data())

	d.AddScaled(NewFromData([]float64{1, 1}, 2), 0.5)
	assert.Equal(t, []float64{3.5, 6.5}, d.Data())

	assert.Panics(t, func() { d.AddScaled(New(3), 1) })
}

func TestEqualApprox(t *testing.T) {
	t.Parallel()

	a := NewFromData([]float64{1, 2, 3}, 3)
	b := NewFromData([]float64{1, 2, 3.0000001}, 3)

	assert.True(t, a.EqualApprox(b, 1e-6))
	assert.False(t, a.EqualApprox(b, 1e-9))
	assert.False(t, a.EqualApprox(New(4), 1))

	require.InDelta(t, 1e-7, MaxAbsDiff(a, b), 1e-12)
}
