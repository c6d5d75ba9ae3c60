package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

func TestBiorthogonalize_WeightedSwap_MatchesManual(t *testing.T) {
	t.Parallel()

	src := tensor.NewFromData([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2)

	out := Biorthogonalize(src, 0.5, 1.3, 0.7)

	// coef 0.5*(1.3+0.7) = 1 on the identity, -0.5*0.7 on the swap.
	want := []float64{
		1 - 0.35*1, 2 - 0.35*3, 3 - 0.35*2, 4 - 0.35*4,
		5 - 0.35*5, 6 - 0.35*7, 7 - 0.35*6, 8 - 0.35*8,
	}

	assert.InDeltaSlice(t, want, out.Data(), 1e-15)
}

func TestBiorthogonalize_ZeroSameSpin_PureScale(t *testing.T) {
	t.Parallel()

	src := tensor.NewFromData([]float64{1, 2, 3, 4}, 1, 2, 2)

	out := Biorthogonalize(src, 0.4364, 1, 0)

	want := []float64{0.4364 * 1, 0.4364 * 2, 0.4364 * 3, 0.4364 * 4}

	assert.Equal(t, want, out.Data())
}

func TestBiorthogonalize_InputUntouched(t *testing.T) {
	t.Parallel()

	src := tensor.NewFromData([]float64{1, 2, 3, 4}, 2, 2)

	_ = Biorthogonalize(src, 1, 1, 1)

	assert.Equal(t, []float64{1, 2, 3, 4}, src.Data())
}

func TestBlockHelpers_CopyAndSetRoundTrip(t *testing.T) {
	t.Parallel()

	m := tensor.New(4, 5)
	for i := range 4 {
		for j := range 5 {
			m.Set(float64(i*5+j), i, j)
		}
	}

	rows := batch.Span{Start: 1, Stop: 3}
	cls := batch.Span{Start: 2, Stop: 5}

	sub := block(m, rows, cls)

	require.Equal(t, []int{2, 3}, sub.Shape())
	assert.Equal(t, []float64{7, 8, 9, 12, 13, 14}, sub.Data())

	colOnly := cols(m, batch.Span{Start: 1, Stop: 3})

	require.Equal(t, []int{4, 2}, colOnly.Shape())
	assert.Equal(t, []float64{1, 2, 6, 7, 11, 12, 16, 17}, colOnly.Data())

	dst := tensor.New(4, 5)
	setBlock(dst, rows, cls, sub)

	assert.InDelta(t, 0, dst.At(0, 0), 0)
	assert.InDelta(t, 7, dst.At(1, 2), 0)
	assert.InDelta(t, 14, dst.At(2, 4), 0)
	assert.InDelta(t, 0, dst.At(3, 4), 0)
}

func TestStackBlockHelpers_PerLeadSlice(t *testing.T) {
	t.Parallel()

	stacked := tensor.New(2, 4, 5)
	for l := range 2 {
		for i := range 4 {
			for j := range 5 {
				stacked.Set(float64(l*100+i*5+j), l, i, j)
			}
		}
	}

	rows := batch.Span{Start: 1, Stop: 3}
	cls := batch.Span{Start: 2, Stop: 5}

	sub := stackBlock(stacked, rows, cls)

	require.Equal(t, []int{2, 2, 3}, sub.Shape())
	assert.Equal(t, []float64{7, 8, 9, 12, 13, 14}, sub.SliceLead(0, 1).Data())
	assert.Equal(t, []float64{107, 108, 109, 112, 113, 114}, sub.SliceLead(1, 2).Data())

	dst := tensor.New(2, 4, 5)
	setStackBlock(dst, rows, cls, sub)

	assert.InDelta(t, 107, dst.At(1, 1, 2), 0)
	assert.InDelta(t, 14, dst.At(0, 2, 4), 0)
	assert.InDelta(t, 0, dst.At(1, 0, 0), 0)
}

func TestAuxColumn_CopyAndSetRoundTrip(t *testing.T) {
	t.Parallel()

	src := tensor.New(3, 2, 4)
	for p := range 3 {
		for n := range 2 {
			for k := range 4 {
				src.Set(float64(p*8+n*4+k), p, n, k)
			}
		}
	}

	col := auxColumn(src, 1)

	require.Equal(t, []int{3, 4}, col.Shape())
	assert.Equal(t, []float64{4, 5, 6, 7, 12, 13, 14, 15, 20, 21, 22, 23}, col.Data())

	dst := tensor.New(3, 2, 4)
	setAuxColumn(dst, 1, col)

	assert.InDelta(t, 0, dst.At(0, 0, 0), 0)
	assert.InDelta(t, 13, dst.At(1, 1, 1), 0)
	assert.InDelta(t, 23, dst.At(2, 1, 3), 0)
}

func TestAmplitudeLayout_GatherScatterRoundTrip(t *testing.T) {
	t.Parallel()

	const (
		nocc = 3
		nvir = 2
	)

	src := make([]float64, nocc*nvir*nvir)
	for i := range src {
		src[i] = float64(i + 1)
	}

	m := toAJB(src, nocc, nvir)

	require.Equal(t, []int{nvir, nocc * nvir}, m.Shape())
	assert.Equal(t, []float64{1, 2, 5, 6, 9, 10}, m.Data()[:6])
	assert.Equal(t, []float64{3, 4, 7, 8, 11, 12}, m.Data()[6:])

	dst := make([]float64, len(src))
	addAJB(dst, m, nocc, nvir)

	assert.Equal(t, src, dst)

	addAJB(dst, m, nocc, nvir)

	assert.InDelta(t, 2*src[5], dst[5], 0)
}

func TestDot_SumsElementwiseProducts(t *testing.T) {
	t.Parallel()

	a := tensor.NewFromData([]float64{1, 2, 3, 4}, 2, 2)
	b := tensor.NewFromData([]float64{5, -1, 0.5, 2}, 2, 2)

	assert.InDelta(t, 5-2+1.5+8, dot(a, b), 1e-15)
}

func TestAddBlock_AccumulatesScaled(t *testing.T) {
	t.Parallel()

	m := tensor.New(3, 3)
	src := tensor.NewFromData([]float64{1, 2, 3, 4}, 2, 2)
	span := batch.Span{Start: 1, Stop: 3}

	addBlock(m, span, span, src, 2)
	addBlock(m, span, span, src, -0.5)

	assert.InDelta(t, 0, m.At(0, 0), 0)
	assert.InDelta(t, 1.5, m.At(1, 1), 1e-15)
	assert.InDelta(t, 6, m.At(2, 2), 1e-15)
}
