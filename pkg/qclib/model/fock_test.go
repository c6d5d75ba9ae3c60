package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

func TestDipoleAO_ReturnsIndependentCopy(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	first, err := eng.DipoleAO(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{3, 8, 8}, first.Shape())

	first.Set(1e6, 0, 0, 0)

	second, err := eng.DipoleAO(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.At(0, 0, 0), second.At(0, 0, 0))
}

func TestRIBlock_StitchedBlocksMatchFullRange(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	ctx := context.Background()

	full, err := eng.RIBlock(ctx, batch.Span{Start: 0, Stop: eng.NAux()})
	require.NoError(t, err)
	require.Equal(t, []int{12, 8, 8}, full.Shape())

	head, err := eng.RIBlock(ctx, batch.Span{Start: 0, Stop: 5})
	require.NoError(t, err)

	tail, err := eng.RIBlock(ctx, batch.Span{Start: 5, Stop: 12})
	require.NoError(t, err)

	assert.Equal(t, full.Data()[:5*64], head.Data())
	assert.Equal(t, full.Data()[5*64:], tail.Data())
}

func TestRIBlock_OutOfRange_Error(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	_, err = eng.RIBlock(context.Background(), batch.Span{Start: 4, Stop: 13})
	require.Error(t, err)

	_, err = eng.RIBlock(context.Background(), batch.Span{Start: 3, Stop: 3})
	require.Error(t, err)
}

func TestFockMO_AtConvergence_DiagonalWithOrbitalEnergies(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	ctx := context.Background()

	for _, xc := range []string{"HF", "B3LYPg"} {
		ref, err := eng.RunSCF(ctx, xc)
		require.NoError(t, err)

		fmo, err := eng.FockMO(ctx, ref, xc)
		require.NoError(t, err)
		require.Equal(t, []int{8, 8}, fmo.Shape())

		for p := range 8 {
			for q := range 8 {
				if p == q {
					assert.InDelta(t, ref.MOEnergies[p], fmo.At(p, p), 1e-6)
				} else {
					assert.InDelta(t, 0, fmo.At(p, q), 1e-6)
				}
			}
		}
	}
}

func TestAx0Core_SymmetricTrial_SymmetricResponse(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	ctx := context.Background()

	ref, err := eng.RunSCF(ctx, "B3LYPg")
	require.NoError(t, err)

	full := ref.FullSpan()

	apply, err := eng.Ax0Core(ctx, ref, full, full, full, full, "B3LYPg")
	require.NoError(t, err)

	x := tensor.New(8, 8)
	for p := range 8 {
		for q := p; q < 8; q++ {
			val := 0.02 * float64(p+2*q+1)
			x.Set(val, p, q)
			x.Set(val, q, p)
		}
	}

	ax, err := apply(x)
	require.NoError(t, err)
	require.Equal(t, []int{8, 8}, ax.Shape())

	for p := range 8 {
		for q := range 8 {
			assert.InDelta(t, ax.At(p, q), ax.At(q, p), 1e-10)
		}
	}
}

func TestAx0Core_Linearity(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	ctx := context.Background()

	ref, err := eng.RunSCF(ctx, "B3LYPg")
	require.NoError(t, err)

	vo := batch.Span{Start: ref.NOcc, Stop: ref.NMO}
	oo := batch.Span{Start: 0, Stop: ref.NOcc}

	apply, err := eng.Ax0Core(ctx, ref, vo, oo, vo, oo, "B3LYPg")
	require.NoError(t, err)

	x := tensor.New(ref.NVir, ref.NOcc)
	for i := range x.Data() {
		x.Data()[i] = 0.03 * float64(i+1)
	}

	ax, err := apply(x)
	require.NoError(t, err)

	scaled := x.Clone()
	scaled.Scale(2.5)

	axScaled, err := apply(scaled)
	require.NoError(t, err)

	for i := range ax.Data() {
		assert.InDelta(t, 2.5*ax.Data()[i], axScaled.Data()[i], 1e-10)
	}
}

func TestAx0Core_StackedSets_MatchPerSetApplies(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	ctx := context.Background()

	ref, err := eng.RunSCF(ctx, "HF")
	require.NoError(t, err)

	vo := batch.Span{Start: ref.NOcc, Stop: ref.NMO}
	oo := batch.Span{Start: 0, Stop: ref.NOcc}

	apply, err := eng.Ax0Core(ctx, ref, vo, oo, vo, oo, "HF")
	require.NoError(t, err)

	stacked := tensor.New(2, ref.NVir, ref.NOcc)
	for i := range stacked.Data() {
		stacked.Data()[i] = 0.01*float64(i) - 0.07
	}

	axStacked, err := apply(stacked)
	require.NoError(t, err)
	require.Equal(t, []int{2, ref.NVir, ref.NOcc}, axStacked.Shape())

	for l := range 2 {
		single, err := apply(stacked.SliceLead(l, l+1).Reshape(ref.NVir, ref.NOcc).Clone())
		require.NoError(t, err)

		assert.Equal(t, axStacked.SliceLead(l, l+1).Data(), single.Data())
	}
}

func TestAx0Core_BadSpanOrTrialShape_Errors(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	ctx := context.Background()

	ref, err := eng.RunSCF(ctx, "HF")
	require.NoError(t, err)

	full := ref.FullSpan()

	_, err = eng.Ax0Core(ctx, ref, full, full, full, batch.Span{Start: 0, Stop: 9}, "HF")
	require.Error(t, err)

	apply, err := eng.Ax0Core(ctx, ref, full, full, full, full, "HF")
	require.NoError(t, err)

	_, err = apply(tensor.New(3, 3))
	require.Error(t, err)
}
