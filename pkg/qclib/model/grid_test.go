package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

func TestXCType_ClassifiesByGridComponent(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	hf, err := eng.XCType("HF")
	require.NoError(t, err)
	assert.Equal(t, qclib.XCTypeHF, hf)

	gga, err := eng.XCType("B3LYPg")
	require.NoError(t, err)
	assert.Equal(t, qclib.XCTypeGGA, gga)

	_, err = eng.XCType("WAT")
	require.Error(t, err)
}

func TestGridWeights_ReturnsCopy(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	w := eng.GridWeights()
	w[0] = -100

	assert.NotEqual(t, w[0], eng.GridWeights()[0])
}

func TestEvalRho_MatchesExplicitSums(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	nao := eng.prm.NAO

	dm := tensor.New(nao, nao)
	for u := range nao {
		for v := u; v < nao; v++ {
			val := 0.1 * float64(u+v+1)
			dm.Set(val, u, v)
			dm.Set(val, v, u)
		}
	}

	rho, err := eng.EvalRho(context.Background(), dm)
	require.NoError(t, err)
	require.Equal(t, []int{4, eng.prm.NGrid}, rho.Shape())

	for g := range eng.prm.NGrid {
		var want float64
		for u := range nao {
			for v := range nao {
				want += eng.ao0.At(g, u) * dm.At(u, v) * eng.ao0.At(g, v)
			}
		}

		assert.InDelta(t, want, rho.At(0, g), 1e-12)

		for r := range 3 {
			var grad float64
			for u := range nao {
				for v := range nao {
					grad += eng.aoGrad.At(r, g, u) * dm.At(u, v) * eng.ao0.At(g, v)
				}
			}

			assert.InDelta(t, 2*grad, rho.At(r+1, g), 1e-12)
		}
	}
}

func TestEvalRho_StackedSets_IndependentRows(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	nao := eng.prm.NAO

	dms := tensor.New(2, nao, nao)
	for u := range nao {
		dms.Set(1, 0, u, u)
		dms.Set(2, 1, u, u)
	}

	rho, err := eng.EvalRho(context.Background(), dms)
	require.NoError(t, err)
	require.Equal(t, []int{2, 4, eng.prm.NGrid}, rho.Shape())

	for g := range eng.prm.NGrid {
		assert.InDelta(t, 2*rho.At(0, 0, g), rho.At(1, 0, g), 1e-12)
	}
}

func TestEvalRho_BadShape_Error(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	_, err = eng.EvalRho(context.Background(), tensor.New(3, 3))
	require.Error(t, err)
}

// testRho builds a single-point density row with chosen value and gradient.
func testRho(r, gx, gy, gz float64) *tensor.Dense {
	rho := tensor.New(4, 1)
	rho.Set(r, 0, 0)
	rho.Set(gx, 1, 0)
	rho.Set(gy, 2, 0)
	rho.Set(gz, 3, 0)

	return rho
}

func TestEvalXC_DerivativeOrders_FiniteDifferenceConsistent(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	ctx := context.Background()
	xc := "B3LYPg"

	const (
		r0 = 0.8
		h  = 1e-4
	)

	base := testRho(r0, 0.3, -0.2, 0.1)
	up := testRho(r0+h, 0.3, -0.2, 0.1)
	down := testRho(r0-h, 0.3, -0.2, 0.1)

	d1Up, err := eng.EvalXC(ctx, xc, up, 1)
	require.NoError(t, err)
	d1Down, err := eng.EvalXC(ctx, xc, down, 1)
	require.NoError(t, err)

	d2, err := eng.EvalXC(ctx, xc, base, 2)
	require.NoError(t, err)
	d2Up, err := eng.EvalXC(ctx, xc, up, 2)
	require.NoError(t, err)
	d2Down, err := eng.EvalXC(ctx, xc, down, 2)
	require.NoError(t, err)

	d3, err := eng.EvalXC(ctx, xc, base, 3)
	require.NoError(t, err)

	// ∂vρ/∂ρ against fρρ, ∂vσ/∂ρ against fρσ.
	assert.InDelta(t, (d1Up.At(0, 0)-d1Down.At(0, 0))/(2*h), d2.At(0, 0), 1e-7)
	assert.InDelta(t, (d1Up.At(1, 0)-d1Down.At(1, 0))/(2*h), d2.At(1, 0), 1e-7)

	// ∂fρρ/∂ρ against fρρρ, ∂fρσ/∂ρ against fρρσ.
	assert.InDelta(t, (d2Up.At(0, 0)-d2Down.At(0, 0))/(2*h), d3.At(0, 0), 1e-7)
	assert.InDelta(t, (d2Up.At(1, 0)-d2Down.At(1, 0))/(2*h), d3.At(1, 0), 1e-7)

	// Pure σ derivatives of the polynomial model vanish identically.
	assert.Zero(t, d2.At(2, 0))
	assert.Zero(t, d3.At(2, 0))
	assert.Zero(t, d3.At(3, 0))
}

func TestEvalXC_PureExchange_Error(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	_, err = eng.EvalXC(context.Background(), "HF", testRho(0.5, 0, 0, 0), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no grid kernel")
}

func TestEvalXC_BadDerivOrder_Error(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	_, err = eng.EvalXC(context.Background(), "B3LYPg", testRho(0.5, 0, 0, 0), 4)
	require.Error(t, err)
}

func TestContractWV_MatchesExplicitSums(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	ngrid, nao := eng.prm.NGrid, eng.prm.NAO

	wv := tensor.New(4, ngrid)
	for row := range 4 {
		for g := range ngrid {
			wv.Set(0.01*float64(row+1)*float64(g+1), row, g)
		}
	}

	v, err := eng.ContractWV(context.Background(), wv)
	require.NoError(t, err)
	require.Equal(t, []int{nao, nao}, v.Shape())

	for u := range nao {
		for w := range nao {
			var want float64
			for g := range ngrid {
				want += wv.At(0, g) * eng.ao0.At(g, u) * eng.ao0.At(g, w)
				for r := range 3 {
					want += wv.At(r+1, g) * eng.aoGrad.At(r, g, u) * eng.ao0.At(g, w)
				}
			}

			assert.InDelta(t, want, v.At(u, w), 1e-12)
		}
	}
}

func TestContractWV_BadShape_Error(t *testing.T) {
	t.Parallel()

	eng, err := New(DefaultParams())
	require.NoError(t, err)

	_, err = eng.ContractWV(context.Background(), tensor.New(4, 5))
	require.Error(t, err)
}
