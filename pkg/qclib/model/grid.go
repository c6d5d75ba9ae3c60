package model

import (
	"context"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// NGrid reports the model grid size.
func (e *Engine) NGrid() int {
	return e.prm.NGrid
}

// GridWeights returns a copy of the quadrature weights.
func (e *Engine) GridWeights() []float64 {
	return slices.Clone(e.weights)
}

// XCType classifies a functional string: pure exact exchange against
// anything with a grid component.
func (e *Engine) XCType(xc string) (qclib.XCType, error) {
	params, err := parseXC(xc)
	if err != nil {
		return 0, err
	}

	if params.gga {
		return qclib.XCTypeGGA, nil
	}

	return qclib.XCTypeHF, nil
}

// EvalRho maps symmetric AO density matrices [..., nao, nao] to density
// values and gradients on the grid, [..., 4, ngrid].
func (e *Engine) EvalRho(ctx context.Context, dms *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nao := e.prm.NAO

	shape := dms.Shape()
	if len(shape) < 2 || shape[len(shape)-1] != nao || shape[len(shape)-2] != nao {
		return nil, fmt.Errorf("model: density shape %v does not end in [%d, %d]", shape, nao, nao)
	}

	lead := dms.Size() / (nao * nao)
	flat := dms.Reshape(append([]int{lead}, nao, nao)...)

	outShape := append(slices.Clone(shape[:len(shape)-2]), 4, e.prm.NGrid)
	out := tensor.New(outShape...)
	flatOut := out.Reshape(lead, 4, e.prm.NGrid)

	for l := range lead {
		rho := e.evalRhoOne(flat.SliceLead(l, l+1).Reshape(nao, nao))
		copy(flatOut.SliceLead(l, l+1).Data(), rho.Data())
	}

	return out, nil
}

// evalRhoOne computes [4, ngrid] density rows for one symmetric AO density
// matrix: ρ(g) = φᵀDφ and ∇ρ(g) = 2·∇φᵀDφ.
func (e *Engine) evalRhoOne(dm *tensor.Dense) *tensor.Dense {
	ngrid := e.prm.NGrid
	rho := tensor.New(4, ngrid)

	phiD := e.con.MatMul(e.ao0, dm)
	rowDot(rho.SliceLead(0, 1).Data(), phiD, e.ao0, 1)

	for r := range 3 {
		gradD := e.con.MatMul(e.gradRow(r), dm)
		rowDot(rho.SliceLead(r+1, r+2).Data(), gradD, e.ao0, 2)
	}

	return rho
}

// rowDot writes scale·Σ_u a[g,u]·b[g,u] per grid row.
func rowDot(dst []float64, a, b *tensor.Dense, scale float64) {
	rows, nc := a.Dim(0), a.Dim(1)
	ad, bd := a.Data(), b.Data()

	for g := range rows {
		var sum float64
		for u := range nc {
			sum += ad[g*nc+u] * bd[g*nc+u]
		}

		dst[g] = scale * sum
	}
}

// gradRow views one Cartesian component of the orbital gradients as
// [ngrid, nao].
func (e *Engine) gradRow(r int) *tensor.Dense {
	return e.aoGrad.SliceLead(r, r+1).Reshape(e.prm.NGrid, e.prm.NAO)
}

// EvalXC returns derivative rows of the functional on the grid. rho must
// be a single [4, ngrid] set. Row layout per derivative order: 1 → (vρ,
// vσ); 2 → (fρρ, fρσ, fσσ); 3 → (fρρρ, fρρσ, fρσσ, fσσσ).
func (e *Engine) EvalXC(ctx context.Context, xc string, rho *tensor.Dense, deriv int) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params, err := parseXC(xc)
	if err != nil {
		return nil, err
	}

	if !params.gga {
		return nil, fmt.Errorf("model: pure exchange functional %q has no grid kernel", xc)
	}

	if rho.Dims() != 2 || rho.Dim(0) != 4 {
		return nil, fmt.Errorf("model: rho shape %v, want [4, ngrid]", rho.Shape())
	}

	if deriv < 1 || deriv > 3 {
		return nil, fmt.Errorf("model: unsupported xc derivative order %d", deriv)
	}

	return evalXCAt(params, rho, deriv), nil
}

// evalXCAt evaluates the analytic derivatives of
// f(ρ,σ) = -aρ² - bρσ - cρ³ - eρ²σ pointwise.
func evalXCAt(params xcParams, rho *tensor.Dense, deriv int) *tensor.Dense {
	ngrid := rho.Dim(1)

	rows := map[int]int{1: 2, 2: 3, 3: 4}[deriv]
	out := tensor.New(rows, ngrid)

	for g := range ngrid {
		r := rho.At(0, g)
		sigma := rho.At(1, g)*rho.At(1, g) + rho.At(2, g)*rho.At(2, g) + rho.At(3, g)*rho.At(3, g)

		switch deriv {
		case 1:
			out.Set(-2*params.a*r-params.b*sigma-3*params.c*r*r-2*params.e*r*sigma, 0, g)
			out.Set(-params.b*r-params.e*r*r, 1, g)
		case 2:
			out.Set(-2*params.a-6*params.c*r-2*params.e*sigma, 0, g)
			out.Set(-params.b-2*params.e*r, 1, g)
			// fσσ of the polynomial model vanishes.
		case 3:
			out.Set(-6*params.c, 0, g)
			out.Set(-2*params.e, 1, g)
			// fρσσ and fσσσ vanish.
		}
	}

	return out
}

// ContractWV folds a [4, ngrid] weight vector into the unsymmetrized AO
// matrix Σ_g wv₀φφ + Σ_r Σ_g wv_r ∇φ φ; callers add the transpose.
func (e *Engine) ContractWV(ctx context.Context, wv *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if wv.Dims() != 2 || wv.Dim(0) != 4 || wv.Dim(1) != e.prm.NGrid {
		return nil, fmt.Errorf("model: weight vector shape %v, want [4, %d]", wv.Shape(), e.prm.NGrid)
	}

	return e.contractWV(wv), nil
}

func (e *Engine) contractWV(wv *tensor.Dense) *tensor.Dense {
	v := e.con.MatMulT(scaleRows(e.ao0, wv, 0), e.ao0)

	for r := range 3 {
		v.AddScaled(e.con.MatMulT(scaleRows(e.gradRow(r), wv, r+1), e.ao0), 1)
	}

	return v
}

// scaleRows multiplies every grid row of m by the selected weight row.
func scaleRows(m, wv *tensor.Dense, row int) *tensor.Dense {
	rows, nc := m.Dim(0), m.Dim(1)
	out := m.Clone()
	data := out.Data()

	for g := range rows {
		w := wv.At(row, g)
		for u := range nc {
			data[g*nc+u] *= w
		}
	}

	return out
}
