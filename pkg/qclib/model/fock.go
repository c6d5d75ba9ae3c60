package model

import (
	"context"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

var _ qclib.Engine = (*Engine)(nil)

// DipoleAO returns the model dipole integrals, [3, nao, nao].
func (e *Engine) DipoleAO(ctx context.Context) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return e.dip.Clone(), nil
}

// NAux reports the auxiliary basis dimension.
func (e *Engine) NAux() int {
	return e.prm.NAux
}

// RIBlock returns auxiliary rows [rows.Start, rows.Stop) of the whitened
// three-center factor, [rows.Len(), nao, nao].
func (e *Engine) RIBlock(ctx context.Context, rows batch.Span) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rows.Start < 0 || rows.Stop > e.prm.NAux || rows.Start >= rows.Stop {
		return nil, fmt.Errorf("model: ri rows [%d, %d) outside [0, %d)", rows.Start, rows.Stop, e.prm.NAux)
	}

	return e.ri.SliceLead(rows.Start, rows.Stop).Clone(), nil
}

// FockMO builds the MO-basis Fock matrix of xc at the reference density.
func (e *Engine) FockMO(ctx context.Context, ref *qclib.Reference, xc string) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params, err := parseXC(xc)
	if err != nil {
		return nil, err
	}

	d := e.density(ref.MOCoeffs, ref.NOcc)

	return e.con.Transform(e.fockAO(d, params), ref.MOCoeffs), nil
}

// Ax0Core returns the restricted orbital response operator of xc: trial
// blocks over MO ranges [r, s] map to contractions over [p, q],
//
//	A(X)_pq = Cᵖᵀ [4·J(dm) - cx·(K(dm)+K(dm)ᵀ) + fxc(dm)] Cq,
//	dm      = Cr·X·Csᵀ + transpose.
//
// Grid quantities of gradient-corrected functionals are evaluated once at
// the reference density and captured by the returned closure.
func (e *Engine) Ax0Core(ctx context.Context, ref *qclib.Reference, p, q, r, s batch.Span, xc string) (qclib.ResponseFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params, err := parseXC(xc)
	if err != nil {
		return nil, err
	}

	for _, span := range []batch.Span{p, q, r, s} {
		if span.Start < 0 || span.Stop > ref.NMO || span.Start >= span.Stop {
			return nil, fmt.Errorf("model: mo span [%d, %d) outside [0, %d)", span.Start, span.Stop, ref.NMO)
		}
	}

	cp := cols(ref.MOCoeffs, p.Start, p.Stop)
	cq := cols(ref.MOCoeffs, q.Start, q.Stop)
	cr := cols(ref.MOCoeffs, r.Start, r.Stop)
	cs := cols(ref.MOCoeffs, s.Start, s.Stop)

	var rho0, vxc, fxc *tensor.Dense

	if params.gga {
		rho0 = e.evalRhoOne(e.density(ref.MOCoeffs, ref.NOcc))
		vxc = evalXCAt(params, rho0, 1)
		fxc = evalXCAt(params, rho0, 2)
	}

	rLen, sLen := r.Len(), s.Len()
	pLen, qLen := p.Len(), q.Len()

	apply := func(x *tensor.Dense) (*tensor.Dense, error) {
		shape := x.Shape()
		if len(shape) < 2 || shape[len(shape)-2] != rLen || shape[len(shape)-1] != sLen {
			return nil, fmt.Errorf("model: trial shape %v does not end in [%d, %d]", shape, rLen, sLen)
		}

		lead := x.Size() / (rLen * sLen)
		flat := x.Reshape(lead, rLen, sLen)

		outShape := append(slices.Clone(shape[:len(shape)-2]), pLen, qLen)
		out := tensor.New(outShape...)
		flatOut := out.Reshape(lead, pLen, qLen)

		for l := range lead {
			xl := flat.SliceLead(l, l+1).Reshape(rLen, sLen)

			dm := e.con.MatMulNT(e.con.MatMul(cr, xl), cs)
			dm.AddScaled(tensor.TransposeLast2(dm), 1)

			a := e.coulomb(dm)
			a.Scale(4)

			if params.cx != 0 {
				k := e.exchange(dm)
				a.AddScaled(k, -params.cx)
				a.AddScaled(tensor.TransposeLast2(k), -params.cx)
			}

			if params.gga {
				rho1 := e.evalRhoOne(dm)
				v := e.contractWV(ggaWV1(rho0, rho1, vxc, fxc, e.weights))
				a.AddScaled(v, 1)
				a.AddScaled(tensor.TransposeLast2(v), 1)
			}

			amo := e.con.MatMulT(cp, e.con.MatMul(a, cq))
			copy(flatOut.SliceLead(l, l+1).Data(), amo.Data())
		}

		return out, nil
	}

	return apply, nil
}

// ggaWV1 builds the first-order grid weight vector of the fxc response for
// one perturbed density.
func ggaWV1(rho0, rho1, vxc, fxc *tensor.Dense, weights []float64) *tensor.Dense {
	ngrid := len(weights)
	wv := tensor.New(4, ngrid)

	for g := range ngrid {
		sigma1 := 2 * (rho0.At(1, g)*rho1.At(1, g) + rho0.At(2, g)*rho1.At(2, g) + rho0.At(3, g)*rho1.At(3, g))

		frr, frg, fgg := fxc.At(0, g), fxc.At(1, g), fxc.At(2, g)
		vgamma := vxc.At(1, g)

		wv.Set(0.5*weights[g]*(frr*rho1.At(0, g)+frg*sigma1), 0, g)

		for r := 1; r < 4; r++ {
			val := (fgg*sigma1+frg*rho1.At(0, g))*rho0.At(r, g) + vgamma*rho1.At(r, g)
			wv.Set(2*weights[g]*val, r, g)
		}
	}

	return wv
}
