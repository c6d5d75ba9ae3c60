package response

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// prepareU1 solves the coupled-perturbed equations for all three field
// directions at once and embeds the antisymmetric orbital rotation.
func (d *Driver) prepareU1(ctx context.Context) error {
	if err := d.require(KeyH1MO); err != nil {
		return err
	}

	h1mo, err := d.st.Ref(KeyH1MO)
	if err != nil {
		return err
	}

	apply, err := d.eng.Ax0Core(ctx, d.ref, d.vir(), d.occ(), d.vir(), d.occ(), d.fn.SCF)
	if err != nil {
		return err
	}

	uvo, err := qclib.SolveCPKS(ctx, apply, d.ref, stackBlock(h1mo, d.vir(), d.occ()), d.cpks)
	if err != nil {
		return err
	}

	nmo := d.ref.NMO
	u1 := tensor.New(3, nmo, nmo)
	setStackBlock(u1, d.vir(), d.occ(), uvo)

	uov := tensor.TransposeLast2(uvo)
	uov.Scale(-1)
	setStackBlock(u1, d.occ(), d.vir(), uov)

	return d.st.Create(KeyU1, store.CreateOpts{Data: u1})
}

// prepareDmU maps the orbital responses and the relaxed density to AO
// densities, evaluates them on the grid, and writes the third kernel
// derivative. Grid-only stage.
func (d *Driver) prepareDmU(ctx context.Context) error {
	if err := d.require(KeyU1, KeyDr, KeyRho); err != nil {
		return err
	}

	u1, err := d.st.Ref(KeyU1)
	if err != nil {
		return err
	}

	dr, err := d.st.Ref(KeyDr)
	if err != nil {
		return err
	}

	rho, err := d.st.Ref(KeyRho)
	if err != nil {
		return err
	}

	coeffs := d.ref.MOCoeffs
	nao, nmo := d.ref.NAO, d.ref.NMO
	co := cols(coeffs, d.occ())

	dms := tensor.New(4, nao, nao)

	for a := range 3 {
		u1a := u1.SliceLead(a, a+1).Reshape(nmo, nmo)
		dm := d.con.MatMulNT(d.con.MatMul(coeffs, cols(u1a, d.occ())), co)

		dms.SliceLead(a, a+1).Reshape(nao, nao).CopyFrom(dm)
	}

	dmDr := d.con.MatMulNT(d.con.MatMul(coeffs, dr), coeffs)
	dms.SliceLead(3, 4).Reshape(nao, nao).CopyFrom(dmDr)

	tensor.SymmetrizeLast2(dms)

	rhoX, err := d.eng.EvalRho(ctx, dms)
	if err != nil {
		return err
	}

	kxc, err := d.eng.EvalXC(ctx, d.fn.SCF, rho, 3)
	if err != nil {
		return fmt.Errorf("third kernel derivative: %w", err)
	}

	ngrid := rho.Dim(1)

	if err := d.st.Create(KeyRhoU, store.CreateOpts{Data: rhoX.SliceLead(0, 3).Clone()}); err != nil {
		return err
	}

	rhoDr := rhoX.SliceLead(3, 4).Reshape(4, ngrid).Clone()
	if err := d.st.Create(KeyRhoDr, store.CreateOpts{Data: rhoDr}); err != nil {
		return err
	}

	return d.st.Create(kxcKey(d.fn.SCF), store.CreateOpts{Data: kxc})
}

// preparePolarAx1GGA folds the second-order kernel response of each field
// direction against the orbital-rotation densities. Grid-only stage.
func (d *Driver) preparePolarAx1GGA(ctx context.Context) error {
	keys := []string{KeyU1, KeyRho, KeyRhoU, KeyRhoDr, fxcKey(d.fn.SCF), kxcKey(d.fn.SCF)}
	if err := d.require(keys...); err != nil {
		return err
	}

	u1, err := d.st.Ref(KeyU1)
	if err != nil {
		return err
	}

	rho, err := d.st.Ref(KeyRho)
	if err != nil {
		return err
	}

	rhoU, err := d.st.Ref(KeyRhoU)
	if err != nil {
		return err
	}

	rhoDr, err := d.st.Ref(KeyRhoDr)
	if err != nil {
		return err
	}

	fxc, err := d.st.Ref(fxcKey(d.fn.SCF))
	if err != nil {
		return err
	}

	kxc, err := d.st.Ref(kxcKey(d.fn.SCF))
	if err != nil {
		return err
	}

	coeffs := d.ref.MOCoeffs
	nmo, ngrid := d.ref.NMO, rho.Dim(1)
	co := cols(coeffs, d.occ())
	weights := d.eng.GridWeights()

	// Orbital-rotation AO densities, one per field direction.
	dms := make([]*tensor.Dense, 3)
	for b := range 3 {
		u1b := u1.SliceLead(b, b+1).Reshape(nmo, nmo)
		dms[b] = d.con.MatMulNT(d.con.MatMul(coeffs, cols(u1b, d.occ())), co)
	}

	contrib := tensor.New(3, 3)

	for a := range 3 {
		rhoUA := rhoU.SliceLead(a, a+1).Reshape(4, ngrid)

		v, err := d.eng.ContractWV(ctx, ggaWV2(rho, rhoUA, rhoDr, fxc, kxc, weights))
		if err != nil {
			return err
		}

		ax1 := v.Clone()
		ax1.AddScaled(tensor.TransposeLast2(v), 1)
		ax1.Scale(2)

		for b := range 3 {
			contrib.Set(dot(ax1, dms[b]), a, b)
		}
	}

	return d.st.Create(KeyAx1Contrib, store.CreateOpts{Data: contrib})
}

// ggaWV2 evaluates the quadratic-response grid weights of a gradient
// functional: the second functional derivative contracted with two density
// responses, plus the third derivative contracted with both. Rows follow
// the density layout, value then gradient components, pre-multiplied by the
// quadrature weight. The value row carries the usual factor one half so
// callers can symmetrize with a plain transpose add.
func ggaWV2(rho0, rho1, rho2, fxc, kxc *tensor.Dense, weights []float64) *tensor.Dense {
	ngrid := rho0.Dim(1)
	wv := tensor.New(4, ngrid)

	r0, r1, r2 := rho0.Data(), rho1.Data(), rho2.Data()
	fx, kx := fxc.Data(), kxc.Data()
	out := wv.Data()

	for g := range ngrid {
		frg, fgg := fx[ngrid+g], fx[2*ngrid+g]
		frrr, frrg, frgg, fggg := kx[g], kx[ngrid+g], kx[2*ngrid+g], kx[3*ngrid+g]

		var s01, s02, s12 float64

		for r := 1; r < 4; r++ {
			s01 += r0[r*ngrid+g] * r1[r*ngrid+g]
			s02 += r0[r*ngrid+g] * r2[r*ngrid+g]
			s12 += r1[r*ngrid+g] * r2[r*ngrid+g]
		}

		s01 *= 2
		s02 *= 2
		s12 *= 2

		r1r2 := r1[g] * r2[g]
		r1s2 := r1[g] * s02
		s1r2 := s01 * r2[g]
		s1s2 := s01 * s02

		w := weights[g]

		out[g] = 0.5 * w * (frrr*r1r2 + frrg*r1s2 + frrg*s1r2 + frgg*s1s2 + frg*s12)

		grad := frrg*r1r2 + frgg*r1s2 + frgg*s1r2 + fggg*s1s2 + fgg*s12

		for r := 1; r < 4; r++ {
			out[r*ngrid+g] = 2 * w * (grad*r0[r*ngrid+g] +
				frg*(r1[g]*r2[r*ngrid+g]+r2[g]*r1[r*ngrid+g]) +
				fgg*(s01*r2[r*ngrid+g]+s02*r1[r*ngrid+g]))
		}
	}

	return wv
}
