package response

import (
	"context"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// buildSCR3 accumulates the derivative of the correlation Lagrangian over
// auxiliary batches: perturbed G against the bare factor and bare G against
// the rotated factor, occupied and virtual channels with opposite sign.
func (d *Driver) buildSCR3(ctx context.Context) (*tensor.Dense, error) {
	u1, err := d.st.Ref(KeyU1)
	if err != nil {
		return nil, err
	}

	gia, err := d.st.Ref(KeyGia)
	if err != nil {
		return nil, err
	}

	pdag, err := d.st.Ref(KeyPdAGia)
	if err != nil {
		return nil, err
	}

	ds, err := d.st.Dataset(KeyYmoRI)
	if err != nil {
		return nil, err
	}

	nocc, nvir, nmo := d.ref.NOcc, d.ref.NVir, d.ref.NMO
	naux := ds.Rows()

	scr3 := tensor.New(3, nvir, nocc)

	var (
		uo    [3]*tensor.Dense // [nmo, nocc]
		uv    [3]*tensor.Dense // [nmo, nvir]
		scr3m [3]*tensor.Dense // [nvir, nocc] views
		pdagA [3]*tensor.Dense // [naux, nocc, nvir] views
	)

	for a := range 3 {
		u1a := u1.SliceLead(a, a+1).Reshape(nmo, nmo)
		uo[a] = cols(u1a, d.occ())
		uv[a] = cols(u1a, d.vir())
		scr3m[a] = scr3.SliceLead(a, a+1).Reshape(nvir, nocc)
		pdagA[a] = pdag.SliceLead(a, a+1).Reshape(naux, nocc, nvir)
	}

	chunk, err := d.chunk(10*nmo*nmo, gia.Size()+pdag.Size())
	if err != nil {
		return nil, err
	}

	spans, err := batch.Plan(0, naux, chunk)
	if err != nil {
		return nil, err
	}

	for _, sp := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		yblk, err := ds.ReadRows(sp.Start, sp.Stop)
		if err != nil {
			return nil, err
		}

		for p := range sp.Len() {
			pGlob := sp.Start + p
			yp := yblk.SliceLead(p, p+1).Reshape(nmo, nmo)
			ypo := cols(yp, d.occ())
			ypv := cols(yp, d.vir())
			yoo := block(yp, d.occ(), d.occ())
			yvv := block(yp, d.vir(), d.vir())
			gp := gia.SliceLead(pGlob, pGlob+1).Reshape(nocc, nvir)

			for a := range 3 {
				gpd := pdagA[a].SliceLead(pGlob, pGlob+1).Reshape(nocc, nvir)

				pdYoo := d.con.MatMulT(uo[a], ypo)
				pdYoo.AddScaled(tensor.TransposeLast2(pdYoo), 1)

				scr3m[a].AddScaled(d.con.MatMulT(gpd, yoo), -4)
				scr3m[a].AddScaled(d.con.MatMulT(gp, pdYoo), -4)

				pdYvv := d.con.MatMulT(uv[a], ypv)
				pdYvv.AddScaled(tensor.TransposeLast2(pdYvv), 1)

				scr3m[a].AddScaled(d.con.MatMulNT(yvv, gpd), 4)
				scr3m[a].AddScaled(d.con.MatMulNT(pdYvv, gp), 4)
			}
		}
	}

	if d.fn.IsXDH() {
		pdafn, err := d.st.Ref(KeyPdAF0MOSecondary)
		if err != nil {
			return nil, err
		}

		scr3.AddScaled(stackBlock(pdafn, d.vir(), d.occ()), 4)
	}

	return scr3, nil
}

// preparePolar contracts every response intermediate into the [3, 3]
// polarizability: the self-consistent part from the perturbation against
// the orbital rotation, the correlation part from the relaxed densities,
// the Lagrangian derivative and, for grid functionals, the second-order
// kernel contribution.
func (d *Driver) preparePolar(ctx context.Context) error {
	keys := []string{KeyH1MO, KeyU1, KeyPdAF0MO, KeyDr, KeyPdADrdm1, KeyGia, KeyPdAGia, KeyYmoRI}
	if d.gga {
		keys = append(keys, KeyAx1Contrib)
	}

	if d.fn.IsXDH() {
		keys = append(keys, KeyPdAF0MOSecondary)
	}

	if err := d.require(keys...); err != nil {
		return err
	}

	h1mo, err := d.st.Ref(KeyH1MO)
	if err != nil {
		return err
	}

	u1, err := d.st.Ref(KeyU1)
	if err != nil {
		return err
	}

	pdaf, err := d.st.Ref(KeyPdAF0MO)
	if err != nil {
		return err
	}

	dr, err := d.st.Ref(KeyDr)
	if err != nil {
		return err
	}

	pdad, err := d.st.Ref(KeyPdADrdm1)
	if err != nil {
		return err
	}

	nocc, nvir, nmo := d.ref.NOcc, d.ref.NVir, d.ref.NMO

	applyFull, err := d.eng.Ax0Core(ctx, d.ref, d.full(), d.full(), d.full(), d.full(), d.fn.SCF)
	if err != nil {
		return err
	}

	scr1, err := applyFull(dr)
	if err != nil {
		return err
	}

	applyVO, err := d.eng.Ax0Core(ctx, d.ref, d.full(), d.full(), d.vir(), d.occ(), d.fn.SCF)
	if err != nil {
		return err
	}

	scr2ax, err := applyVO(stackBlock(u1, d.vir(), d.occ()))
	if err != nil {
		return err
	}

	scr2 := h1mo.Clone()
	scr2.AddScaled(scr2ax, 1)

	scr3, err := d.buildSCR3(ctx)
	if err != nil {
		return err
	}

	scr1o := cols(scr1, d.occ())
	scr1v := cols(scr1, d.vir())
	drvo := block(dr, d.vir(), d.occ())

	var (
		h1so  [3]*tensor.Dense // [nmo, nocc]
		u1m   [3]*tensor.Dense // [nmo, nmo] views
		u1so  [3]*tensor.Dense // [nmo, nocc]
		uvo   [3]*tensor.Dense // [nvir, nocc]
		w1    [3]*tensor.Dense // [nvir, nocc]
		w2    [3]*tensor.Dense // [nvir, nocc]
		scr2m [3]*tensor.Dense // [nmo, nmo] views
		scr3m [3]*tensor.Dense // [nvir, nocc] views
		pdadm [3]*tensor.Dense // [nmo, nmo] views
		pfoo  [3]*tensor.Dense // [nocc, nocc]
		pfvv  [3]*tensor.Dense // [nvir, nvir]
	)

	for x := range 3 {
		h1so[x] = cols(h1mo.SliceLead(x, x+1).Reshape(nmo, nmo), d.occ())
		u1m[x] = u1.SliceLead(x, x+1).Reshape(nmo, nmo)
		u1so[x] = cols(u1m[x], d.occ())
		uvo[x] = block(u1m[x], d.vir(), d.occ())
		w1[x] = d.con.MatMulT(cols(u1m[x], d.vir()), scr1o)
		w2[x] = d.con.MatMulT(scr1v, u1so[x])
		scr2m[x] = scr2.SliceLead(x, x+1).Reshape(nmo, nmo)
		scr3m[x] = scr3.SliceLead(x, x+1).Reshape(nvir, nocc)
		pdadm[x] = pdad.SliceLead(x, x+1).Reshape(nmo, nmo)

		pdafx := pdaf.SliceLead(x, x+1).Reshape(nmo, nmo)
		pfoo[x] = block(pdafx, d.occ(), d.occ())
		pfvv[x] = block(pdafx, d.vir(), d.vir())
	}

	polSCF := tensor.New(3, 3)
	polCorr := tensor.New(3, 3)

	for a := range 3 {
		relax := d.con.MatMulT(uvo[a], drvo)
		relaxT := tensor.TransposeLast2(relax)
		relaxV := d.con.MatMulNT(drvo, uvo[a])

		for b := range 3 {
			polSCF.Set(-4*dot(h1so[a], u1so[b]), a, b)

			corr := dot(uvo[a], w1[b]) +
				dot(uvo[a], w2[b]) +
				dot(d.con.MatMul(scr2m[a], u1m[b]), dr) +
				dot(d.con.MatMulT(u1m[b], scr2m[a]), dr) +
				dot(scr2m[a], pdadm[b]) +
				dot(scr3m[b], uvo[a]) -
				dot(pfoo[b], relaxT) +
				dot(pfvv[b], relaxV)

			polCorr.Set(-corr, a, b)
		}
	}

	if d.gga {
		ax1, err := d.st.Ref(KeyAx1Contrib)
		if err != nil {
			return err
		}

		polCorr.AddScaled(ax1, -2)
	}

	polTotal := polSCF.Clone()
	polTotal.AddScaled(polCorr, 1)

	if err := d.st.Create(KeyPolSCF, store.CreateOpts{Data: polSCF.Clone()}); err != nil {
		return err
	}

	if err := d.st.Create(KeyPolCorr, store.CreateOpts{Data: polCorr.Clone()}); err != nil {
		return err
	}

	if err := d.st.Create(KeyPolTotal, store.CreateOpts{Data: polTotal.Clone()}); err != nil {
		return err
	}

	d.result.PolSCF = polSCF
	d.result.PolCorr = polCorr
	d.result.PolTotal = polTotal

	iso := (polTotal.At(0, 0) + polTotal.At(1, 1) + polTotal.At(2, 2)) / 3

	d.logger.InfoContext(ctx, "polarizability assembled",
		"alpha_xx", polTotal.At(0, 0),
		"alpha_yy", polTotal.At(1, 1),
		"alpha_zz", polTotal.At(2, 2),
		"alpha_iso", iso)

	return nil
}
