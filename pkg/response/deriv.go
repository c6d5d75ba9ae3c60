package response

import (
	"context"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// preparePdAF0MO assembles the Fock response to the field: the bare
// perturbation, the orbital-energy relaxation, and the two-electron
// response of the occupied rotation. For xDH functionals the energy
// functional gets its own matrix against its own Fock and kernel.
func (d *Driver) preparePdAF0MO(ctx context.Context) error {
	if err := d.require(KeyH1MO, KeyU1); err != nil {
		return err
	}

	u1, err := d.st.Ref(KeyU1)
	if err != nil {
		return err
	}

	nmo := d.ref.NMO
	energies := d.ref.MOEnergies

	pdaf, err := d.st.Load(KeyH1MO)
	if err != nil {
		return err
	}

	pd := pdaf.Data()
	ud := u1.Data()

	for a := range 3 {
		base := a * nmo * nmo

		for p := range nmo {
			for q := range nmo {
				pd[base+p*nmo+q] += ud[base+p*nmo+q]*energies[p] + ud[base+q*nmo+p]*energies[q]
			}
		}
	}

	uOcc := stackBlock(u1, d.full(), d.occ())

	apply, err := d.eng.Ax0Core(ctx, d.ref, d.full(), d.full(), d.full(), d.occ(), d.fn.SCF)
	if err != nil {
		return err
	}

	ax, err := apply(uOcc)
	if err != nil {
		return err
	}

	pdaf.AddScaled(ax, 1)

	if err := d.st.Create(KeyPdAF0MO, store.CreateOpts{Data: pdaf}); err != nil {
		return err
	}

	if !d.fn.IsXDH() {
		return nil
	}

	fock, err := d.eng.FockMO(ctx, d.ref, d.fn.Energy)
	if err != nil {
		return err
	}

	pdafn, err := d.st.Load(KeyH1MO)
	if err != nil {
		return err
	}

	for a := range 3 {
		u1a := u1.SliceLead(a, a+1).Reshape(nmo, nmo)
		slot := pdafn.SliceLead(a, a+1).Reshape(nmo, nmo)

		slot.AddScaled(d.con.MatMulT(u1a, fock), 1)
		slot.AddScaled(d.con.MatMul(fock, u1a), 1)
	}

	applyN, err := d.eng.Ax0Core(ctx, d.ref, d.full(), d.full(), d.full(), d.occ(), d.fn.Energy)
	if err != nil {
		return err
	}

	axn, err := applyN(uOcc)
	if err != nil {
		return err
	}

	pdafn.AddScaled(axn, 1)

	return d.st.Create(KeyPdAF0MOSecondary, store.CreateOpts{Data: pdafn})
}

// preparePdAYiaRI rotates the occupied-virtual RI block by the orbital
// response, reading the paged factor in auxiliary batches. The result stays
// resident; only the factor itself is paged.
func (d *Driver) preparePdAYiaRI(ctx context.Context) error {
	if err := d.require(KeyU1, KeyYmoRI); err != nil {
		return err
	}

	u1, err := d.st.Ref(KeyU1)
	if err != nil {
		return err
	}

	ds, err := d.st.Dataset(KeyYmoRI)
	if err != nil {
		return err
	}

	nocc, nvir, nmo := d.ref.NOcc, d.ref.NVir, d.ref.NMO
	naux := ds.Rows()

	var uo, uv [3]*tensor.Dense

	for a := range 3 {
		u1a := u1.SliceLead(a, a+1).Reshape(nmo, nmo)
		uo[a] = cols(u1a, d.occ())
		uv[a] = cols(u1a, d.vir())
	}

	pday := tensor.New(3, naux, nocc, nvir)

	chunk, err := d.chunk(8*nmo*nmo, u1.Size())
	if err != nil {
		return err
	}

	spans, err := batch.Plan(0, naux, chunk)
	if err != nil {
		return err
	}

	for _, sp := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}

		yblk, err := ds.ReadRows(sp.Start, sp.Stop)
		if err != nil {
			return err
		}

		for p := range sp.Len() {
			yp := yblk.SliceLead(p, p+1).Reshape(nmo, nmo)
			ypo := cols(yp, d.occ())
			ypv := cols(yp, d.vir())

			for a := range 3 {
				rot := d.con.MatMulT(uo[a], ypv)
				rot.AddScaled(tensor.TransposeLast2(d.con.MatMulT(uv[a], ypo)), 1)

				slot := pday.SliceLead(a, a+1).
					Reshape(naux, nocc, nvir).
					SliceLead(sp.Start+p, sp.Start+p+1).
					Reshape(nocc, nvir)
				slot.CopyFrom(rot)
			}
		}
	}

	return d.st.Create(KeyPdAYiaRI, store.CreateOpts{Data: pday})
}

// preparePT2Deriv differentiates the amplitudes: the rotated RI couplings
// minus the Fock relaxation, divided by the energy denominators, then
// folded into the perturbed G factor and the perturbed correlation
// density. Amplitudes stream twice, an outer batch holding the derivative
// block and a nested batch re-reading rows for the occupied Fock coupling,
// so the outer chunk is twice the inner.
func (d *Driver) preparePT2Deriv(ctx context.Context) error {
	if err := d.require(KeyTijab, KeyYmoRI, KeyPdAF0MO, KeyPdAYiaRI); err != nil {
		return err
	}

	ref := d.ref
	nocc, nvir, nmo := ref.NOcc, ref.NVir, ref.NMO
	eo, ev := ref.OccEnergies(), ref.VirEnergies()

	pdaf, err := d.st.Ref(KeyPdAF0MO)
	if err != nil {
		return err
	}

	pday, err := d.st.Ref(KeyPdAYiaRI)
	if err != nil {
		return err
	}

	yia, err := d.loadYBlock(d.occ(), d.vir())
	if err != nil {
		return err
	}

	naux := yia.Dim(0)
	yiaFlat := yia.Reshape(naux, nocc*nvir)

	tds, err := d.st.Dataset(KeyTijab)
	if err != nil {
		return err
	}

	pdag := tensor.New(3, naux, nocc, nvir)
	pdad := tensor.New(3, nmo, nmo)

	var (
		pdayA     [3]*tensor.Dense // [naux, nocc, nvir]
		pdayAFlat [3]*tensor.Dense // [naux, nocc*nvir]
		pfoo      [3]*tensor.Dense // [nocc, nocc]
		pfvv      [3]*tensor.Dense // [nvir, nvir]
	)

	for a := range 3 {
		pdayA[a] = pday.SliceLead(a, a+1).Reshape(naux, nocc, nvir)
		pdayAFlat[a] = pday.SliceLead(a, a+1).Reshape(naux, nocc*nvir)

		pdafa := pdaf.SliceLead(a, a+1).Reshape(nmo, nmo)
		pfoo[a] = block(pdafa, d.occ(), d.occ())
		pfvv[a] = block(pdafa, d.vir(), d.vir())
	}

	inner, err := d.chunk(2*8*nocc*nvir*nvir, yia.Size()+pdaf.Size()+pday.Size())
	if err != nil {
		return err
	}

	outerSpans, err := batch.Plan(0, nocc, 2*inner)
	if err != nil {
		return err
	}

	innerSpans, err := batch.Plan(0, nocc, inner)
	if err != nil {
		return err
	}

	d.logger.DebugContext(ctx, "differentiating amplitudes",
		"nocc", nocc, "outer_batches", len(outerSpans), "inner_batches", len(innerSpans))

	rowLen := nocc * nvir * nvir

	for _, sI := range outerSpans {
		if err := ctx.Err(); err != nil {
			return err
		}

		nI := sI.Len()

		tI, err := tds.ReadRows(sI.Start, sI.Stop)
		if err != nil {
			return err
		}

		pdat := tensor.New(3, nI, nocc, nvir, nvir)

		for a := range 3 {
			data := pdat.SliceLead(a, a+1).Reshape(nI, nocc, nvir, nvir).Data()

			for iLoc := range nI {
				dst := data[iLoc*rowLen : (iLoc+1)*rowLen]

				addAJB(dst, d.con.MatMulT(auxColumn(pdayA[a], sI.Start+iLoc), yiaFlat), nocc, nvir)
				addAJB(dst, d.con.MatMulT(auxColumn(yia, sI.Start+iLoc), pdayAFlat[a]), nocc, nvir)
			}
		}

		for _, sK := range innerSpans {
			tK := tI

			if sK != sI {
				tK, err = tds.ReadRows(sK.Start, sK.Stop)
				if err != nil {
					return err
				}
			}

			tKFlat := tK.Reshape(sK.Len(), rowLen)

			for a := range 3 {
				pdafa := pdaf.SliceLead(a, a+1).Reshape(nmo, nmo)
				coupling := d.con.MatMulT(block(pdafa, sK, sI), tKFlat)

				pdat.SliceLead(a, a+1).Reshape(nI, rowLen).AddScaled(coupling, -1)
			}
		}

		for a := range 3 {
			pdatA := pdat.SliceLead(a, a+1).Reshape(nI, nocc, nvir, nvir)

			for iLoc := range nI {
				pdatAi := pdatA.SliceLead(iLoc, iLoc+1).Reshape(nocc, nvir*nvir)
				tIi := tI.SliceLead(iLoc, iLoc+1).Reshape(nocc, nvir*nvir)

				pdatAi.AddScaled(d.con.MatMulT(pfoo[a], tIi), -1)
			}

			for iLoc := range nI {
				pdatAi := pdatA.SliceLead(iLoc, iLoc+1).Reshape(nocc, nvir, nvir)
				tIi := tI.SliceLead(iLoc, iLoc+1).Reshape(nocc, nvir, nvir)

				for j := range nocc {
					pdatij := pdatAi.SliceLead(j, j+1).Reshape(nvir, nvir)
					tij := tIi.SliceLead(j, j+1).Reshape(nvir, nvir)

					pdatij.AddScaled(d.con.MatMul(tij, pfvv[a]), 1)
					pdatij.AddScaled(d.con.MatMulT(pfvv[a], tij), 1)
				}
			}
		}

		pdatData := pdat.Data()

		for a := range 3 {
			off := a * nI * rowLen

			for iLoc := range nI {
				eI := eo[sI.Start+iLoc]

				for j := range nocc {
					base := off + iLoc*rowLen + j*nvir*nvir
					eij := eI + eo[j]

					for va := range nvir {
						ea := eij - ev[va]

						for vb := range nvir {
							pdatData[base+va*nvir+vb] /= ea - ev[vb]
						}
					}
				}
			}
		}

		bT := Biorthogonalize(tI, d.fn.CC, d.fn.COS, d.fn.CSS)
		bPdat := Biorthogonalize(pdat, d.fn.CC, d.fn.COS, d.fn.CSS)
		bTData := bT.Data()

		for a := range 3 {
			bPdatAData := bPdat.SliceLead(a, a+1).Reshape(nI, nocc, nvir, nvir).Data()
			pdagA := pdag.SliceLead(a, a+1).Reshape(naux, nocc, nvir)

			for iLoc := range nI {
				m1 := toAJB(bPdatAData[iLoc*rowLen:(iLoc+1)*rowLen], nocc, nvir)
				g1 := d.con.MatMulNT(yiaFlat, m1)

				m2 := toAJB(bTData[iLoc*rowLen:(iLoc+1)*rowLen], nocc, nvir)
				g1.AddScaled(d.con.MatMulNT(pdayAFlat[a], m2), 1)

				setAuxColumn(pdagA, sI.Start+iLoc, g1)
			}
		}

		for a := range 3 {
			pdatA := pdat.SliceLead(a, a+1).Reshape(nI, nocc, nvir, nvir)
			pdadA := pdad.SliceLead(a, a+1).Reshape(nmo, nmo)

			for k := range nI {
				bTk := bT.SliceLead(k, k+1).Reshape(nocc, nvir*nvir)
				pk := pdatA.SliceLead(k, k+1).Reshape(nocc, nvir*nvir)

				addBlock(pdadA, d.occ(), d.occ(), d.con.MatMulNT(bTk, pk), -2)
			}

			for iLoc := range nI {
				bTi := bT.SliceLead(iLoc, iLoc+1).Reshape(nocc, nvir, nvir)
				pAi := pdatA.SliceLead(iLoc, iLoc+1).Reshape(nocc, nvir, nvir)

				for j := range nocc {
					bTij := bTi.SliceLead(j, j+1).Reshape(nvir, nvir)
					pij := pAi.SliceLead(j, j+1).Reshape(nvir, nvir)

					addBlock(pdadA, d.vir(), d.vir(), d.con.MatMulNT(bTij, pij), 2)
				}
			}
		}
	}

	tensor.SymmetrizeLast2(pdad)

	if err := d.st.Create(KeyPdAGia, store.CreateOpts{Data: pdag}); err != nil {
		return err
	}

	return d.st.Create(KeyPdADrdm1, store.CreateOpts{Data: pdad})
}
