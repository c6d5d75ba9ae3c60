package response

import (
	"context"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// loadYBlock materializes the [rows, cols] orbital block of the paged RI
// factor as a resident [naux, rows, cols] tensor, reading in auxiliary
// batches.
func (d *Driver) loadYBlock(rows, cols batch.Span) (*tensor.Dense, error) {
	ds, err := d.st.Dataset(KeyYmoRI)
	if err != nil {
		return nil, err
	}

	naux := ds.Rows()
	out := tensor.New(naux, rows.Len(), cols.Len())

	chunk, err := d.chunk(d.ref.NMO*d.ref.NMO, out.Size())
	if err != nil {
		return nil, err
	}

	spans, err := batch.Plan(0, naux, chunk)
	if err != nil {
		return nil, err
	}

	for _, sp := range spans {
		blk, err := ds.ReadRows(sp.Start, sp.Stop)
		if err != nil {
			return nil, err
		}

		out.SliceLead(sp.Start, sp.Stop).CopyFrom(stackBlock(blk, rows, cols))
	}

	return out, nil
}

// addAJB accumulates a matrix laid out [a, (j, b)] into amplitude rows laid
// out [j, a, b].
func addAJB(dst []float64, m *tensor.Dense, nocc, nvir int) {
	src := m.Data()

	for a := range nvir {
		for j := range nocc {
			srcOff := a*nocc*nvir + j*nvir
			dstOff := (j*nvir + a) * nvir

			for b := range nvir {
				dst[dstOff+b] += src[srcOff+b]
			}
		}
	}
}

// toAJB lays amplitude rows [j, a, b] out as a matrix [a, (j, b)].
func toAJB(src []float64, nocc, nvir int) *tensor.Dense {
	out := tensor.New(nvir, nocc*nvir)
	dst := out.Data()

	for j := range nocc {
		for a := range nvir {
			copy(dst[a*nocc*nvir+j*nvir:][:nvir], src[(j*nvir+a)*nvir:][:nvir])
		}
	}

	return out
}

// preparePT2 builds first-order amplitudes batched over the leading
// occupied index, pages them out, and accumulates the correlation energy
// and the unrelaxed correlation density on the fly. Each batch holds the
// raw and divided amplitude block, so the unit cost is 2*nocc*nvir^2
// elements per occupied index.
func (d *Driver) preparePT2(ctx context.Context) error {
	if err := d.require(KeyYmoRI); err != nil {
		return err
	}

	ref := d.ref
	nocc, nvir, nmo := ref.NOcc, ref.NVir, ref.NMO
	eo, ev := ref.OccEnergies(), ref.VirEnergies()

	yia, err := d.loadYBlock(d.occ(), d.vir())
	if err != nil {
		return err
	}

	yiaFlat := yia.Reshape(yia.Dim(0), nocc*nvir)

	if err := d.st.Create(KeyTijab, store.CreateOpts{Shape: []int{nocc, nocc, nvir, nvir}, Paged: true}); err != nil {
		return err
	}

	tds, err := d.st.Dataset(KeyTijab)
	if err != nil {
		return err
	}

	drdm1 := tensor.New(nmo, nmo)

	var engOS, engSS float64

	chunk, err := d.chunk(2*nocc*nvir*nvir, yia.Size())
	if err != nil {
		return err
	}

	spans, err := batch.Plan(0, nocc, chunk)
	if err != nil {
		return err
	}

	d.logger.DebugContext(ctx, "building amplitudes",
		"nocc", nocc, "chunk", chunk, "batches", len(spans))

	for _, sp := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}

		tb := tensor.New(sp.Len(), nocc, nvir, nvir)
		data := tb.Data()

		for iLoc := range sp.Len() {
			gi := d.con.MatMulT(auxColumn(yia, sp.Start+iLoc), yiaFlat)
			addAJB(data[iLoc*nocc*nvir*nvir:(iLoc+1)*nocc*nvir*nvir], gi, nocc, nvir)
		}

		// Energy first: the same-spin channel reads the exchange partner
		// g_ijba, which must still be undivided.
		for iLoc := range sp.Len() {
			for j := range nocc {
				base := (iLoc*nocc + j) * nvir * nvir
				eij := eo[sp.Start+iLoc] + eo[j]

				for a := range nvir {
					ea := eij - ev[a]

					for b := range nvir {
						g := data[base+a*nvir+b]
						t := g / (ea - ev[b])

						engOS += t * g
						engSS += t * (g - data[base+b*nvir+a])
					}
				}
			}
		}

		for iLoc := range sp.Len() {
			for j := range nocc {
				base := (iLoc*nocc + j) * nvir * nvir
				eij := eo[sp.Start+iLoc] + eo[j]

				for a := range nvir {
					ea := eij - ev[a]

					for b := range nvir {
						data[base+a*nvir+b] /= ea - ev[b]
					}
				}
			}
		}

		if err := tds.WriteRows(sp.Start, tb); err != nil {
			return err
		}

		bt := Biorthogonalize(tb, d.fn.CC, d.fn.COS, d.fn.CSS)

		for k := range sp.Len() {
			tk := tb.SliceLead(k, k+1).Reshape(nocc, nvir*nvir)
			btk := bt.SliceLead(k, k+1).Reshape(nocc, nvir*nvir)

			addBlock(drdm1, d.occ(), d.occ(), d.con.MatMulNT(btk, tk), -2)
		}

		for iLoc := range sp.Len() {
			tRow := tb.SliceLead(iLoc, iLoc+1).Reshape(nocc, nvir, nvir)
			btRow := bt.SliceLead(iLoc, iLoc+1).Reshape(nocc, nvir, nvir)

			for j := range nocc {
				tij := tRow.SliceLead(j, j+1).Reshape(nvir, nvir)
				btij := btRow.SliceLead(j, j+1).Reshape(nvir, nvir)

				addBlock(drdm1, d.vir(), d.vir(), d.con.MatMulNT(btij, tij), 2)
			}
		}
	}

	d.result.EnergyCorrOS = engOS
	d.result.EnergyCorrSS = engSS
	d.result.EnergyCorrPT2 = d.fn.CC * (d.fn.COS*engOS + d.fn.CSS*engSS)
	d.result.EnergyTotal = d.result.EnergySCF + d.result.EnergyCorrPT2

	d.logger.InfoContext(ctx, "correlation assembled",
		"e_os", engOS,
		"e_ss", engSS,
		"e_pt2", d.result.EnergyCorrPT2,
		"e_total", d.result.EnergyTotal)

	return d.st.Create(KeyDrdm1, store.CreateOpts{Data: drdm1})
}

// prepareLagrangian contracts amplitudes with the RI factor into G_ia and
// assembles the orbital-response right-hand side.
func (d *Driver) prepareLagrangian(ctx context.Context) error {
	if err := d.require(KeyYmoRI, KeyTijab, KeyDrdm1); err != nil {
		return err
	}

	ref := d.ref
	nocc, nvir, nmo := ref.NOcc, ref.NVir, ref.NMO

	yia, err := d.loadYBlock(d.occ(), d.vir())
	if err != nil {
		return err
	}

	naux := yia.Dim(0)
	yiaFlat := yia.Reshape(naux, nocc*nvir)
	gia := tensor.New(naux, nocc, nvir)

	tds, err := d.st.Dataset(KeyTijab)
	if err != nil {
		return err
	}

	chunk, err := d.chunk(2*nocc*nvir*nvir, yia.Size()+gia.Size())
	if err != nil {
		return err
	}

	spans, err := batch.Plan(0, nocc, chunk)
	if err != nil {
		return err
	}

	for _, sp := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}

		tb, err := tds.ReadRows(sp.Start, sp.Stop)
		if err != nil {
			return err
		}

		bt := Biorthogonalize(tb, d.fn.CC, d.fn.COS, d.fn.CSS)
		btData := bt.Data()

		for iLoc := range sp.Len() {
			m := toAJB(btData[iLoc*nocc*nvir*nvir:(iLoc+1)*nocc*nvir*nvir], nocc, nvir)
			setAuxColumn(gia, sp.Start+iLoc, d.con.MatMulNT(yiaFlat, m))
		}
	}

	lag := tensor.New(nvir, nocc)

	ds, err := d.st.Dataset(KeyYmoRI)
	if err != nil {
		return err
	}

	auxChunk, err := d.chunk(nmo*nmo, yia.Size()+gia.Size())
	if err != nil {
		return err
	}

	auxSpans, err := batch.Plan(0, naux, auxChunk)
	if err != nil {
		return err
	}

	for _, sp := range auxSpans {
		yblk, err := ds.ReadRows(sp.Start, sp.Stop)
		if err != nil {
			return err
		}

		for p := range sp.Len() {
			yp := yblk.SliceLead(p, p+1).Reshape(nmo, nmo)
			yoo := block(yp, d.occ(), d.occ())
			yvv := block(yp, d.vir(), d.vir())
			gp := gia.SliceLead(sp.Start+p, sp.Start+p+1).Reshape(nocc, nvir)

			lag.AddScaled(d.con.MatMulT(gp, yoo), -4)
			lag.AddScaled(tensor.TransposeLast2(d.con.MatMulNT(gp, yvv)), 4)
		}
	}

	drdm1, err := d.st.Ref(KeyDrdm1)
	if err != nil {
		return err
	}

	apply, err := d.eng.Ax0Core(ctx, ref, d.vir(), d.occ(), d.full(), d.full(), d.fn.SCF)
	if err != nil {
		return err
	}

	ax, err := apply(drdm1)
	if err != nil {
		return err
	}

	lag.AddScaled(ax, 1)

	if d.fn.IsXDH() {
		fock, err := d.eng.FockMO(ctx, ref, d.fn.Energy)
		if err != nil {
			return err
		}

		lag.AddScaled(block(fock, d.vir(), d.occ()), 4)
	}

	if err := d.st.Create(KeyGia, store.CreateOpts{Data: gia}); err != nil {
		return err
	}

	return d.st.Create(KeyLagrangian, store.CreateOpts{Data: lag})
}

// prepareDr solves the orbital-response equation and grafts the relaxed
// virtual-occupied block onto the correlation density.
func (d *Driver) prepareDr(ctx context.Context) error {
	if err := d.require(KeyDrdm1, KeyLagrangian); err != nil {
		return err
	}

	lag, err := d.st.Ref(KeyLagrangian)
	if err != nil {
		return err
	}

	apply, err := d.eng.Ax0Core(ctx, d.ref, d.vir(), d.occ(), d.vir(), d.occ(), d.fn.SCF)
	if err != nil {
		return err
	}

	uvo, err := qclib.SolveCPKS(ctx, apply, d.ref, lag, d.cpks)
	if err != nil {
		return err
	}

	dr, err := d.st.Load(KeyDrdm1)
	if err != nil {
		return err
	}

	setBlock(dr, d.vir(), d.occ(), uvo)

	return d.st.Create(KeyDr, store.CreateOpts{Data: dr})
}
