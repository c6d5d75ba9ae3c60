package response

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// ensureSCF converges the self-consistent reference and caches it on the
// driver. Every later stage reads orbitals and energies from here.
func (d *Driver) ensureSCF(ctx context.Context) error {
	ref, err := d.eng.RunSCF(ctx, d.fn.SCF)
	if err != nil {
		return err
	}

	d.ref = ref
	d.result.EnergySCF = ref.TotalEnergy

	d.logger.InfoContext(ctx, "reference converged",
		"xc", d.fn.SCF,
		"energy", ref.TotalEnergy,
		"nmo", ref.NMO,
		"nocc", ref.NOcc,
		"nvir", ref.NVir)

	return nil
}

// prepareH1 writes the dipole perturbation in both bases. The AO operator
// already carries the negative-charge sign convention.
func (d *Driver) prepareH1(ctx context.Context) error {
	h1ao, err := d.eng.DipoleAO(ctx)
	if err != nil {
		return err
	}

	h1mo := d.con.Transform(h1ao, d.ref.MOCoeffs)

	if err := d.st.Create(KeyH1AO, store.CreateOpts{Data: h1ao}); err != nil {
		return err
	}

	return d.st.Create(KeyH1MO, store.CreateOpts{Data: h1mo})
}

// prepareIntegral streams the three-center RI factor through the MO
// transform in auxiliary batches and pages the result out. Each batch holds
// one AO-basis block and its MO image, so the unit cost is nao^2 + nmo^2
// elements per auxiliary index.
func (d *Driver) prepareIntegral(ctx context.Context) error {
	naux := d.eng.NAux()
	nao, nmo := d.ref.NAO, d.ref.NMO

	if err := d.st.Create(KeyYmoRI, store.CreateOpts{Shape: []int{naux, nmo, nmo}, Paged: true}); err != nil {
		return err
	}

	ds, err := d.st.Dataset(KeyYmoRI)
	if err != nil {
		return err
	}

	chunk, err := d.chunk(nao*nao+nmo*nmo, 0)
	if err != nil {
		return err
	}

	spans, err := batch.Plan(0, naux, chunk)
	if err != nil {
		return err
	}

	d.logger.DebugContext(ctx, "transforming RI factor",
		"naux", naux, "chunk", chunk, "batches", len(spans))

	for _, sp := range spans {
		w, err := d.eng.RIBlock(ctx, sp)
		if err != nil {
			return err
		}

		if err := ds.WriteRows(sp.Start, d.con.Transform(w, d.ref.MOCoeffs)); err != nil {
			return err
		}
	}

	return nil
}

// prepareXCKernel evaluates the reference density and the second functional
// derivative on the grid. Only scheduled for grid-bearing functionals.
func (d *Driver) prepareXCKernel(ctx context.Context) error {
	rho, err := d.eng.EvalRho(ctx, d.scfDensity())
	if err != nil {
		return err
	}

	fxc, err := d.eng.EvalXC(ctx, d.fn.SCF, rho, 2)
	if err != nil {
		return fmt.Errorf("second kernel derivative: %w", err)
	}

	if err := d.st.Create(KeyRho, store.CreateOpts{Data: rho}); err != nil {
		return err
	}

	return d.st.Create(fxcKey(d.fn.SCF), store.CreateOpts{Data: fxc})
}

// scfDensity builds the closed-shell AO density of the reference.
func (d *Driver) scfDensity() *tensor.Dense {
	co := cols(d.ref.MOCoeffs, d.occ())

	dm := d.con.MatMulNT(co, co)
	dm.Scale(2)

	return dm
}
