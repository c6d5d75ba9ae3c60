// Package response assembles static polarizabilities of doubly-hybrid
// functionals: a fixed schedule of stage functions over a hybrid tensor
// store, driven by a state-machine orchestrator. Stages read keys earlier
// stages wrote, batch their inner loops against an advisory memory budget,
// and fail fast when a precondition key is missing.
package response

import (
	"errors"
	"time"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// Pipeline errors.
var (
	// ErrUsage reports invalid driver options.
	ErrUsage = errors.New("invalid driver options")

	// ErrPrecondition reports a stage scheduled before a key it reads was
	// written. It always indicates a pipeline-ordering bug, never a
	// storage failure.
	ErrPrecondition = errors.New("missing precondition")

	// ErrAlreadyRun reports a second Run on a driver; intermediate tensors
	// are not consistent for re-entry.
	ErrAlreadyRun = errors.New("pipeline already run")
)

// Store keys written by the fixed schedule.
const (
	// KeyH1AO is the dipole perturbation in the AO basis, [3, nao, nao].
	KeyH1AO = "H_1_ao"

	// KeyH1MO is the dipole perturbation in the MO basis, [3, nmo, nmo].
	KeyH1MO = "H_1_mo"

	// KeyYmoRI is the paged MO-basis RI factor, [naux, nmo, nmo].
	KeyYmoRI = "Y_mo_ri"

	// KeyRho is the reference density on the grid, [4, ngrid].
	KeyRho = "rho"

	// KeyTijab is the paged first-order amplitude tensor,
	// [nocc, nocc, nvir, nvir].
	KeyTijab = "t_ijab"

	// KeyDrdm1 is the unrelaxed correlation density, [nmo, nmo].
	KeyDrdm1 = "D_rdm1"

	// KeyGia is the amplitude-weighted RI factor, [naux, nocc, nvir].
	KeyGia = "G_ia"

	// KeyLagrangian is the orbital-response right-hand side, [nvir, nocc].
	KeyLagrangian = "L"

	// KeyDr is the relaxed correlation density, [nmo, nmo].
	KeyDr = "D_r"

	// KeyU1 is the first-order orbital rotation, [3, nmo, nmo].
	KeyU1 = "U_1"

	// KeyRhoU holds perturbed densities on the grid, [3, 4, ngrid].
	KeyRhoU = "rhoU"

	// KeyRhoDr is the relaxed-density response on the grid, [4, ngrid].
	KeyRhoDr = "rhoDr"

	// KeyAx1Contrib is the second-order grid kernel contribution, [3, 3].
	KeyAx1Contrib = "Ax1_contrib"

	// KeyPdAF0MO is the perturbed Fock matrix, [3, nmo, nmo].
	KeyPdAF0MO = "pdA_F_0_mo"

	// KeyPdAF0MOSecondary is the perturbed Fock matrix of the energy
	// functional, written only for non-self-consistent doubly hybrids.
	KeyPdAF0MOSecondary = "pdA_F_0_mo_n"

	// KeyPdAYiaRI is the perturbed occupied-virtual RI factor,
	// [3, naux, nocc, nvir].
	KeyPdAYiaRI = "pdA_Y_ia_ri"

	// KeyPdAGia is the perturbed amplitude-weighted RI factor,
	// [3, naux, nocc, nvir].
	KeyPdAGia = "pdA_G_ia"

	// KeyPdADrdm1 is the perturbed correlation density, [3, nmo, nmo].
	KeyPdADrdm1 = "pdA_D_rdm1"

	// KeyPolSCF, KeyPolCorr and KeyPolTotal are the assembled [3, 3]
	// polarizability matrices, kept in the store for inspection alongside
	// the returned Result.
	KeyPolSCF   = "pol_scf"
	KeyPolCorr  = "pol_corr"
	KeyPolTotal = "pol_total"
)

// fxcKey names the second-derivative kernel rows of a functional.
func fxcKey(xc string) string {
	return "fxc" + xc
}

// kxcKey names the third-derivative kernel rows of a functional.
func kxcKey(xc string) string {
	return "kxc" + xc
}

// StageTiming records one executed stage for reports.
type StageTiming struct {
	Name      string
	Elapsed   time.Duration
	HeapAlloc int64 // Heap bytes allocated when the stage finished.
}

// Result is the assembled second-order response property.
type Result struct {
	// Functional is the registry name the pipeline ran under.
	Functional string

	// PolSCF, PolCorr and PolTotal are [3, 3] polarizability matrices:
	// the self-consistent part, the correlation part and their sum.
	PolSCF   *tensor.Dense
	PolCorr  *tensor.Dense
	PolTotal *tensor.Dense

	// EnergySCF is the converged reference energy.
	EnergySCF float64

	// EnergyCorrOS and EnergyCorrSS are the raw opposite- and same-spin
	// correlation sums; EnergyCorrPT2 applies the functional weights.
	EnergyCorrOS  float64
	EnergyCorrSS  float64
	EnergyCorrPT2 float64

	// EnergyTotal is the reference energy plus weighted correlation.
	EnergyTotal float64

	// Stages lists executed stages in schedule order.
	Stages []StageTiming
}

// dot sums the elementwise product of two equally sized tensors.
func dot(a, b *tensor.Dense) float64 {
	ad, bd := a.Data(), b.Data()

	var sum float64
	for i, v := range ad {
		sum += v * bd[i]
	}

	return sum
}

// cols copies the column span of a 2-D matrix.
func cols(m *tensor.Dense, s batch.Span) *tensor.Dense {
	return block(m, batch.Span{Start: 0, Stop: m.Dim(0)}, s)
}

// block copies the [rows, cols] sub-matrix of a 2-D matrix.
func block(m *tensor.Dense, rows, cols batch.Span) *tensor.Dense {
	nc := m.Dim(1)
	out := tensor.New(rows.Len(), cols.Len())

	src := m.Data()
	dst := out.Data()

	for i := range rows.Len() {
		base := (rows.Start + i) * nc
		copy(dst[i*cols.Len():(i+1)*cols.Len()], src[base+cols.Start:base+cols.Stop])
	}

	return out
}

// stackBlock copies the [rows, cols] sub-matrix of every leading slice of a
// 3-D tensor.
func stackBlock(t *tensor.Dense, rows, cols batch.Span) *tensor.Dense {
	lead := t.Dim(0)
	out := tensor.New(lead, rows.Len(), cols.Len())

	for l := range lead {
		sub := block(t.SliceLead(l, l+1).Reshape(t.Dim(1), t.Dim(2)), rows, cols)
		copy(out.SliceLead(l, l+1).Data(), sub.Data())
	}

	return out
}

// addBlock accumulates alpha*src into the [rows, cols] sub-matrix of a 2-D
// matrix.
func addBlock(m *tensor.Dense, rows, cols batch.Span, src *tensor.Dense, alpha float64) {
	nc := m.Dim(1)
	dst := m.Data()
	sd := src.Data()

	for i := range rows.Len() {
		base := (rows.Start+i)*nc + cols.Start
		row := sd[i*cols.Len() : (i+1)*cols.Len()]

		for j, v := range row {
			dst[base+j] += alpha * v
		}
	}
}

// setBlock writes src into the [rows, cols] sub-matrix of a 2-D matrix.
func setBlock(m *tensor.Dense, rows, cols batch.Span, src *tensor.Dense) {
	nc := m.Dim(1)
	dst := m.Data()
	sd := src.Data()

	for i := range rows.Len() {
		base := (rows.Start + i) * nc
		copy(dst[base+cols.Start:base+cols.Stop], sd[i*cols.Len():(i+1)*cols.Len()])
	}
}

// setStackBlock writes one leading slice of src per leading slice of dst.
func setStackBlock(t *tensor.Dense, rows, cols batch.Span, src *tensor.Dense) {
	lead := t.Dim(0)

	for l := range lead {
		setBlock(
			t.SliceLead(l, l+1).Reshape(t.Dim(1), t.Dim(2)),
			rows, cols,
			src.SliceLead(l, l+1).Reshape(src.Dim(1), src.Dim(2)),
		)
	}
}

// auxColumn copies index i of the middle axis of [naux, n, m] as [naux, m].
func auxColumn(t *tensor.Dense, i int) *tensor.Dense {
	naux, n, m := t.Dim(0), t.Dim(1), t.Dim(2)
	out := tensor.New(naux, m)

	src := t.Data()
	dst := out.Data()

	for p := range naux {
		base := (p*n + i) * m
		copy(dst[p*m:(p+1)*m], src[base:base+m])
	}

	return out
}

// setAuxColumn writes src [naux, m] at index i of the middle axis of
// [naux, n, m].
func setAuxColumn(t *tensor.Dense, i int, src *tensor.Dense) {
	naux, n, m := t.Dim(0), t.Dim(1), t.Dim(2)

	dst := t.Data()
	sd := src.Data()

	for p := range naux {
		base := (p*n + i) * m
		copy(dst[base:base+m], sd[p*m:(p+1)*m])
	}
}
