// Package qclib defines the quantum-chemistry collaborator contracts the
// response pipeline consumes: converged self-consistent references,
// integral providers, Fock and orbital-Hessian builds, grid
// exchange-correlation kernels, and the coupled-perturbed solver.
//
// Implementations must behave as pure functions of the converged reference
// passed back to them; the pipeline retains no engine state beyond it.
package qclib

import (
	"context"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// Reference is a converged closed-shell self-consistent solution. Orbitals
// are doubly occupied up to NOcc; energies ascend.
type Reference struct {
	NAO  int
	NMO  int
	NOcc int
	NVir int

	// MOEnergies has length NMO.
	MOEnergies []float64

	// MOCoeffs maps atomic to molecular orbitals, [NAO, NMO].
	MOCoeffs *tensor.Dense

	TotalEnergy float64
}

// OccSpan returns the occupied MO index range.
func (r *Reference) OccSpan() batch.Span {
	return batch.Span{Start: 0, Stop: r.NOcc}
}

// VirSpan returns the virtual MO index range.
func (r *Reference) VirSpan() batch.Span {
	return batch.Span{Start: r.NOcc, Stop: r.NMO}
}

// FullSpan returns the whole MO index range.
func (r *Reference) FullSpan() batch.Span {
	return batch.Span{Start: 0, Stop: r.NMO}
}

// OccEnergies returns the occupied orbital energies.
func (r *Reference) OccEnergies() []float64 {
	return r.MOEnergies[:r.NOcc]
}

// VirEnergies returns the virtual orbital energies.
func (r *Reference) VirEnergies() []float64 {
	return r.MOEnergies[r.NOcc:r.NMO]
}

// XCType classifies a functional string by how it is evaluated.
type XCType uint8

const (
	// XCTypeHF marks pure Hartree-Fock exchange: no grid quantities exist.
	XCTypeHF XCType = iota + 1

	// XCTypeGGA marks a gradient-corrected functional evaluated on a grid.
	XCTypeGGA
)

// String returns the class name for logs.
func (t XCType) String() string {
	if t == XCTypeGGA {
		return "GGA"
	}

	return "HF"
}

// ResponseFunc applies a restricted orbital response operator to trial
// blocks x of shape [n, r, s] (or [r, s] for a single set) and returns the
// contracted blocks [n, p, q] (respectively [p, q]).
type ResponseFunc func(x *tensor.Dense) (*tensor.Dense, error)

// SCFEngine converges the self-consistent reference.
type SCFEngine interface {
	// RunSCF converges the reference for the given functional string.
	RunSCF(ctx context.Context, xc string) (*Reference, error)
}

// IntegralEngine provides one-electron and resolution-of-identity
// integrals in the atomic-orbital basis.
type IntegralEngine interface {
	// DipoleAO returns the length-gauge dipole integrals with the
	// negative-charge convention, [3, nao, nao].
	DipoleAO(ctx context.Context) (*tensor.Dense, error)

	// NAux reports the auxiliary basis dimension.
	NAux() int

	// RIBlock returns auxiliary rows [rows.Start, rows.Stop) of the
	// whitened three-center factor, [rows.Len(), nao, nao].
	RIBlock(ctx context.Context, rows batch.Span) (*tensor.Dense, error)
}

// FockEngine builds Fock matrices and orbital-Hessian contractions in the
// reference orbital basis.
type FockEngine interface {
	// FockMO builds the MO-basis Fock matrix of the given functional
	// evaluated at the reference density.
	FockMO(ctx context.Context, ref *Reference, xc string) (*tensor.Dense, error)

	// Ax0Core returns the response operator restricted to MO blocks:
	// trial densities over [r, s] map to contractions over [p, q].
	Ax0Core(ctx context.Context, ref *Reference, p, q, r, s batch.Span, xc string) (ResponseFunc, error)
}

// XCEngine evaluates densities and exchange-correlation kernels on the
// integration grid.
type XCEngine interface {
	// NGrid reports the grid size.
	NGrid() int

	// GridWeights returns the quadrature weights, length NGrid.
	GridWeights() []float64

	// XCType classifies a functional string.
	XCType(xc string) (XCType, error)

	// EvalRho maps AO density matrices [..., nao, nao] to density values
	// and gradients on the grid, [..., 4, ngrid].
	EvalRho(ctx context.Context, dms *tensor.Dense) (*tensor.Dense, error)

	// EvalXC returns derivative rows of the functional on the grid:
	// deriv 1 → [2, ngrid] (vρ, vσ); deriv 2 → [3, ngrid] (fρρ, fρσ, fσσ);
	// deriv 3 → [4, ngrid] (fρρρ, fρρσ, fρσσ, fσσσ).
	EvalXC(ctx context.Context, xc string, rho *tensor.Dense, deriv int) (*tensor.Dense, error)

	// ContractWV folds a grid weight vector [4, ngrid] back into an
	// unsymmetrized AO matrix [nao, nao]; callers add the transpose.
	ContractWV(ctx context.Context, wv *tensor.Dense) (*tensor.Dense, error)
}

// Engine is the full collaborator surface the pipeline drives.
type Engine interface {
	SCFEngine
	IntegralEngine
	FockEngine
	XCEngine
}
