package qclib

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// ErrCPKSNoConvergence reports that the coupled-perturbed solver hit its
// cycle limit before the iterate settled.
var ErrCPKSNoConvergence = errors.New("cpks solver did not converge")

// Fixed-point iteration controls.
const (
	// dampingFactor mixes the previous iterate into each update.
	dampingFactor = 0.35

	// defaultMaxCycle bounds the iteration when options leave it unset.
	defaultMaxCycle = 64

	// defaultTol is the max-abs update threshold when options leave it
	// unset.
	defaultTol = 1e-9
)

// CPKSOptions forwards solver controls unchanged from configuration.
type CPKSOptions struct {
	MaxCycle int
	Tol      float64
}

func (o CPKSOptions) withDefaults() CPKSOptions {
	if o.MaxCycle <= 0 {
		o.MaxCycle = defaultMaxCycle
	}

	if o.Tol <= 0 {
		o.Tol = defaultTol
	}

	return o
}

// SolveCPKS solves the coupled-perturbed equations
//
//	(e_a - e_i) U_ai + Ax0(U)_ai = -rhs_ai
//
// by damped fixed-point iteration, seeded with the uncoupled solution.
// rhs holds one [nvir, nocc] block per trial set ([n, nvir, nocc], or
// [nvir, nocc] for a single set); the result has the same shape.
func SolveCPKS(ctx context.Context, apply ResponseFunc, ref *Reference, rhs *tensor.Dense, opts CPKSOptions) (*tensor.Dense, error) {
	opts = opts.withDefaults()

	shape := rhs.Shape()

	work := rhs
	if len(shape) == 2 {
		work = rhs.Reshape(1, shape[0], shape[1])
	}

	gaps := orbitalGaps(ref)

	u := uncoupledGuess(work, gaps)

	var residual float64

	for cycle := range opts.MaxCycle {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cpks cycle %d: %w", cycle, err)
		}

		coupled, err := apply(u)
		if err != nil {
			return nil, fmt.Errorf("cpks cycle %d: %w", cycle, err)
		}

		next := uncoupledGuess(work, gaps)
		scaleByGaps(coupled, gaps)
		next.AddScaled(coupled, -1)

		// Damped mixing keeps weakly diagonal-dominant systems contracting.
		next.Scale(1 - dampingFactor)
		next.AddScaled(u, dampingFactor)

		residual = tensor.MaxAbsDiff(u, next)
		u = next

		if residual < opts.Tol {
			if len(shape) == 2 {
				return u.Reshape(shape...), nil
			}

			return u, nil
		}
	}

	return nil, fmt.Errorf("%w: %d cycles, residual %.3e (tol %.1e)",
		ErrCPKSNoConvergence, opts.MaxCycle, residual, opts.Tol)
}

// orbitalGaps returns e_a - e_i laid out as one [nvir, nocc] block.
func orbitalGaps(ref *Reference) *tensor.Dense {
	eo, ev := ref.OccEnergies(), ref.VirEnergies()

	gaps := tensor.New(ref.NVir, ref.NOcc)
	for a := range ref.NVir {
		for i := range ref.NOcc {
			gaps.Set(ev[a]-eo[i], a, i)
		}
	}

	return gaps
}

// uncoupledGuess returns -rhs / gaps per set, the exact solution when the
// response coupling vanishes.
func uncoupledGuess(rhs *tensor.Dense, gaps *tensor.Dense) *tensor.Dense {
	out := rhs.Clone()
	scaleByGaps(out, gaps)
	out.Scale(-1)

	return out
}

// scaleByGaps divides every [nvir, nocc] block elementwise by the gaps.
func scaleByGaps(t *tensor.Dense, gaps *tensor.Dense) {
	data := t.Data()
	g := gaps.Data()
	block := len(g)

	for i, v := range data {
		data[i] = v / g[i%block]
	}
}
