package response

import (
	"math"

	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// biorthCoefEps is the weight below which the antisymmetric term is skipped.
const biorthCoefEps = 1e-7

// Biorthogonalize maps amplitudes t to cc*((cOS+cSS)*t - cSS*swap(t)) where
// swap exchanges the trailing two axes. A same-spin weight of zero reduces
// this to a plain scaling and the swap is skipped.
func Biorthogonalize(t *tensor.Dense, cc, cOS, cSS float64) *tensor.Dense {
	sym := cc * (cOS + cSS)
	anti := -cc * cSS

	out := t.Clone()
	out.Scale(sym)

	if math.Abs(anti) < biorthCoefEps {
		return out
	}

	out.AddScaled(tensor.TransposeLast2(t), anti)

	return out
}
