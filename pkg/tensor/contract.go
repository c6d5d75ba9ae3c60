package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Path selects the execution strategy for the matrix-expressible contraction
// kernels. It is resolved once at engine construction from configuration and
// threaded explicitly through the Contractor; there is no process-global
// backend switch.
type Path int

const (
	// PathNaive executes contractions as direct index loops.
	PathNaive Path = iota

	// PathBLAS routes contractions through gonum's BLAS-backed dense kernels.
	PathBLAS
)

// String returns the path name for logging.
func (p Path) String() string {
	if p == PathBLAS {
		return "blas"
	}

	return "naive"
}

// Contractor executes matrix contractions on a fixed path.
type Contractor struct {
	path Path
}

// NewContractor resolves the execution path from the optimized flag.
func NewContractor(optimized bool) Contractor {
	if optimized {
		return Contractor{path: PathBLAS}
	}

	return Contractor{path: PathNaive}
}

// Path returns the resolved execution path.
func (c Contractor) Path() Path {
	return c.path
}

// MatMul returns A·B for 2-D tensors.
func (c Contractor) MatMul(a, b *Dense) *Dense {
	ar, ac := mustMatrix(a)
	br, bc := mustMatrix(b)

	if ac != br {
		panic(fmt.Sprintf("tensor: matmul inner dims %d vs %d", ac, br))
	}

	out := New(ar, bc)

	if c.path == PathBLAS {
		om := mat.NewDense(ar, bc, out.data)
		om.Mul(mat.NewDense(ar, ac, a.data), mat.NewDense(br, bc, b.data))

		return out
	}

	for i := range ar {
		for k := range ac {
			av := a.data[i*ac+k]
			if av == 0 {
				continue
			}

			brow := b.data[k*bc : (k+1)*bc]
			orow := out.data[i*bc : (i+1)*bc]

			for j, bv := range brow {
				orow[j] += av * bv
			}
		}
	}

	return out
}

// MatMulT returns Aᵀ·B for 2-D tensors.
func (c Contractor) MatMulT(a, b *Dense) *Dense {
	ar, ac := mustMatrix(a)
	br, bc := mustMatrix(b)

	if ar != br {
		panic(fmt.Sprintf("tensor: matmulT inner dims %d vs %d", ar, br))
	}

	out := New(ac, bc)

	if c.path == PathBLAS {
		om := mat.NewDense(ac, bc, out.data)
		om.Mul(mat.NewDense(ar, ac, a.data).T(), mat.NewDense(br, bc, b.data))

		return out
	}

	for k := range ar {
		arow := a.data[k*ac : (k+1)*ac]
		brow := b.data[k*bc : (k+1)*bc]

		for i, av := range arow {
			if av == 0 {
				continue
			}

			orow := out.data[i*bc : (i+1)*bc]

			for j, bv := range brow {
				orow[j] += av * bv
			}
		}
	}

	return out
}

// MatMulNT returns A·Bᵀ for 2-D tensors.
func (c Contractor) MatMulNT(a, b *Dense) *Dense {
	ar, ac := mustMatrix(a)
	br, bc := mustMatrix(b)

	if ac != bc {
		panic(fmt.Sprintf("tensor: matmulNT inner dims %d vs %d", ac, bc))
	}

	out := New(ar, br)

	if c.path == PathBLAS {
		om := mat.NewDense(ar, br, out.data)
		om.Mul(mat.NewDense(ar, ac, a.data), mat.NewDense(br, bc, b.data).T())

		return out
	}

	for i := range ar {
		arow := a.data[i*ac : (i+1)*ac]
		orow := out.data[i*br : (i+1)*br]

		for j := range br {
			brow := b.data[j*bc : (j+1)*bc]

			var sum float64
			for k, av := range arow {
				sum += av * brow[k]
			}

			orow[j] = sum
		}
	}

	return out
}

// Transform returns basisᵀ·M·basis applied per leading index of m. The
// trailing two axes of m must be square and match the basis row count.
func (c Contractor) Transform(m, basis *Dense) *Dense {
	n, lead := trailingSquare(m)
	br, bc := mustMatrix(basis)

	if br != n {
		panic(fmt.Sprintf("tensor: transform basis rows %d vs matrix order %d", br, n))
	}

	shape := m.Shape()
	shape[len(shape)-2], shape[len(shape)-1] = bc, bc
	out := New(shape...)
	block := n * n
	outBlock := bc * bc

	for l := range lead {
		ml := NewFromData(m.data[l*block:(l+1)*block], n, n)
		res := c.MatMulT(basis, c.MatMul(ml, basis))
		copy(out.data[l*outBlock:(l+1)*outBlock], res.data)
	}

	return out
}

func mustMatrix(t *Dense) (rows, cols int) {
	if t.Dims() != 2 {
		panic(fmt.Sprintf("tensor: expected 2-D tensor, got shape %v", t.shape))
	}

	return t.shape[0], t.shape[1]
}
