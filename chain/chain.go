// Package chain computes the equilibrium structure and collective
// vibrational normal modes of a linear ion chain in a harmonic trap.
//
// Positions are in scaled units, where the unit length is
// l = (e²/(4πε₀Mω²))^(1/3) with ω the angular axial COM frequency.
//
// References:
//   - Quantum dynamics of cold trapped ions with application to quantum computation, D.F.V. James
package chain

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Axis is a principal trap axis. Z is the axial direction of the chain.
type Axis int

const (
	X Axis = iota
	Y
	Z
)

func (a Axis) String() string {
	switch a {
	case X:
		return "x"
	case Y:
		return "y"
	default:
		return "z"
	}
}

// COMFrequencies are the center-of-mass trap frequencies in Hz along each axis.
type COMFrequencies struct {
	X float64
	Y float64
	Z float64
}

// Along returns the COM frequency along axis a.
func (c COMFrequencies) Along(a Axis) float64 {
	switch a {
	case X:
		return c.X
	case Y:
		return c.Y
	default:
		return c.Z
	}
}

// Mode is one normal mode of the chain.
type Mode struct {
	// Frequency is the mode frequency in Hz.
	Frequency float64
	// Shape is the unit-norm per-ion participation vector.
	Shape []float64
}

const (
	// Initial guess spacing, equation 8 of James.
	spacingCoeff = 2.018
	spacingPow   = -0.559

	// Components of mode eigenvectors smaller than this are numerical noise.
	shapeTol = 1e-5

	equilibriumTol = 1e-10
	maxNewton      = 1000
)

// EquilibriumPositions returns the scaled equilibrium positions of n ions,
// symmetric about zero and strictly increasing.
// The positions balance the harmonic restoring force against the mutual
// Coulomb repulsion: u_i - Σ_{j<i} (u_i-u_j)^-2 + Σ_{j>i} (u_i-u_j)^-2 = 0.
func EquilibriumPositions(n int) ([]float64, error) {
	if n < 1 {
		return nil, errors.Errorf("%d", n)
	}
	if n == 1 {
		return []float64{0}, nil
	}

	// Initial guess: uniform spacing 2.018*n^-0.559 symmetric about zero,
	// skipping zero for even n.
	x := make([]float64, n)
	spacing := spacingCoeff * math.Pow(float64(n), spacingPow)
	for i := range x {
		x[i] = (float64(i) - float64(n-1)/2) * spacing
	}

	f := mat.NewVecDense(n, nil)
	jac := mat.NewDense(n, n, nil)
	delta := mat.NewVecDense(n, nil)
	for iter := 0; iter < maxNewton; iter++ {
		residual := forceBalance(f, x)
		if residual < equilibriumTol {
			return x, nil
		}

		jacobian(jac, x)
		var lu mat.LU
		lu.Factorize(jac)
		if err := lu.SolveVecTo(delta, false, f); err != nil {
			return nil, errors.Wrap(err, "")
		}
		for i := range x {
			x[i] -= delta.AtVec(i)
		}
	}

	residual := forceBalance(f, x)
	return nil, errors.Errorf("equilibrium positions of %d ions did not converge, residual %g", n, residual)
}

// forceBalance fills f with the force-balance residuals and returns their
// maximum magnitude.
func forceBalance(f *mat.VecDense, x []float64) float64 {
	var residual float64
	for i, xi := range x {
		fi := xi
		for j, xj := range x {
			switch {
			case j < i:
				d := xi - xj
				fi -= 1 / (d * d)
			case j > i:
				d := xi - xj
				fi += 1 / (d * d)
			}
		}
		f.SetVec(i, fi)
		if a := math.Abs(fi); a > residual {
			residual = a
		}
	}
	return residual
}

func jacobian(jac *mat.Dense, x []float64) {
	n := len(x)
	for i := 0; i < n; i++ {
		var diag float64 = 1
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			d := math.Abs(x[i] - x[j])
			inv3 := 1 / (d * d * d)
			diag += 2 * inv3
			jac.Set(i, j, -2*inv3)
		}
		jac.Set(i, i, diag)
	}
}

// NormalModes returns the normal modes of n ions along one axis, ordered so
// that index 0 is the center-of-mass mode.
// It fails when the frequency configuration is outside the mechanical
// stability region of the chain.
func NormalModes(n int, com COMFrequencies, axis Axis) ([]Mode, error) {
	x, err := EquilibriumPositions(n)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return normalModes(x, com, axis)
}

func normalModes(x []float64, com COMFrequencies, axis Axis) ([]Mode, error) {
	n := len(x)
	if com.Z <= 0 {
		return nil, errors.Errorf("axial COM frequency %g", com.Z)
	}
	beta := com.Along(axis) / com.Z
	// Coulomb coupling weight: the axial axis stiffens off-diagonal terms,
	// transverse axes soften them.
	var a float64 = -1
	if axis == Z {
		a = 2
	}

	sym := mat.NewSymDense(n, nil)
	for j := 0; j < n; j++ {
		diag := beta * beta
		for p := 0; p < n; p++ {
			if p == j {
				continue
			}
			d := math.Abs(x[j] - x[p])
			inv3 := 1 / (d * d * d)
			diag += a * inv3
			if p > j {
				sym.SetSym(j, p, -a*inv3)
			}
		}
		sym.SetSym(j, j, diag)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, errors.Errorf("eigendecomposition failed for %d ions on the %s axis", n, axis)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	modes := make([]Mode, 0, n)
	for i, v := range vals {
		if v <= 0 {
			return nil, errors.Errorf(
				"ion chain mechanically unstable on the %s axis: eigenvalue %g <= 0 for ν_%s/ν_z = %g (ν_%s = %g Hz, ν_z = %g Hz)",
				axis, v, axis, beta, axis, com.Along(axis), com.Z)
		}

		shape := make([]float64, n)
		for j := 0; j < n; j++ {
			shape[j] = vecs.At(j, i)
		}
		cleanShape(shape)

		modes = append(modes, Mode{Frequency: math.Sqrt(v) * com.Z, Shape: shape})
	}

	// EigenSym returns ascending eigenvalues, which puts the COM mode first
	// on the axial axis. On transverse axes the COM mode is the stiffest, so
	// the order is reversed.
	if axis != Z {
		for i, j := 0, len(modes)-1; i < j; i, j = i+1, j-1 {
			modes[i], modes[j] = modes[j], modes[i]
		}
	}
	return modes, nil
}

// cleanShape zeroes negligible components, renormalizes, and fixes the sign
// so that the first nonzero component is positive.
func cleanShape(shape []float64) {
	var norm float64
	for i, v := range shape {
		if math.Abs(v) < shapeTol {
			shape[i] = 0
			continue
		}
		norm += v * v
	}
	norm = math.Sqrt(norm)

	var sign float64 = 1
	for _, v := range shape {
		if v != 0 {
			if v < 0 {
				sign = -1
			}
			break
		}
	}
	for i := range shape {
		shape[i] *= sign / norm
	}
}

// FullModeDescription returns the normal modes along all three axes.
func FullModeDescription(n int, com COMFrequencies) (map[Axis][]Mode, error) {
	x, err := EquilibriumPositions(n)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	all := make(map[Axis][]Mode, 3)
	for _, axis := range []Axis{X, Y, Z} {
		modes, err := normalModes(x, com, axis)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		all[axis] = modes
	}
	return all, nil
}
