package iontrap

import (
	"math"
	"math/cmplx"
)

// Dnm returns the matrix element <n|D(ξ)|m> of the phase-space displacement
// operator D(ξ) in the truncated Fock basis, with n, m zero-based phonon
// numbers.
//
// For n >= m the closed form is
//
//	sqrt(m!/n!) ξ^(n-m) exp(-|ξ|²/2) L_m^(n-m)(|ξ|²)
//
// with L the associated Laguerre polynomial. The n < m case follows from
// <m|D|n> = (-1)^(n-m) conj(<n|D|m>).
//
// At extreme arguments the closed form underflows to NaN, in which case the
// ξ=0 limit (identity) is substituted.
func Dnm(xi complex128, n, m int) complex128 {
	if n < m {
		v := cmplx.Conj(Dnm(xi, m, n))
		if (m-n)%2 == 1 {
			v = -v
		}
		return v
	}

	// s is the falling factorial n!/m! = (m+1)...n.
	s := 1.0
	for i := m + 1; i <= n; i++ {
		s *= float64(i)
	}
	x := real(xi)*real(xi) + imag(xi)*imag(xi)

	pow := complex(1, 0)
	for i := 0; i < n-m; i++ {
		pow *= xi
	}

	v := complex(math.Sqrt(1/s)*math.Exp(-x/2)*laguerre(m, n-m, x), 0) * pow
	if math.IsNaN(real(v)) || math.IsNaN(imag(v)) {
		if n == m {
			return 1
		}
		return 0
	}
	return v
}

// laguerre evaluates the associated Laguerre polynomial L_n^(k)(x) by the
// upward three-term recurrence.
func laguerre(n, k int, x float64) float64 {
	l0, l1 := 1.0, -x+float64(k)+1
	if n == 0 {
		return l0
	}
	for i := 2; i <= n; i++ {
		l0, l1 = l1, ((float64(2*i-1+k)-x)*l1-float64(i-1+k)*l0)/float64(i)
	}
	return l1
}
