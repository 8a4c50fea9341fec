// Package mat provides sparse complex matrices in coordinate (COO) format,
// Kronecker products, and the embedding of local operators into a
// tensor-product composite space.
package mat

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Entry is one nonzero element of a COO matrix.
type Entry struct {
	V   complex64
	Row int
	Col int
}

// COO is a sparse matrix in coordinate format.
// Data is kept sorted in row-major order.
type COO struct {
	rows int
	cols int
	Data []Entry

	m map[[2]int]complex64
}

// M creates a COO matrix from a dense representation.
func M(dense [][]complex64) *COO {
	m := &COO{rows: len(dense), cols: len(dense[0]), Data: make([]Entry, 0), m: make(map[[2]int]complex64)}
	for i, row := range dense {
		for j, v := range row {
			if v == 0 {
				continue
			}
			m.Data = append(m.Data, Entry{V: v, Row: i, Col: j})
		}
	}
	return m
}

// COOZeros creates a rows x cols matrix with no nonzero entries.
func COOZeros(rows, cols int) *COO {
	m := M([][]complex64{{0}})
	m.Zeros(rows, cols)
	return m
}

// COOIdentity creates a rows x rows identity matrix.
func COOIdentity(rows int) *COO {
	m := M([][]complex64{{0}})
	m.Zeros(rows, rows)
	for i := 0; i < rows; i++ {
		m.Data = append(m.Data, Entry{V: 1, Row: i, Col: i})
	}
	return m
}

func (m *COO) Rows() int { return m.rows }
func (m *COO) Cols() int { return m.cols }

func (m *COO) Zeros(rows, cols int) {
	m.rows, m.cols = rows, cols
	m.Data = m.Data[:0]
}

// At returns the value at (i, j), exploiting the row-major ordering of Data.
func (m *COO) At(i, j int) complex64 {
	k, ok := slices.BinarySearchFunc(m.Data, Entry{Row: i, Col: j}, rowMajor)
	if !ok {
		return 0
	}
	return m.Data[k].V
}

func (a *COO) Equal(b *COO) bool {
	if a.rows != b.rows {
		return false
	}
	if a.cols != b.cols {
		return false
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i, av := range a.Data {
		bv := b.Data[i]
		if av != bv {
			return false
		}
	}
	return true
}

// Slice returns the submatrix within bounds yBoundN and xBoundN.
// Negative bounds are counted from the end, as in slicing notation.
func (m *COO) Slice(yBoundN, xBoundN [2]int) *COO {
	yBound, xBound := yBoundN, xBoundN
	for i := 0; i < 2; i++ {
		if yBound[i] < 0 {
			yBound[i] += m.rows
		}
		if xBound[i] < 0 {
			xBound[i] += m.cols
		}
	}

	s := &COO{rows: yBound[1] - yBound[0], cols: xBound[1] - xBound[0], Data: make([]Entry, 0)}
	for _, v := range m.Data {
		if v.Row < yBound[0] {
			continue
		}
		if v.Row >= yBound[1] {
			break
		}
		if v.Col < xBound[0] || v.Col >= xBound[1] {
			continue
		}
		s.Data = append(s.Data, Entry{V: v.V, Row: v.Row - yBound[0], Col: v.Col - xBound[0]})
	}
	return s
}

// Add performs a += c*b.
func (a *COO) Add(c complex64, b *COO) {
	if a.m == nil {
		a.m = make(map[[2]int]complex64)
	}
	clear(a.m)
	for _, v := range b.Data {
		a.m[[2]int{v.Row, v.Col}] = v.V
	}

	for i, av := range a.Data {
		yx := [2]int{av.Row, av.Col}
		bv, ok := a.m[yx]
		if !ok {
			continue
		}
		delete(a.m, yx)
		a.Data[i].V = av.V + c*bv
	}

	a.Data = slices.DeleteFunc(a.Data, func(v Entry) bool {
		return v.V == 0
	})
	for yx, bv := range a.m {
		a.Data = append(a.Data, Entry{V: c * bv, Row: yx[0], Col: yx[1]})
	}
	slices.SortFunc(a.Data, rowMajor)
	clear(a.m)
}

// Kron performs a = kron(a, b).
func (a *COO) Kron(b *COO) {
	rows := a.rows * b.rows
	cols := a.cols * b.cols
	a.rows, a.cols = rows, cols

	prevElemNum := len(a.Data)
	for i := prevElemNum - 1; i >= 0; i-- {
		av := a.Data[i]
		a.Data[i].V = 0
		for _, bv := range b.Data {
			ky := av.Row*b.rows + bv.Row
			kx := av.Col*b.cols + bv.Col
			a.Data = append(a.Data, Entry{V: av.V * bv.V, Row: ky, Col: kx})
		}
	}

	a.Data = slices.DeleteFunc(a.Data, func(v Entry) bool {
		return v.V == 0
	})
	slices.SortFunc(a.Data, rowMajor)
}

// Embed places local operators into the composite space whose subsystem
// dimensions are dims. ops maps a subsystem slot to its local operator;
// slots absent from ops contribute identity blocks.
func Embed(dims []int, ops map[int]*COO) *COO {
	m := M([][]complex64{{1}})
	for k, d := range dims {
		op, ok := ops[k]
		if !ok {
			m.Kron(COOIdentity(d))
			continue
		}
		if op.rows != d || op.cols != d {
			panic(fmt.Sprintf("%d: %d %d %d", k, op.rows, op.cols, d))
		}
		m.Kron(op)
	}
	return m
}

// Dense returns the dense representation of m.
func (m *COO) Dense() [][]complex64 {
	dense := make([][]complex64, m.rows)
	for i := range dense {
		dense[i] = make([]complex64, m.cols)
	}

	for _, v := range m.Data {
		dense[v.Row][v.Col] = v.V
	}

	return dense
}

func (m *COO) String() string {
	if m.m == nil {
		m.m = make(map[[2]int]complex64)
	}
	clear(m.m)
	for _, v := range m.Data {
		m.m[[2]int{v.Row, v.Col}] = v.V
	}

	lines := []string{}
	for i := 0; i < m.rows; i++ {
		cs := []string{}
		for j := 0; j < m.cols; j++ {
			v := m.m[[2]int{i, j}]
			switch {
			case imag(v) == 0:
				cs = append(cs, format(real(v)))
			case real(v) == 0:
				cs = append(cs, format(imag(v))+"i")
			default:
				cs = append(cs, format(real(v))+"+"+format(imag(v))+"i")
			}
		}
		l := strings.Join(cs, "\t")
		lines = append(lines, l)
	}

	clear(m.m)
	return strings.Join(lines, "\n")
}

// HermEigenvalues returns the ascending eigenvalues of a Hermitian matrix.
// The matrix is embedded into the real symmetric form [[Re, -Im], [Im, Re]],
// whose spectrum is that of m with every eigenvalue doubled.
func (m *COO) HermEigenvalues() []float64 {
	n := m.rows
	s := mat.NewSymDense(2*n, nil)
	for _, v := range m.Data {
		re, im := float64(real(v.V)), float64(imag(v.V))
		s.SetSym(v.Row, v.Col, re)
		s.SetSym(v.Row+n, v.Col+n, re)
		if im != 0 {
			s.SetSym(v.Row+n, v.Col, im)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(s, false); !ok {
		panic("eig.Factorize failed")
	}
	doubled := eig.Values(nil)

	vals := make([]float64, 0, n)
	for i := 0; i < len(doubled); i += 2 {
		vals = append(vals, doubled[i])
	}
	return vals
}

func rowMajor(a, b Entry) int {
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Col, b.Col)
}

func format(v float32) string {
	// If v is 0 or -0, return "0" immediately to avoid returning "-0".
	if v == 0 {
		return " 0"
	}

	s := fmt.Sprintf("%v", v)

	// Add a space before non-negative numbers to align with other negative numbers in the same column.
	if v >= 0 {
		s = " " + s
	}

	return s
}
