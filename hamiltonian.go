package iontrap

import (
	"cmp"
	"math"
	"math/cmplx"
	"slices"

	"github.com/pkg/errors"

	"iontrap/mat"
)

// ProbeGrid is the coarse time grid used to detect identically zero
// coefficient functions. A function indistinguishable from zero on the grid
// is treated as exactly zero.
type ProbeGrid struct {
	Start float64
	Stop  float64
	Step  float64
}

// zero reports whether f vanishes on the grid. A nil f is zero.
func (g ProbeGrid) zero(f func(float64) float64) bool {
	if f == nil {
		return true
	}
	for t := g.Start; t <= g.Stop; t += g.Step {
		if f(t) != 0 {
			return false
		}
	}
	return true
}

// Options are options for the Hamiltonian compiler.
type Options struct {
	timescale      float64
	lambDickeOrder int
	rwaCutoff      float64
	probe          ProbeGrid
}

// NewOptions returns the default compiler options: microsecond working time
// unit, Lamb-Dicke order 1, and no rotating-wave cutoff.
func NewOptions() Options {
	opt := Options{}
	opt.timescale = 1e-6
	opt.lambDickeOrder = 1
	opt.rwaCutoff = math.Inf(1)
	opt.probe = ProbeGrid{Start: 0, Stop: 100, Step: 0.01}
	return opt
}

// Timescale sets the unit conversion factor from physical seconds to one
// working time unit.
func (opt Options) Timescale(v float64) Options {
	opt.timescale = v
	return opt
}

// LambDickeOrder sets the maximum phonon-number change per retained term.
func (opt Options) LambDickeOrder(n int) Options {
	opt.lambDickeOrder = n
	return opt
}

// RWACutoff sets the frequency cutoff in Hz above which oscillatory terms
// are dropped. +Inf disables the rotating-wave approximation.
func (opt Options) RWACutoff(v float64) Options {
	opt.rwaCutoff = v
	return opt
}

// Probe sets the zero-detection grid.
func (opt Options) Probe(g ProbeGrid) Options {
	opt.probe = g
	return opt
}

// EvalFunc returns the interaction Hamiltonian at time t in working units.
// The state argument exists for integrator interfaces and is ignored.
// The returned matrix is owned by the evaluator and overwritten in place on
// the next call; callers must not retain entries across calls.
type EvalFunc func(t float64, state []complex64) *mat.COO

// indexPair is one coordinate of the composite-space sparse matrix.
type indexPair struct {
	row int
	col int
}

// coeff returns the values written at a term's primary index group and at
// its conjugate group.
type coeff func(t float64) (complex128, complex128)

// compiledTerm is the unit of work per time step: contributing coefficient
// functions, the primary index group, and the conjugate index group.
// Contributions from combinations sharing the same leading coordinate are
// accumulated in fs and summed at evaluation.
type compiledTerm struct {
	fs   []coeff
	idx  []indexPair
	cidx []indexPair
}

// diagTerm scales a set of diagonal positions by weight*f(t).
type diagTerm struct {
	f      func(t float64) float64
	pos    []int
	weight []float64
}

// Hamiltonian compiles the interaction Hamiltonian of the trap and returns
// its evaluator. Compilation runs once; the evaluator may then be called
// repeatedly with arbitrary times by a single caller.
func Hamiltonian(tp *Trap, opts ...Options) (EvalFunc, error) {
	opt := NewOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	if err := tp.validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if opt.timescale <= 0 {
		return nil, errors.Errorf("timescale %g", opt.timescale)
	}
	if opt.probe.Step <= 0 || opt.probe.Stop < opt.probe.Start {
		return nil, errors.Errorf("probe grid [%g, %g] step %g", opt.probe.Start, opt.probe.Stop, opt.probe.Step)
	}

	dims := subsystemDims(tp)
	terms, err := compileTerms(tp, dims, opt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	diags, err := compileDiagonals(tp, dims, opt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return newEvaluator(dims, terms, diags), nil
}

// Dimension returns the composite Hilbert-space dimension of the trap.
func (tp *Trap) Dimension() int {
	total := 1
	for _, d := range subsystemDims(tp) {
		total *= d
	}
	return total
}

// subsystemDims lists the subsystem dimensions in composite order:
// all ion electronic subspaces, then all mode phonon subspaces.
func subsystemDims(tp *Trap) []int {
	dims := make([]int, 0, len(tp.Ions)+len(tp.Modes))
	for _, ion := range tp.Ions {
		dims = append(dims, ion.Dim())
	}
	for _, m := range tp.Modes {
		dims = append(dims, m.Dim)
	}
	return dims
}

// kronImages returns the composite-space coordinates carrying a local
// operator entry: local (row, col) indices are fixed at the slots in fixed,
// and all remaining slots run over their identity diagonals. Coordinates
// follow the row-major mixed-radix encoding of the Kronecker product and are
// sorted by column.
func kronImages(dims []int, fixed map[int][2]int) []indexPair {
	free := make([]int, 0, len(dims))
	count := 1
	for k := range dims {
		if _, ok := fixed[k]; !ok {
			free = append(free, k)
			count *= dims[k]
		}
	}

	digits := make([]int, len(dims))
	images := make([]indexPair, 0, count)
	for n := 0; n < count; n++ {
		rem := n
		for i := len(free) - 1; i >= 0; i-- {
			d := dims[free[i]]
			digits[free[i]] = rem % d
			rem /= d
		}

		row, col := 0, 0
		for k, d := range dims {
			if rc, ok := fixed[k]; ok {
				row = row*d + rc[0]
				col = col*d + rc[1]
			} else {
				row = row*d + digits[k]
				col = col*d + digits[k]
			}
		}
		images = append(images, indexPair{row: row, col: col})
	}

	slices.SortFunc(images, func(a, b indexPair) int {
		if c := cmp.Compare(a.col, b.col); c != 0 {
			return c
		}
		return cmp.Compare(a.row, b.row)
	})
	return images
}

// rwaPass is the frequency-matching test for a term whose phonon-number
// changes shift its oscillation frequency by shift working-unit cycles:
// |Δ/2π + shift| < cutoff·timescale. All terms pass when the cutoff is
// infinite.
func rwaPass(delta, shift float64, opt Options) bool {
	if math.IsInf(opt.rwaCutoff, 1) {
		return true
	}
	return math.Abs(delta/(2*math.Pi)+shift) < opt.rwaCutoff*opt.timescale
}

// modeFactor is one active mode's contribution to a term's displacement
// product.
type modeFactor struct {
	eta  func(float64) float64
	nuts float64
	i, j int
}

func compileTerms(tp *Trap, dims []int, opt Options) ([]*compiledTerm, error) {
	noRWA := math.IsInf(opt.rwaCutoff, 1)
	keyed := make(map[indexPair]*compiledTerm)
	terms := make([]*compiledTerm, 0)

	for ni, ion := range tp.Ions {
		for _, laser := range tp.Lasers {
			w := laser.Pointing[ni]
			if w == 0 || opt.probe.zero(laser.E) {
				continue
			}
			envelope, phase := laser.E, laser.Phase

			// Lamb-Dicke parameter functions for this (ion, laser) pair.
			// A nil function means the mode is untouched by the pair.
			etas := make([]func(float64) float64, len(tp.Modes))
			for mi, mode := range tp.Modes {
				etaScaled := tp.LambDickeParameter(mode, laser, ni, true)
				if etaScaled == 0 {
					continue
				}
				if mode.DeltaNu == nil || opt.probe.zero(mode.DeltaNu) {
					etaConst := etaScaled / math.Sqrt(mode.Frequency)
					etas[mi] = func(float64) float64 { return etaConst }
				} else {
					nu, deltaNu := mode.Frequency, mode.DeltaNu
					etas[mi] = func(t float64) float64 { return etaScaled / math.Sqrt(nu+deltaNu(t)) }
				}
			}

			for _, tr := range ion.Transitions {
				omega0 := math.Pi * opt.timescale * w * tr.Rabi
				if omega0 == 0 {
					continue
				}
				li, err := ion.levelIndex(tr.Lower)
				if err != nil {
					return nil, errors.Wrap(err, "")
				}
				ui, err := ion.levelIndex(tr.Upper)
				if err != nil {
					return nil, errors.Wrap(err, "")
				}
				freq, err := tp.TransitionFrequency(ni, tr)
				if err != nil {
					return nil, errors.Wrap(err, "")
				}
				delta := 2 * math.Pi * opt.timescale * (laser.Frequency + laser.Detuning - freq)

				rabi := func(t float64) complex128 {
					g := complex(omega0*envelope(t), 0) * cmplx.Exp(complex(0, -delta*t))
					if phase != nil {
						g *= cmplx.Exp(complex(0, -phase(t)))
					}
					return g
				}

				if len(tp.Modes) == 0 {
					if !rwaPass(delta, 0, opt) {
						continue
					}
					images := kronImages(dims, map[int][2]int{ni: {ui, li}})
					f := func(t float64) (complex128, complex128) {
						g := rabi(t)
						return g, g
					}
					addTerm(keyed, &terms, images, nil, f)
					continue
				}

				// Every term fixes every mode slot, so that the same physical
				// matrix element reached through different lasers produces the
				// identical index group and merges. Inactive modes stay on
				// their diagonal with a unit factor.
				modeDims := dims[len(tp.Ions):]
				count := 1
				for _, d := range modeDims {
					count *= d
				}
				rowDigits := make([]int, len(modeDims))
				colDigits := make([]int, len(modeDims))
				for ti := 0; ti < count; ti++ {
					decode(rowDigits, modeDims, ti)
					jMax := count - 1
					if noRWA {
						// The lower triangle follows from the conjugate
						// symmetry of the displacement elements.
						jMax = ti
					}
					for tj := 0; tj <= jMax; tj++ {
						decode(colDigits, modeDims, tj)

						shift, hop, ok := tupleAdmissible(tp, etas, rowDigits, colDigits, opt)
						if !ok {
							continue
						}
						if !rwaPass(delta, shift, opt) {
							continue
						}

						fixed := map[int][2]int{ni: {ui, li}}
						for mi := range tp.Modes {
							fixed[len(tp.Ions)+mi] = [2]int{rowDigits[mi], colDigits[mi]}
						}
						images := kronImages(dims, fixed)

						var conj []indexPair
						sign := 1.0
						if noRWA && ti != tj {
							cfixed := map[int][2]int{ni: {ui, li}}
							for mi := range tp.Modes {
								cfixed[len(tp.Ions)+mi] = [2]int{colDigits[mi], rowDigits[mi]}
							}
							conj = kronImages(dims, cfixed)
							if hop%2 != 0 {
								sign = -1
							}
						}

						factors := make([]modeFactor, 0, len(tp.Modes))
						for mi, mode := range tp.Modes {
							if etas[mi] == nil {
								continue
							}
							factors = append(factors, modeFactor{
								eta:  etas[mi],
								nuts: mode.Frequency * opt.timescale,
								i:    rowDigits[mi],
								j:    colDigits[mi],
							})
						}

						f := func(t float64) (complex128, complex128) {
							g := rabi(t)
							d := complex(1, 0)
							for _, mf := range factors {
								xi := complex(0, mf.eta(t)) * cmplx.Exp(complex(0, 2*math.Pi*mf.nuts*t))
								d *= Dnm(xi, mf.i, mf.j)
							}
							return g * d, complex(sign, 0) * g * cmplx.Conj(d)
						}
						addTerm(keyed, &terms, images, conj, f)
					}
				}
			}
		}
	}
	return terms, nil
}

// decode writes the row-major mixed-radix digits of n over dims into digits.
func decode(digits, dims []int, n int) {
	for i := len(dims) - 1; i >= 0; i-- {
		digits[i] = n % dims[i]
		n /= dims[i]
	}
}

// tupleAdmissible applies the per-mode cutoffs to one (row, col) tuple of
// phonon numbers: inactive modes must stay on their diagonal, and no mode may
// hop by more than the Lamb-Dicke order. It returns the tuple's oscillation
// frequency shift in working-unit cycles and the total phonon-number change.
func tupleAdmissible(tp *Trap, etas []func(float64) float64, row, col []int, opt Options) (shift float64, hop int, ok bool) {
	for mi, mode := range tp.Modes {
		i, j := row[mi], col[mi]
		if i != j && etas[mi] == nil {
			return 0, 0, false
		}
		if i-j > opt.lambDickeOrder || j-i > opt.lambDickeOrder {
			return 0, 0, false
		}
		shift += float64(j-i) * mode.Frequency * opt.timescale
		hop += i - j
	}
	return shift, hop, true
}

// addTerm records a term's contribution, merging it into an existing term
// when its index group's leading coordinate has been seen before (the same
// physical matrix element reached through another combination).
func addTerm(keyed map[indexPair]*compiledTerm, terms *[]*compiledTerm, idx, cidx []indexPair, f coeff) {
	key := idx[0]
	if t, ok := keyed[key]; ok {
		t.fs = append(t.fs, f)
		return
	}
	t := &compiledTerm{fs: []coeff{f}, idx: idx, cidx: cidx}
	keyed[key] = t
	*terms = append(*terms, t)
}

// projector returns the d-dimensional projector onto basis state i.
func projector(d, i int) *mat.COO {
	p := mat.COOZeros(d, d)
	p.Data = append(p.Data, mat.Entry{V: 1, Row: i, Col: i})
	return p
}

// compileDiagonals builds the diagonal fluctuation terms: the global field
// noise acting on every Zeeman-sensitive electronic level, and each mode's
// frequency noise acting on its phonon number operator.
func compileDiagonals(tp *Trap, dims []int, opt Options) ([]diagTerm, error) {
	diags := make([]diagTerm, 0)

	if tp.DeltaB != nil && !opt.probe.zero(tp.DeltaB) {
		pos := make([]int, 0)
		weight := make([]float64, 0)
		for ni, ion := range tp.Ions {
			for li, level := range ion.Levels {
				if level.ZeemanShift == 0 {
					continue
				}
				emb := mat.Embed(dims, map[int]*mat.COO{ni: projector(ion.Dim(), li)})
				for _, e := range emb.Data {
					pos = append(pos, e.Row)
					weight = append(weight, level.ZeemanShift)
				}
			}
		}
		if len(pos) > 0 {
			deltaB, ts := tp.DeltaB, opt.timescale
			f := func(t float64) float64 { return 2 * math.Pi * deltaB(t) * ts }
			diags = append(diags, diagTerm{f: f, pos: pos, weight: weight})
		}
	}

	for mi, mode := range tp.Modes {
		if mode.DeltaNu == nil || opt.probe.zero(mode.DeltaNu) {
			continue
		}
		slot := len(tp.Ions) + mi
		pos := make([]int, 0)
		weight := make([]float64, 0)
		for n := 1; n < mode.Dim; n++ {
			emb := mat.Embed(dims, map[int]*mat.COO{slot: projector(mode.Dim, n)})
			for _, e := range emb.Data {
				pos = append(pos, e.Row)
				weight = append(weight, float64(n))
			}
		}
		if len(pos) == 0 {
			continue
		}
		deltaNu, ts := mode.DeltaNu, opt.timescale
		f := func(t float64) float64 { return 2 * math.Pi * deltaNu(t) * ts }
		diags = append(diags, diagTerm{f: f, pos: pos, weight: weight})
	}

	return diags, nil
}

// sumCoeffs builds one summation function over a term's contributions.
func sumCoeffs(fs []coeff) coeff {
	if len(fs) == 1 {
		return fs[0]
	}
	return func(t float64) (complex128, complex128) {
		var v, cv complex128
		for _, f := range fs {
			a, b := f(t)
			v += a
			cv += b
		}
		return v, cv
	}
}

// evalTerm is a compiled term with its index groups resolved to offsets into
// the snapshot's entry slice: the primary group, its Hermitian transpose,
// the conjugate group, and the conjugate group's Hermitian transpose.
type evalTerm struct {
	f     coeff
	pos   []int
	posT  []int
	cpos  []int
	cposT []int
}

// newEvaluator discovers the full sparsity structure touched by the terms,
// preallocates the snapshot, and returns the closure that rewrites it.
func newEvaluator(dims []int, terms []*compiledTerm, diags []diagTerm) EvalFunc {
	total := 1
	for _, d := range dims {
		total *= d
	}

	coords := make(map[indexPair]struct{})
	for _, t := range terms {
		for _, p := range t.idx {
			coords[p] = struct{}{}
			coords[indexPair{row: p.col, col: p.row}] = struct{}{}
		}
		for _, p := range t.cidx {
			coords[p] = struct{}{}
			coords[indexPair{row: p.col, col: p.row}] = struct{}{}
		}
	}
	for _, d := range diags {
		for _, i := range d.pos {
			coords[indexPair{row: i, col: i}] = struct{}{}
		}
	}

	sorted := make([]indexPair, 0, len(coords))
	for p := range coords {
		sorted = append(sorted, p)
	}
	slices.SortFunc(sorted, func(a, b indexPair) int {
		if c := cmp.Compare(a.row, b.row); c != 0 {
			return c
		}
		return cmp.Compare(a.col, b.col)
	})

	snap := mat.COOZeros(total, total)
	offset := make(map[indexPair]int, len(sorted))
	for i, p := range sorted {
		snap.Data = append(snap.Data, mat.Entry{Row: p.row, Col: p.col})
		offset[p] = i
	}

	resolve := func(ps []indexPair, transpose bool) []int {
		offs := make([]int, 0, len(ps))
		for _, p := range ps {
			if transpose {
				p = indexPair{row: p.col, col: p.row}
			}
			offs = append(offs, offset[p])
		}
		return offs
	}

	evalTerms := make([]evalTerm, 0, len(terms))
	for _, t := range terms {
		evalTerms = append(evalTerms, evalTerm{
			f:     sumCoeffs(t.fs),
			pos:   resolve(t.idx, false),
			posT:  resolve(t.idx, true),
			cpos:  resolve(t.cidx, false),
			cposT: resolve(t.cidx, true),
		})
	}

	// The union of diagonal positions is reset to zero before fluctuation
	// contributions accumulate, so nothing carries over between calls.
	zset := make(map[int]struct{})
	for _, d := range diags {
		for i := range d.pos {
			d.pos[i] = offset[indexPair{row: d.pos[i], col: d.pos[i]}]
			zset[d.pos[i]] = struct{}{}
		}
	}
	zeroOffs := make([]int, 0, len(zset))
	for o := range zset {
		zeroOffs = append(zeroOffs, o)
	}
	slices.Sort(zeroOffs)

	return func(t float64, _ []complex64) *mat.COO {
		data := snap.Data
		for _, o := range zeroOffs {
			data[o].V = 0
		}

		for _, et := range evalTerms {
			v, cv := et.f(t)
			v64 := complex64(v)
			vT64 := complex64(cmplx.Conj(v))
			for _, o := range et.pos {
				data[o].V = v64
			}
			for _, o := range et.posT {
				data[o].V = vT64
			}
			if len(et.cpos) == 0 {
				continue
			}
			c64 := complex64(cv)
			cT64 := complex64(cmplx.Conj(cv))
			for _, o := range et.cpos {
				data[o].V = c64
			}
			for _, o := range et.cposT {
				data[o].V = cT64
			}
		}

		for _, d := range diags {
			w := d.f(t)
			for k, o := range d.pos {
				data[o].V += complex64(complex(d.weight[k]*w, 0))
			}
		}
		return snap
	}
}
