// Package iontrap compiles the time-dependent interaction Hamiltonian of a
// chain of trapped ions coupled to lasers and to the chain's collective
// vibrational modes.
//
// The composite Hilbert space is the tensor product of every ion's
// electronic subspace followed by every vibrational mode's truncated phonon
// subspace. Hamiltonian returns an evaluator that rewrites a preallocated
// sparse matrix over this space at each requested time.
//
// References:
//   - Quantum dynamics of single trapped ions, D. Leibfried et al.
package iontrap

import (
	"math"

	"github.com/pkg/errors"

	"iontrap/chain"
)

// Physical constants (SI).
const (
	hbar   = 1.054571817e-34
	qe     = 1.602176634e-19
	eps0   = 8.8541878128e-12
	clight = 299792458.0
)

// Level is one electronic level of an ion.
type Level struct {
	Name string
	// ZeemanShift is the linear shift of the level energy with the magnetic
	// field, in Hz/T.
	ZeemanShift float64
}

// Transition couples two electronic levels.
type Transition struct {
	Lower string
	Upper string
	// Frequency is the bare transition frequency in Hz.
	Frequency float64
	// Rabi is the coupling strength in Hz at unit laser envelope and unit
	// pointing weight.
	Rabi float64
	// StarkShift is the static AC Stark shift of the transition in Hz.
	StarkShift float64
}

// Ion is one ion of the chain.
type Ion struct {
	// Mass in kg.
	Mass        float64
	Levels      []Level
	Transitions []Transition
}

// Dim is the dimension of the ion's electronic subspace.
func (ion *Ion) Dim() int { return len(ion.Levels) }

func (ion *Ion) levelIndex(name string) (int, error) {
	for i, l := range ion.Levels {
		if l.Name == name {
			return i, nil
		}
	}
	return -1, errors.Errorf("unknown level %q", name)
}

// Laser is one laser beam addressing the chain.
type Laser struct {
	// Frequency in Hz.
	Frequency float64
	// Detuning is a frequency offset in Hz added to Frequency.
	Detuning float64
	// Direction is the unit propagation vector in trap coordinates.
	Direction [3]float64
	// Pointing holds the per-ion intensity weight; a zero weight means the
	// laser does not illuminate that ion.
	Pointing []float64
	// E is the amplitude envelope as a function of time in working units.
	E func(t float64) float64
	// Phase is the time-dependent phase in radians.
	Phase func(t float64) float64
}

// VibrationalMode is one collective mode participating in the dynamics,
// selected from the chain's normal-mode description.
type VibrationalMode struct {
	Axis chain.Axis
	// Frequency is the nominal mode frequency in Hz.
	Frequency float64
	// Shape is the per-ion participation vector.
	Shape []float64
	// Dim is the truncated phonon-number basis dimension.
	Dim int
	// DeltaNu is the mode frequency fluctuation in Hz, or nil.
	DeltaNu func(t float64) float64
}

// SelectMode picks the mode at ordinal distance k from the center-of-mass
// mode along axis, truncated to dim phonon levels.
func SelectMode(modes map[chain.Axis][]chain.Mode, axis chain.Axis, k, dim int) (*VibrationalMode, error) {
	axisModes := modes[axis]
	if k < 0 || k >= len(axisModes) {
		return nil, errors.Errorf("mode %d of %d on the %s axis", k, len(axisModes), axis)
	}
	if dim < 1 {
		return nil, errors.Errorf("%d", dim)
	}
	m := axisModes[k]
	return &VibrationalMode{Axis: axis, Frequency: m.Frequency, Shape: m.Shape, Dim: dim}, nil
}

// Trap is the static description of the system: ions in a chain, lasers, and
// the vibrational modes kept in the dynamics.
type Trap struct {
	Ions   []*Ion
	Lasers []*Laser
	Modes  []*VibrationalMode
	COM    chain.COMFrequencies

	// B is the static magnetic field in T, BGradient its gradient along the
	// axial direction in T/m.
	B         float64
	BGradient float64
	// DeltaB is the global field fluctuation in T, or nil.
	DeltaB func(t float64) float64

	eq []float64
}

func (tp *Trap) validate() error {
	if len(tp.Ions) == 0 {
		return errors.Errorf("no ions")
	}
	for i, ion := range tp.Ions {
		if ion.Mass <= 0 {
			return errors.Errorf("ion %d mass %g", i, ion.Mass)
		}
		if len(ion.Levels) < 2 {
			return errors.Errorf("ion %d has %d levels", i, len(ion.Levels))
		}
		// Reversed duplicates would land on the transposes of each other's
		// matrix elements, where their contributions cannot be summed.
		seen := make(map[[2]int]bool, len(ion.Transitions))
		for _, t := range ion.Transitions {
			li, err := ion.levelIndex(t.Lower)
			if err != nil {
				return errors.Wrap(err, "")
			}
			ui, err := ion.levelIndex(t.Upper)
			if err != nil {
				return errors.Wrap(err, "")
			}
			if li == ui {
				return errors.Errorf("ion %d transition couples level %q to itself", i, t.Lower)
			}
			if seen[[2]int{ui, li}] {
				return errors.Errorf("ion %d couples levels %q and %q in both orientations", i, t.Lower, t.Upper)
			}
			seen[[2]int{li, ui}] = true
		}
	}
	for i, laser := range tp.Lasers {
		if len(laser.Pointing) != len(tp.Ions) {
			return errors.Errorf("laser %d points at %d of %d ions", i, len(laser.Pointing), len(tp.Ions))
		}
	}
	for i, mode := range tp.Modes {
		if len(mode.Shape) != len(tp.Ions) {
			return errors.Errorf("mode %d shape %d for %d ions", i, len(mode.Shape), len(tp.Ions))
		}
		if mode.Dim < 1 {
			return errors.Errorf("mode %d dim %d", i, mode.Dim)
		}
		if mode.Frequency <= 0 {
			return errors.Errorf("mode %d frequency %g", i, mode.Frequency)
		}
	}
	return nil
}

// positions returns the scaled equilibrium positions, solved once.
func (tp *Trap) positions() ([]float64, error) {
	if tp.eq == nil {
		x, err := chain.EquilibriumPositions(len(tp.Ions))
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		tp.eq = x
	}
	return tp.eq, nil
}

// lengthScale is the unit length of the scaled equilibrium coordinates.
func (tp *Trap) lengthScale(mass float64) float64 {
	omega := 2 * math.Pi * tp.COM.Z
	return math.Cbrt(qe * qe / (4 * math.Pi * eps0 * mass * omega * omega))
}

// IonPosition returns the equilibrium position of ion i in meters along the
// axial direction.
func (tp *Trap) IonPosition(i int) (float64, error) {
	x, err := tp.positions()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return x[i] * tp.lengthScale(tp.Ions[i].Mass), nil
}

// TransitionFrequency returns the transition frequency of ion i in Hz,
// including the position-dependent Zeeman shift and the static Stark shift.
func (tp *Trap) TransitionFrequency(i int, t Transition) (float64, error) {
	ion := tp.Ions[i]
	li, err := ion.levelIndex(t.Lower)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	ui, err := ion.levelIndex(t.Upper)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}

	z, err := tp.IonPosition(i)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	b := tp.B + tp.BGradient*z
	zeeman := (ion.Levels[ui].ZeemanShift - ion.Levels[li].ZeemanShift) * b
	return t.Frequency + t.StarkShift + zeeman, nil
}

// LambDickeParameter returns the Lamb-Dicke parameter coupling ion i's
// transitions driven by laser to mode's phonon ladder.
// When scaled is true, the parameter is computed for a unit mode frequency,
// to be divided by sqrt(ν+δν(t)) at evaluation time.
func (tp *Trap) LambDickeParameter(mode *VibrationalMode, laser *Laser, i int, scaled bool) float64 {
	k := 2 * math.Pi * (laser.Frequency + laser.Detuning) / clight
	geom := k * laser.Direction[mode.Axis] * mode.Shape[i]

	nu := mode.Frequency
	if scaled {
		nu = 1
	}
	x0 := math.Sqrt(hbar / (2 * tp.Ions[i].Mass * 2 * math.Pi * nu))
	return geom * x0
}
