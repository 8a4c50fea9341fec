// Package config loads a trap description from YAML.
package config

import (
	"bytes"
	"math"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"iontrap"
	"iontrap/chain"
)

type noiseSpec struct {
	// Type is one of "none", "const", "sine".
	Type      string  `yaml:"type"`
	Value     float64 `yaml:"value"`
	Amplitude float64 `yaml:"amplitude"`
	// Frequency is in cycles per working time unit.
	Frequency float64 `yaml:"frequency"`
	Phase     float64 `yaml:"phase"`
}

func (n noiseSpec) fn() (func(float64) float64, error) {
	switch n.Type {
	case "", "none":
		return nil, nil
	case "const":
		v := n.Value
		return func(float64) float64 { return v }, nil
	case "sine":
		a, f, ph := n.Amplitude, n.Frequency, n.Phase
		return func(t float64) float64 { return a * math.Sin(2*math.Pi*f*t+ph) }, nil
	default:
		return nil, errors.Errorf("noise type %q", n.Type)
	}
}

type levelSpec struct {
	Name   string  `yaml:"name"`
	Zeeman float64 `yaml:"zeeman"`
}

type transitionSpec struct {
	Lower     string  `yaml:"lower"`
	Upper     string  `yaml:"upper"`
	Frequency float64 `yaml:"frequency"`
	Rabi      float64 `yaml:"rabi"`
	Stark     float64 `yaml:"stark"`
}

type ionSpec struct {
	Mass        float64          `yaml:"mass"`
	Levels      []levelSpec      `yaml:"levels"`
	Transitions []transitionSpec `yaml:"transitions"`
}

type laserSpec struct {
	Frequency float64    `yaml:"frequency"`
	Detuning  float64    `yaml:"detuning"`
	Direction [3]float64 `yaml:"direction"`
	Pointing  []float64  `yaml:"pointing"`
	Amplitude noiseSpec  `yaml:"amplitude"`
	Phase     noiseSpec  `yaml:"phase"`
}

type modeSpec struct {
	Axis    string    `yaml:"axis"`
	Ordinal int       `yaml:"ordinal"`
	Dim     int       `yaml:"dim"`
	Noise   noiseSpec `yaml:"noise"`
}

type comSpec struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type trapSpec struct {
	COM       comSpec     `yaml:"com_frequencies"`
	BField    float64     `yaml:"bfield"`
	BGradient float64     `yaml:"bfield_gradient"`
	BNoise    noiseSpec   `yaml:"bfield_noise"`
	Ions      []ionSpec   `yaml:"ions"`
	Lasers    []laserSpec `yaml:"lasers"`
	Modes     []modeSpec  `yaml:"modes"`
}

// Load reads a trap description from the YAML file at path. Loading solves
// the chain's normal-mode structure, so it fails when the trap frequencies
// are outside the stability region.
func Load(path string) (*iontrap.Trap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	tp, err := Parse(b)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return tp, nil
}

// Parse builds a trap from YAML bytes.
func Parse(b []byte) (*iontrap.Trap, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var spec trapSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.Wrap(err, "")
	}

	tp := &iontrap.Trap{
		COM:       chain.COMFrequencies{X: spec.COM.X, Y: spec.COM.Y, Z: spec.COM.Z},
		B:         spec.BField,
		BGradient: spec.BGradient,
	}
	var err error
	if tp.DeltaB, err = spec.BNoise.fn(); err != nil {
		return nil, errors.Wrap(err, "bfield_noise")
	}

	for i, is := range spec.Ions {
		ion := &iontrap.Ion{Mass: is.Mass}
		for _, ls := range is.Levels {
			ion.Levels = append(ion.Levels, iontrap.Level{Name: ls.Name, ZeemanShift: ls.Zeeman})
		}
		for _, ts := range is.Transitions {
			ion.Transitions = append(ion.Transitions, iontrap.Transition{
				Lower:      ts.Lower,
				Upper:      ts.Upper,
				Frequency:  ts.Frequency,
				Rabi:       ts.Rabi,
				StarkShift: ts.Stark,
			})
		}
		if len(ion.Levels) < 2 {
			return nil, errors.Errorf("ion %d has %d levels", i, len(ion.Levels))
		}
		tp.Ions = append(tp.Ions, ion)
	}

	for i, ls := range spec.Lasers {
		laser := &iontrap.Laser{
			Frequency: ls.Frequency,
			Detuning:  ls.Detuning,
			Direction: ls.Direction,
			Pointing:  ls.Pointing,
		}
		amp := ls.Amplitude
		if amp.Type == "" {
			amp = noiseSpec{Type: "const", Value: 1}
		}
		ampFn, err := amp.fn()
		if err != nil {
			return nil, errors.Wrapf(err, "laser %d amplitude", i)
		}
		laser.E = ampFn
		phaseFn, err := ls.Phase.fn()
		if err != nil {
			return nil, errors.Wrapf(err, "laser %d phase", i)
		}
		laser.Phase = phaseFn
		tp.Lasers = append(tp.Lasers, laser)
	}

	if len(spec.Modes) > 0 {
		normal, err := chain.FullModeDescription(len(tp.Ions), tp.COM)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		for i, ms := range spec.Modes {
			axis, err := parseAxis(ms.Axis)
			if err != nil {
				return nil, errors.Wrapf(err, "mode %d", i)
			}
			mode, err := iontrap.SelectMode(normal, axis, ms.Ordinal, ms.Dim)
			if err != nil {
				return nil, errors.Wrapf(err, "mode %d", i)
			}
			if mode.DeltaNu, err = ms.Noise.fn(); err != nil {
				return nil, errors.Wrapf(err, "mode %d noise", i)
			}
			tp.Modes = append(tp.Modes, mode)
		}
	}

	return tp, nil
}

func parseAxis(s string) (chain.Axis, error) {
	switch s {
	case "x":
		return chain.X, nil
	case "y":
		return chain.Y, nil
	case "z":
		return chain.Z, nil
	default:
		return 0, errors.Errorf("axis %q", s)
	}
}
