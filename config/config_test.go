package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iontrap/chain"
)

func TestLoad(t *testing.T) {
	t.Parallel()
	tp, err := Load(filepath.Join("testdata", "trap.yaml"))
	require.NoError(t, err)

	assert.Equal(t, chain.COMFrequencies{X: 3e6, Y: 3e6, Z: 1e6}, tp.COM)
	assert.Equal(t, 1e-4, tp.B)
	require.NotNil(t, tp.DeltaB)
	// 1e-6 * sin(2π*0.5*t) peaks at t=0.5.
	assert.InDelta(t, 1e-6, tp.DeltaB(0.5), 1e-18)

	require.Len(t, tp.Ions, 2)
	ion := tp.Ions[0]
	assert.Equal(t, 6.642e-26, ion.Mass)
	require.Len(t, ion.Levels, 2)
	assert.Equal(t, "D", ion.Levels[1].Name)
	assert.Equal(t, 1e10, ion.Levels[1].ZeemanShift)
	require.Len(t, ion.Transitions, 1)
	assert.Equal(t, 1e5, ion.Transitions[0].Rabi)

	require.Len(t, tp.Lasers, 1)
	laser := tp.Lasers[0]
	assert.Equal(t, 5e4, laser.Detuning)
	assert.Equal(t, [3]float64{0, 0, 1}, laser.Direction)
	assert.Equal(t, []float64{1, 1}, laser.Pointing)
	// The amplitude envelope defaults to a constant unit drive.
	require.NotNil(t, laser.E)
	assert.Equal(t, 1.0, laser.E(7))
	require.NotNil(t, laser.Phase)
	assert.Equal(t, 0.5, laser.Phase(7))

	require.Len(t, tp.Modes, 1)
	mode := tp.Modes[0]
	assert.Equal(t, chain.Z, mode.Axis)
	assert.Equal(t, 4, mode.Dim)
	assert.InEpsilon(t, 1e6, mode.Frequency, 1e-6)
	require.Len(t, mode.Shape, 2)
	require.NotNil(t, mode.DeltaNu)
	assert.Equal(t, 100.0, mode.DeltaNu(3))
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join("testdata", "nope.yaml"))
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	valid := `
com_frequencies: {x: 3.0e6, y: 3.0e6, z: 1.0e6}
ions:
  - mass: 6.642e-26
    levels: [{name: S}, {name: D}]
modes:
  - {axis: z, ordinal: 0, dim: 3}
`
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown field", yaml: "com_frequencies: {x: 1.0e6}\nvoltage: 3"},
		{
			name: "bad axis",
			yaml: `
com_frequencies: {x: 3.0e6, y: 3.0e6, z: 1.0e6}
ions:
  - mass: 6.642e-26
    levels: [{name: S}, {name: D}]
modes:
  - {axis: w, ordinal: 0, dim: 3}
`,
		},
		{
			name: "ordinal out of range",
			yaml: `
com_frequencies: {x: 3.0e6, y: 3.0e6, z: 1.0e6}
ions:
  - mass: 6.642e-26
    levels: [{name: S}, {name: D}]
modes:
  - {axis: z, ordinal: 5, dim: 3}
`,
		},
		{
			name: "one level",
			yaml: `
com_frequencies: {x: 3.0e6, y: 3.0e6, z: 1.0e6}
ions:
  - mass: 6.642e-26
    levels: [{name: S}]
`,
		},
		{
			name: "bad noise type",
			yaml: `
com_frequencies: {x: 3.0e6, y: 3.0e6, z: 1.0e6}
bfield_noise: {type: sawtooth}
ions:
  - mass: 6.642e-26
    levels: [{name: S}, {name: D}]
`,
		},
		{
			name: "unstable chain",
			yaml: `
com_frequencies: {x: 1.0e6, y: 3.0e6, z: 1.0e6}
ions:
  - mass: 6.642e-26
    levels: [{name: S}, {name: D}]
  - mass: 6.642e-26
    levels: [{name: S}, {name: D}]
  - mass: 6.642e-26
    levels: [{name: S}, {name: D}]
modes:
  - {axis: z, ordinal: 0, dim: 3}
`,
		},
	}

	_, err := Parse([]byte(valid))
	require.NoError(t, err)
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(test.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseNoModes(t *testing.T) {
	t.Parallel()
	tp, err := Parse([]byte(`
com_frequencies: {x: 3.0e6, y: 3.0e6, z: 1.0e6}
ions:
  - mass: 6.642e-26
    levels: [{name: S}, {name: D}]
`))
	require.NoError(t, err)
	assert.Empty(t, tp.Modes)
	assert.Empty(t, tp.Lasers)
}
