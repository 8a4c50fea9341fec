package chain

import (
	"flag"
	"fmt"
	"log"
	"math"
	"testing"
)

func TestEquilibriumPositions(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2, 3, 4, 5, 8, 13} {
		t.Run(fmt.Sprintf("%d", n), func(t *testing.T) {
			t.Parallel()
			x, err := EquilibriumPositions(n)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if len(x) != n {
				t.Fatalf("%d %d", len(x), n)
			}

			for i := 0; i < n-1; i++ {
				if !(x[i] < x[i+1]) {
					t.Fatalf("%d %f %f", i, x[i], x[i+1])
				}
			}
			for i := 0; i < n; i++ {
				mirror := -x[n-1-i]
				if math.Abs(x[i]-mirror) > 1e-8 {
					t.Fatalf("%d %f %f", i, x[i], mirror)
				}
			}

			// The positions must balance the restoring force against the
			// Coulomb repulsion.
			for i, xi := range x {
				f := xi
				for j, xj := range x {
					d := xi - xj
					switch {
					case j < i:
						f -= 1 / (d * d)
					case j > i:
						f += 1 / (d * d)
					}
				}
				if math.Abs(f) > 1e-9 {
					t.Fatalf("%d %g", i, f)
				}
			}
		})
	}
}

func TestEquilibriumPositionsKnown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n int
		x []float64
	}{
		// Table 1, D.F.V. James.
		{n: 2, x: []float64{-0.62996, 0.62996}},
		{n: 3, x: []float64{-1.0772, 0, 1.0772}},
		{n: 4, x: []float64{-1.4368, -0.45438, 0.45438, 1.4368}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d", test.n), func(t *testing.T) {
			t.Parallel()
			x, err := EquilibriumPositions(test.n)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			for i, v := range x {
				if math.Abs(v-test.x[i]) > 1e-4 {
					t.Fatalf("%d %f %f", i, v, test.x[i])
				}
			}
		})
	}
}

func TestNormalModesAxial(t *testing.T) {
	t.Parallel()
	com := COMFrequencies{X: 5e6, Y: 5e6, Z: 1e6}
	modes, err := NormalModes(3, com, Z)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(modes) != 3 {
		t.Fatalf("%d", len(modes))
	}

	// Axial eigenvalues of a 3-ion chain are 1, 3, 5.8.
	freqs := []float64{1e6, math.Sqrt(3) * 1e6, math.Sqrt(5.8) * 1e6}
	for i, m := range modes {
		if math.Abs(m.Frequency-freqs[i])/freqs[i] > 1e-6 {
			t.Fatalf("%d %f %f", i, m.Frequency, freqs[i])
		}
	}

	// The COM mode has uniform participation.
	u := 1 / math.Sqrt(3)
	for j, v := range modes[0].Shape {
		if math.Abs(v-u) > 1e-8 {
			t.Fatalf("%d %f %f", j, v, u)
		}
	}
}

func TestNormalModesTransverse(t *testing.T) {
	t.Parallel()
	com := COMFrequencies{X: 3e6, Y: 3e6, Z: 1e6}
	modes, err := NormalModes(3, com, X)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// Transverse lists are reversed: index 0 is the COM mode, which is the
	// stiffest, and frequencies decrease from there.
	if math.Abs(modes[0].Frequency-3e6)/3e6 > 1e-6 {
		t.Fatalf("%f", modes[0].Frequency)
	}
	for i := 0; i < len(modes)-1; i++ {
		if !(modes[i].Frequency > modes[i+1].Frequency) {
			t.Fatalf("%d %f %f", i, modes[i].Frequency, modes[i+1].Frequency)
		}
	}

	// Transverse eigenvalues of a 3-ion chain are β², β²-1, β²-2.4.
	beta := 3.0
	freqs := []float64{beta * beta, beta*beta - 1, beta*beta - 2.4}
	for i, m := range modes {
		want := math.Sqrt(freqs[i]) * 1e6
		if math.Abs(m.Frequency-want)/want > 1e-6 {
			t.Fatalf("%d %f %f", i, m.Frequency, want)
		}
	}
}

func TestStabilityGate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		com  COMFrequencies
		axis Axis
		ok   bool
	}{
		// 3-ion transverse stability requires β² > 2.4.
		{com: COMFrequencies{X: 3e6, Y: 3e6, Z: 1e6}, axis: X, ok: true},
		{com: COMFrequencies{X: 1.2e6, Y: 3e6, Z: 1e6}, axis: X, ok: false},
		{com: COMFrequencies{X: 3e6, Y: 1.5e6, Z: 1e6}, axis: Y, ok: false},
		{com: COMFrequencies{X: 3e6, Y: 3e6, Z: 1e6}, axis: Z, ok: true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s %f", test.axis, test.com.Along(test.axis)), func(t *testing.T) {
			t.Parallel()
			modes, err := NormalModes(3, test.com, test.axis)
			if !test.ok {
				if err == nil {
					t.Fatalf("expected instability")
				}
				return
			}
			if err != nil {
				t.Fatalf("%+v", err)
			}
			for i, m := range modes {
				if !(m.Frequency > 0) {
					t.Fatalf("%d %f", i, m.Frequency)
				}
			}
		})
	}
}

func TestFullModeDescription(t *testing.T) {
	t.Parallel()
	com := COMFrequencies{X: 4e6, Y: 4e6, Z: 1e6}
	all, err := FullModeDescription(5, com)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, axis := range []Axis{X, Y, Z} {
		if len(all[axis]) != 5 {
			t.Fatalf("%s %d", axis, len(all[axis]))
		}
		if math.Abs(all[axis][0].Frequency-com.Along(axis))/com.Along(axis) > 1e-6 {
			t.Fatalf("%s %f", axis, all[axis][0].Frequency)
		}

		// Mode shapes are unit norm.
		for i, m := range all[axis] {
			var norm float64
			for _, v := range m.Shape {
				norm += v * v
			}
			if math.Abs(norm-1) > 1e-8 {
				t.Fatalf("%s %d %f", axis, i, norm)
			}
		}
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
