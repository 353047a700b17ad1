package temporal

import (
	"math"
	"testing"
)

func sine(freq, amp float64, n, sampleRate int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return x
}

func TestEnergyGate_Passes(t *testing.T) {
	gate := NewEnergyGate(DefaultMinVolume)

	tests := []struct {
		name  string
		frame []float64
		want  bool
	}{
		{"empty", nil, false},
		{"silence", make([]float64, 4096), false},
		{"below floor", sine(440, 0.001, 4096, 44100), false},
		{"audible", sine(440, 0.1, 4096, 44100), true},
		{"dc above floor", []float64{0.002, 0.002, 0.002, 0.002}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gate.Passes(tt.frame); got != tt.want {
				t.Errorf("Passes = %v, want %v (rms %g)", got, tt.want, gate.RMS(tt.frame))
			}
		})
	}
}

func TestEnergyGate_ZeroFloorStillRejectsEmpty(t *testing.T) {
	gate := NewEnergyGate(0)
	if gate.Passes(nil) {
		t.Error("empty frame passed a zero floor")
	}
	if !gate.Passes(make([]float64, 8)) {
		t.Error("silent frame rejected by a zero floor")
	}
}
