package temporal

import (
	"github.com/AaronDesignStudio/play-the-chord/algorithms/common"
)

// DefaultMinVolume is the RMS floor below which a frame is treated as silence
const DefaultMinVolume = 0.001

// EnergyGate rejects frames whose RMS energy is below a floor so the
// quadratic pitch estimator never runs on silence or a noise floor.
type EnergyGate struct {
	minVolume float64
}

// NewEnergyGate creates a gate with the given RMS floor
func NewEnergyGate(minVolume float64) *EnergyGate {
	return &EnergyGate{minVolume: minVolume}
}

// RMS returns the root-mean-square energy of frame
func (g *EnergyGate) RMS(frame []float64) float64 {
	return common.RMS(frame)
}

// Passes reports whether rms(frame) >= the floor. Empty frames never pass.
func (g *EnergyGate) Passes(frame []float64) bool {
	if len(frame) == 0 {
		return false
	}
	return g.RMS(frame) >= g.minVolume
}

// MinVolume returns the configured floor
func (g *EnergyGate) MinVolume() float64 {
	return g.minVolume
}
