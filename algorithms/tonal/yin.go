package tonal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/common"
	"github.com/AaronDesignStudio/play-the-chord/algorithms/spectral"
)

// DefaultYinThreshold is the absolute CMND threshold of the minimum search
const DefaultYinThreshold = 0.15

// ErrDegenerateFrame is returned for frames the estimator cannot analyse:
// too short, entirely silent, or containing NaN/Inf samples.
var ErrDegenerateFrame = errors.New("tonal: degenerate frame")

// DifferenceMethod selects how the YIN difference function is computed
type DifferenceMethod string

const (
	// DifferenceDirect is the brute-force O(N²) sum of squared differences
	DifferenceDirect DifferenceMethod = "direct"

	// DifferenceFFT derives the same values from an FFT cross-correlation
	DifferenceFFT DifferenceMethod = "fft"
)

// IsValid reports whether m is a recognised difference method
func (m DifferenceMethod) IsValid() bool {
	return m == DifferenceDirect || m == DifferenceFFT
}

// PitchEstimate is the outcome of one estimator call
type PitchEstimate struct {
	Frequency  float64 `json:"frequency"`  // Hz; 0 when no periodic pitch was found
	Confidence float64 `json:"confidence"` // 1 - CMND at the chosen lag, in [0,1]
	Tau        float64 `json:"tau"`        // refined lag in samples
}

// Voiced reports whether the estimate carries a pitch
func (e PitchEstimate) Voiced() bool {
	return e.Frequency > 0
}

// YinParams configures a YinEstimator
type YinParams struct {
	Threshold float64          `json:"threshold" yaml:"threshold"`
	Method    DifferenceMethod `json:"method" yaml:"method"`
}

// DefaultYinParams returns threshold 0.15 with the direct difference function
func DefaultYinParams() YinParams {
	return YinParams{
		Threshold: DefaultYinThreshold,
		Method:    DifferenceDirect,
	}
}

// YinEstimator implements the YIN fundamental frequency estimator
//
// Reference: de Cheveigné, A., Kawahara, H. (2002). "YIN, a fundamental
// frequency estimator for speech and music"
//
// The work buffer holds the difference function and then, in place, the
// cumulative mean normalized difference. It is reused across calls and is
// exclusive to one caller at a time.
type YinEstimator struct {
	params YinParams

	yinBuffer []float64
	scratch   []float64
	fft       *spectral.FFT
}

// NewYinEstimator creates an estimator. Zero-valued params fall back to the defaults.
func NewYinEstimator(params YinParams) *YinEstimator {
	if params.Threshold <= 0 {
		params.Threshold = DefaultYinThreshold
	}
	if params.Method == "" {
		params.Method = DifferenceDirect
	}
	return &YinEstimator{
		params: params,
		fft:    spectral.NewFFT(),
	}
}

// Params returns the estimator configuration
func (y *YinEstimator) Params() YinParams {
	return y.params
}

// Estimate runs YIN on frame. The frame is never modified. A result with
// Frequency 0 and a nil error means no pitch was found.
func (y *YinEstimator) Estimate(frame []float64, sampleRate int) (PitchEstimate, error) {
	if sampleRate <= 0 {
		return PitchEstimate{}, fmt.Errorf("tonal: invalid sample rate %d", sampleRate)
	}

	halfN := len(frame) / 2
	if halfN < 3 {
		return PitchEstimate{}, fmt.Errorf("%w: %d samples", ErrDegenerateFrame, len(frame))
	}
	if !common.AllFinite(frame) {
		return PitchEstimate{}, fmt.Errorf("%w: non-finite sample", ErrDegenerateFrame)
	}
	if common.AllZero(frame) {
		return PitchEstimate{}, fmt.Errorf("%w: all samples are zero", ErrDegenerateFrame)
	}

	y.ensureBuffers(halfN)

	if y.params.Method == DifferenceFFT {
		y.differenceFFT(frame)
	} else {
		y.difference(frame)
	}
	y.cumulativeMeanNormalizedDifference()

	tauEstimate := y.searchForMinimum()
	if tauEstimate == -1 {
		return PitchEstimate{}, nil
	}

	betterTau := y.parabolicInterpolation(tauEstimate)

	return PitchEstimate{
		Frequency:  float64(sampleRate) / betterTau,
		Confidence: common.Clamp(1-y.yinBuffer[tauEstimate], 0, 1),
		Tau:        betterTau,
	}, nil
}

func (y *YinEstimator) ensureBuffers(halfN int) {
	if cap(y.yinBuffer) < halfN {
		y.yinBuffer = make([]float64, halfN)
		y.scratch = make([]float64, halfN)
		return
	}
	y.yinBuffer = y.yinBuffer[:halfN]
	y.scratch = y.scratch[:halfN]
}

// difference computes d(tau) = Σ (x[i] - x[i+tau])² for i < N
func (y *YinEstimator) difference(frame []float64) {
	n := len(y.yinBuffer)
	clear(y.yinBuffer)

	head := frame[:n]
	for tau := 1; tau < n; tau++ {
		floats.SubTo(y.scratch, head, frame[tau:tau+n])
		y.yinBuffer[tau] = floats.Dot(y.scratch, y.scratch)
	}
}

// differenceFFT computes the same d(tau) as e(0) + e(tau) - 2·r(tau), where
// e(tau) is the energy of x[tau:tau+N] and r the cross-correlation of the
// first half against the whole frame.
func (y *YinEstimator) differenceFFT(frame []float64) {
	n := len(y.yinBuffer)
	clear(y.yinBuffer)

	acf := y.fft.CrossCorrelate(frame[:n], frame[:2*n], n)

	e0 := floats.Dot(frame[:n], frame[:n])
	window := e0
	for tau := 1; tau < n; tau++ {
		entering := frame[tau+n-1]
		leaving := frame[tau-1]
		window += entering*entering - leaving*leaving

		d := e0 + window - 2*acf[tau]
		if d < 0 {
			// rounding
			d = 0
		}
		y.yinBuffer[tau] = d
	}
}

// cumulativeMeanNormalizedDifference rewrites the buffer in place:
// d'(0) = 1, d'(tau) = d(tau)·tau / Σ_{j<=tau} d(j)
func (y *YinEstimator) cumulativeMeanNormalizedDifference() {
	y.yinBuffer[0] = 1
	runningSum := 0.0

	for tau := 1; tau < len(y.yinBuffer); tau++ {
		runningSum += y.yinBuffer[tau]
		if runningSum == 0 {
			y.yinBuffer[tau] = 1
			continue
		}
		y.yinBuffer[tau] *= float64(tau) / runningSum
	}
}

// searchForMinimum returns the first lag whose CMND dips below the threshold,
// walked forward to the bottom of that dip. When nothing crosses the
// threshold it falls back to the global minimum, so quiet or ambiguous frames
// still yield a (low-confidence) estimate. Returns -1 if no minimum exists.
func (y *YinEstimator) searchForMinimum() int {
	size := len(y.yinBuffer)

	for tau := 2; tau < size; tau++ {
		if y.yinBuffer[tau] < y.params.Threshold {
			for tau+1 < size && y.yinBuffer[tau+1] < y.yinBuffer[tau] {
				tau++
			}
			return tau
		}
	}

	minTau := -1
	minVal := math.Inf(1)
	for tau := 1; tau < size; tau++ {
		if y.yinBuffer[tau] < minVal {
			minVal = y.yinBuffer[tau]
			minTau = tau
		}
	}
	return minTau
}

// parabolicInterpolation refines tauEstimate to the vertex of the parabola
// through it and its neighbours. At a buffer edge only two points exist and
// the lower one wins.
func (y *YinEstimator) parabolicInterpolation(tauEstimate int) float64 {
	var x0, x2 int

	if tauEstimate < 1 {
		x0 = tauEstimate
	} else {
		x0 = tauEstimate - 1
	}
	if tauEstimate+1 < len(y.yinBuffer) {
		x2 = tauEstimate + 1
	} else {
		x2 = tauEstimate
	}

	switch {
	case x0 == tauEstimate:
		if y.yinBuffer[tauEstimate] <= y.yinBuffer[x2] {
			return float64(tauEstimate)
		}
		return float64(x2)
	case x2 == tauEstimate:
		if y.yinBuffer[tauEstimate] <= y.yinBuffer[x0] {
			return float64(tauEstimate)
		}
		return float64(x0)
	}

	s0 := y.yinBuffer[x0]
	s1 := y.yinBuffer[tauEstimate]
	s2 := y.yinBuffer[x2]

	denominator := 2 * (2*s1 - s2 - s0)
	if denominator == 0 {
		return float64(tauEstimate)
	}
	shift := (s2 - s0) / denominator
	if math.Abs(shift) >= 1 || math.IsNaN(shift) {
		// not a minimum; keep the integer lag inside (0, N)
		return float64(tauEstimate)
	}
	return float64(tauEstimate) + shift
}
