package spectral

import (
	"github.com/mjibson/go-dsp/fft"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/common"
)

// FFT provides Fast Fourier Transform functionality
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the forward transform of a real signal using mjibson/go-dsp
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// ComputeInverseReal computes inverse FFT and returns real part only
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	result := fft.IFFT(x)
	realResult := make([]float64, len(result))
	for i, val := range result {
		realResult[i] = real(val)
	}
	return realResult
}

// CrossCorrelate returns r[k] = Σ_i a[i]·b[i+k] for k in [0, lags). Both
// inputs are zero-padded to a power of two of at least len(a)+len(b) so the
// circular correlation never wraps into the requested lags.
func (f *FFT) CrossCorrelate(a, b []float64, lags int) []float64 {
	if lags <= 0 || len(a) == 0 || len(b) == 0 {
		return []float64{}
	}

	size := common.NextPowerOfTwo(len(a) + len(b))
	pa := make([]float64, size)
	pb := make([]float64, size)
	copy(pa, a)
	copy(pb, b)

	fa := f.Compute(pa)
	fb := f.Compute(pb)
	for i := range fa {
		re, im := real(fa[i]), imag(fa[i])
		fa[i] = complex(re, -im) * fb[i]
	}

	full := f.ComputeInverseReal(fa)
	if lags > len(full) {
		lags = len(full)
	}
	return full[:lags]
}
