package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Frame-level numeric helpers shared by the gate, the estimator and the
// capture sources. gonum does the vector work.

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return math.Sqrt(floats.Dot(data, data) / float64(len(data)))
}

// AllZero reports whether every sample is exactly zero. An empty slice is
// all zero.
func AllZero(data []float64) bool {
	for _, v := range data {
		if v != 0 {
			return false
		}
	}
	return true
}

// AllFinite reports whether data holds no NaN or infinite samples
func AllFinite(data []float64) bool {
	if floats.HasNaN(data) {
		return false
	}
	for _, v := range data {
		if math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clamp constrains a value to a range
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// NextPowerOfTwo finds the next power of 2 >= n
func NextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}

	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
