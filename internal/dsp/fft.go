// Package dsp implements the signal-processing primitives used by the
// enhancement stage: an iterative radix-2 FFT, Hann windowing, and small
// sample-level helpers. Everything here operates on float64 slices; PCM
// conversion stays at the package boundary in internal/enhance.
package dsp

import (
	"fmt"
	"math"
)

// FFT computes the in-place fast Fourier transform of the complex signal
// given as separate real and imaginary slices. The length must be a power of
// two; both slices are modified. Implementation is the classic iterative
// form: bit-reversal permutation followed by Cooley–Tukey butterflies.
func FFT(real, imag []float64) error {
	n := len(real)
	if n != len(imag) {
		return fmt.Errorf("dsp: fft slice lengths differ (%d vs %d)", n, len(imag))
	}
	if n == 0 || n&(n-1) != 0 {
		return fmt.Errorf("dsp: fft length %d is not a power of two", n)
	}

	bitReverse(real, imag)

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				angle := step * float64(k)
				wr := math.Cos(angle)
				wi := math.Sin(angle)

				i := start + k
				j := i + half

				tr := wr*real[j] - wi*imag[j]
				ti := wr*imag[j] + wi*real[j]

				real[j] = real[i] - tr
				imag[j] = imag[i] - ti
				real[i] += tr
				imag[i] += ti
			}
		}
	}
	return nil
}

// IFFT computes the inverse FFT in place, using the conjugate trick:
// conjugate, forward transform, conjugate again, scale by 1/n.
func IFFT(real, imag []float64) error {
	n := len(real)
	for i := range imag {
		imag[i] = -imag[i]
	}
	if err := FFT(real, imag); err != nil {
		return err
	}
	scale := 1 / float64(n)
	for i := range real {
		real[i] *= scale
		imag[i] *= -scale
	}
	return nil
}

// bitReverse permutes both slices into bit-reversed index order.
func bitReverse(real, imag []float64) {
	n := len(real)
	j := 0
	for i := 1; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			real[i], real[j] = real[j], real[i]
			imag[i], imag[j] = imag[j], imag[i]
		}
	}
}

// magnitudes returns the magnitude spectrum sqrt(re²+im²) for the first
// n/2 bins (the lower half; the upper half mirrors it for real signals).
func magnitudes(real, imag []float64) []float64 {
	half := len(real) / 2
	out := make([]float64, half)
	for i := range out {
		out[i] = math.Hypot(real[i], imag[i])
	}
	return out
}
