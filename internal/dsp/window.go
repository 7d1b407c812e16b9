package dsp

import "math"

// HannWindow returns a Hann window of length n:
// w[i] = 0.5·(1 − cos(2πi/(n−1))).
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// ApplyWindow multiplies samples by window in place. Lengths must match;
// extra trailing samples are left untouched.
func ApplyWindow(samples, window []float64) {
	n := len(samples)
	if len(window) < n {
		n = len(window)
	}
	for i := 0; i < n; i++ {
		samples[i] *= window[i]
	}
}

// RMS returns the root-mean-square of samples. Returns 0 for empty input.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSInt16 returns the root-mean-square energy of 16-bit LE PCM bytes,
// expressed in raw PCM units (0–32767). Returns 0 for buffers shorter than
// one sample.
func RMSInt16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ, a coarse voicing/timbre feature. Returns 0 for fewer than two
// samples.
func ZeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// nextPowerOfTwo returns the smallest power of two ≥ n.
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
