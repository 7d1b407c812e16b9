package dsp

import (
	"math"
	"testing"
)

func TestFFT_RejectsNonPowerOfTwo(t *testing.T) {
	for _, n := range []int{0, 3, 6, 100} {
		re := make([]float64, n)
		im := make([]float64, n)
		if err := FFT(re, im); err == nil {
			t.Errorf("FFT length %d: expected error", n)
		}
	}
}

func TestFFT_ImpulseIsFlat(t *testing.T) {
	// The spectrum of a unit impulse is 1 in every bin.
	const n = 64
	re := make([]float64, n)
	im := make([]float64, n)
	re[0] = 1

	if err := FFT(re, im); err != nil {
		t.Fatalf("FFT: %v", err)
	}
	for i := 0; i < n; i++ {
		mag := math.Hypot(re[i], im[i])
		if math.Abs(mag-1) > 1e-9 {
			t.Fatalf("bin %d: |X| = %g, want 1", i, mag)
		}
	}
}

func TestFFT_SinePeaksAtItsBin(t *testing.T) {
	// A sine at exactly bin k concentrates energy in bins k and n-k.
	const n = 512
	const k = 32
	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		re[i] = math.Sin(2 * math.Pi * k * float64(i) / n)
	}

	if err := FFT(re, im); err != nil {
		t.Fatalf("FFT: %v", err)
	}
	mags := magnitudes(re, im)

	peak := 0
	for i, m := range mags {
		if m > mags[peak] {
			peak = i
		}
	}
	if peak != k {
		t.Fatalf("peak bin = %d, want %d", peak, k)
	}
	// The peak must dominate: at least 100x any bin two or more away.
	for i, m := range mags {
		if i >= k-1 && i <= k+1 {
			continue
		}
		if m > mags[k]/100 {
			t.Fatalf("bin %d magnitude %g too large relative to peak %g", i, m, mags[k])
		}
	}
}

func TestFFT_RoundTrip(t *testing.T) {
	const n = 256
	orig := make([]float64, n)
	for i := range orig {
		orig[i] = math.Sin(0.05*float64(i)) + 0.3*math.Cos(0.11*float64(i))
	}

	re := make([]float64, n)
	im := make([]float64, n)
	copy(re, orig)

	if err := FFT(re, im); err != nil {
		t.Fatalf("FFT: %v", err)
	}
	if err := IFFT(re, im); err != nil {
		t.Fatalf("IFFT: %v", err)
	}
	for i := range orig {
		if math.Abs(re[i]-orig[i]) > 1e-9 {
			t.Fatalf("sample %d: round-trip %g, want %g", i, re[i], orig[i])
		}
	}
}

func TestHannWindow_Endpoints(t *testing.T) {
	w := HannWindow(512)
	if w[0] > 1e-12 || w[len(w)-1] > 1e-12 {
		t.Fatalf("window endpoints = %g, %g, want 0", w[0], w[len(w)-1])
	}
	mid := w[len(w)/2]
	if math.Abs(mid-1) > 1e-4 {
		t.Fatalf("window midpoint = %g, want ~1", mid)
	}
}

func TestRMSInt16(t *testing.T) {
	// Constant amplitude 1000 → RMS 1000.
	pcm := make([]byte, 200)
	for i := 0; i < 100; i++ {
		pcm[i*2] = byte(1000 & 0xFF)
		pcm[i*2+1] = byte(1000 >> 8)
	}
	got := RMSInt16(pcm)
	if math.Abs(got-1000) > 1e-9 {
		t.Fatalf("RMSInt16 = %g, want 1000", got)
	}
	if RMSInt16(nil) != 0 {
		t.Fatal("RMSInt16(nil) should be 0")
	}
}

func TestZeroCrossingRate(t *testing.T) {
	// Alternating signs cross on every pair.
	alternating := []int16{100, -100, 100, -100, 100}
	if got := ZeroCrossingRate(alternating); got != 1 {
		t.Fatalf("ZCR alternating = %g, want 1", got)
	}
	// Constant sign never crosses.
	constant := []int16{50, 60, 70, 80}
	if got := ZeroCrossingRate(constant); got != 0 {
		t.Fatalf("ZCR constant = %g, want 0", got)
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 4, 500: 512, 512: 512, 513: 1024}
	for in, want := range cases {
		if got := nextPowerOfTwo(in); got != want {
			t.Errorf("nextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}
