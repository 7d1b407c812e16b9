package enhance

import (
	"fmt"
	"math"

	"github.com/earshot/earshot/internal/dsp"
)

const (
	// fftSize is the analysis frame length in samples (32 ms at 16 kHz).
	fftSize = 512

	// hopSize gives 50% frame overlap.
	hopSize = fftSize / 2

	// noiseEstimateMs is how much of the utterance head feeds the noise
	// profile, in milliseconds. Speech onset rarely lands inside the first
	// 200 ms thanks to the segmenter's pre-roll.
	noiseEstimateMs = 200
)

// noiseProfile is a per-frequency-bin magnitude estimate (length fftSize/2)
// derived once per utterance and discarded afterwards.
type noiseProfile []float64

// spectralSubtract runs framed spectral subtraction over samples in place:
// Hann-windowed frames at 50% overlap are transformed, strength × the noise
// profile is subtracted from each magnitude spectrum (floored at zero,
// mirrored onto the conjugate half), and the signal is rebuilt by windowed
// overlap-add.
func spectralSubtract(samples []float64, sampleRate int, strength float64) error {
	if len(samples) < fftSize {
		// Too short to frame; nothing to do.
		return nil
	}

	window := dsp.HannWindow(fftSize)
	profile, err := estimateNoise(samples, sampleRate, window)
	if err != nil {
		return err
	}

	out := make([]float64, len(samples))
	re := make([]float64, fftSize)
	im := make([]float64, fftSize)

	for start := 0; start+fftSize <= len(samples); start += hopSize {
		copy(re, samples[start:start+fftSize])
		dsp.ApplyWindow(re, window)
		for i := range im {
			im[i] = 0
		}

		if err := dsp.FFT(re, im); err != nil {
			return fmt.Errorf("enhance: frame fft at %d: %w", start, err)
		}

		subtractProfile(re, im, profile, strength)

		if err := dsp.IFFT(re, im); err != nil {
			return fmt.Errorf("enhance: frame ifft at %d: %w", start, err)
		}

		// Overlap-add. The Hann window at 50% hop sums to unity, so no
		// extra normalisation pass is needed.
		for i := 0; i < fftSize; i++ {
			out[start+i] += re[i]
		}
	}

	copy(samples, out)
	return nil
}

// estimateNoise averages the magnitude spectra of the frames covering the
// utterance's leading ~200 ms.
func estimateNoise(samples []float64, sampleRate int, window []float64) (noiseProfile, error) {
	noiseSamples := sampleRate * noiseEstimateMs / 1000
	if noiseSamples > len(samples) {
		noiseSamples = len(samples)
	}

	profile := make(noiseProfile, fftSize/2)
	frames := 0

	re := make([]float64, fftSize)
	im := make([]float64, fftSize)

	for start := 0; start+fftSize <= noiseSamples; start += hopSize {
		copy(re, samples[start:start+fftSize])
		dsp.ApplyWindow(re, window)
		for i := range im {
			im[i] = 0
		}
		if err := dsp.FFT(re, im); err != nil {
			return nil, fmt.Errorf("enhance: noise estimate fft: %w", err)
		}
		for i := range profile {
			profile[i] += math.Hypot(re[i], im[i])
		}
		frames++
	}

	if frames == 0 {
		// Head shorter than one frame: estimate from the first frame alone.
		copy(re, samples[:fftSize])
		dsp.ApplyWindow(re, window)
		for i := range im {
			im[i] = 0
		}
		if err := dsp.FFT(re, im); err != nil {
			return nil, fmt.Errorf("enhance: noise estimate fft: %w", err)
		}
		for i := range profile {
			profile[i] = math.Hypot(re[i], im[i])
		}
		return profile, nil
	}

	for i := range profile {
		profile[i] /= float64(frames)
	}
	return profile, nil
}

// subtractProfile removes strength × profile from the frame's magnitude
// spectrum, flooring at zero. Only the lower half is computed; the upper
// half is set to the conjugate mirror so the IFFT yields a real signal.
func subtractProfile(re, im []float64, profile noiseProfile, strength float64) {
	n := len(re)
	half := n / 2

	for i := 0; i <= half; i++ {
		mag := math.Hypot(re[i], im[i])
		phase := math.Atan2(im[i], re[i])

		sub := mag
		if i < len(profile) {
			sub = mag - strength*profile[i]
			if sub < 0 {
				sub = 0
			}
		}

		re[i] = sub * math.Cos(phase)
		im[i] = sub * math.Sin(phase)

		// Mirror onto the conjugate half.
		if i > 0 && i < half {
			re[n-i] = re[i]
			im[n-i] = -im[i]
		}
	}
}
