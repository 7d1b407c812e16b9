// Package enhance implements the speech enhancement pass applied to each
// completed utterance before transcription: pre-emphasis, optional high-pass
// filtering, noise suppression, automatic gain control, and de-emphasis.
//
// Enhancement is strictly best-effort. Any failure, including a panic inside
// a stage, results in the original unmodified utterance being returned so that
// audio delivery to the transcription layer is never blocked by a DSP fault.
package enhance

import (
	"log/slog"
	"math"
	"time"

	"github.com/earshot/earshot/internal/dsp"
)

const (
	// preEmphasisCoeff is the first-order differencing coefficient applied
	// before spectral analysis and inverted afterwards.
	preEmphasisCoeff = 0.97

	// spectralSubtractionLimit is the utterance length above which framed
	// spectral subtraction is replaced by the cheaper noise gate. A latency
	// versus quality tradeoff for long buffers.
	spectralSubtractionLimit = 2 * time.Second

	// gateFloorRatio derives the noise-gate floor from the utterance RMS.
	gateFloorRatio = 0.3

	// gateAttenuation is applied to samples that survive the gate.
	gateAttenuation = 0.9
)

// Config holds the tunables for an [Enhancer]. Zero values select the
// defaults documented on each field.
type Config struct {
	// SampleRate of incoming PCM in Hz. Default: 16000.
	SampleRate int

	// NoiseSuppression toggles the spectral-subtraction / noise-gate stage.
	// Enabled by default (set DisableNoiseSuppression to turn it off).
	DisableNoiseSuppression bool

	// SuppressionStrength scales the noise profile subtracted from each
	// frame's magnitude spectrum. Default: 2.0.
	SuppressionStrength float64

	// HighPass enables the 80 Hz rumble filter.
	HighPass bool

	// HighPassCutoff in Hz. Default: 80.
	HighPassCutoff float64

	// AGC toggles automatic gain control. Enabled by default
	// (set DisableAGC to turn it off).
	DisableAGC bool

	// AGCTargetRMS is the target level as a fraction of full scale.
	// Default: 0.3.
	AGCTargetRMS float64

	// AGCMaxGain caps the applied gain to avoid amplifying noise floors into
	// clipping. Default: 10.
	AGCMaxGain float64

	// TrimSilence requests leading/trailing silence removal. The stage is a
	// documented pass-through: the upstream behaviour it mirrors never
	// implemented it, and silently starting to trim would change utterance
	// timing for every consumer. Kept as an explicit no-op.
	TrimSilence bool
}

// withDefaults returns cfg with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.SuppressionStrength <= 0 {
		c.SuppressionStrength = 2.0
	}
	if c.HighPassCutoff <= 0 {
		c.HighPassCutoff = 80
	}
	if c.AGCTargetRMS <= 0 {
		c.AGCTargetRMS = 0.3
	}
	if c.AGCMaxGain <= 0 {
		c.AGCMaxGain = 10
	}
	return c
}

// Enhancer applies the enhancement pipeline to completed utterances.
// It is stateless between calls (the noise profile is derived per utterance,
// never persisted), so a single Enhancer may be shared across goroutines as
// long as no two calls process the same utterance concurrently.
type Enhancer struct {
	cfg Config
}

// New creates an Enhancer with the given configuration.
func New(cfg Config) *Enhancer {
	return &Enhancer{cfg: cfg.withDefaults()}
}

// Process runs the enhancement pipeline over one utterance of 16-bit LE mono
// PCM and returns the enhanced audio. On any failure the original input is
// returned unchanged.
func (e *Enhancer) Process(pcm []byte) []byte {
	out, err := e.process(pcm)
	if err != nil {
		slog.Warn("enhancement failed, passing utterance through unmodified", "error", err)
		return pcm
	}
	return out
}

// process is the fallible inner pipeline. A deferred recover converts stage
// panics into errors so Process can fall back to the unmodified input.
func (e *Enhancer) process(pcm []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &stageError{stage: "pipeline", cause: r}
		}
	}()

	if len(pcm) < 2 {
		return pcm, nil
	}

	samples := pcmToFloat(pcm)

	preEmphasize(samples)

	if e.cfg.HighPass {
		highPass(samples, e.cfg.HighPassCutoff, e.cfg.SampleRate)
	}

	if !e.cfg.DisableNoiseSuppression {
		d := time.Duration(len(samples)) * time.Second / time.Duration(e.cfg.SampleRate)
		if d <= spectralSubtractionLimit {
			if err := spectralSubtract(samples, e.cfg.SampleRate, e.cfg.SuppressionStrength); err != nil {
				return nil, err
			}
		} else {
			noiseGate(samples)
		}
	}

	if !e.cfg.DisableAGC {
		applyAGC(samples, e.cfg.AGCTargetRMS, e.cfg.AGCMaxGain)
	}

	if e.cfg.TrimSilence {
		samples = trimSilence(samples)
	}

	deEmphasize(samples)

	return floatToPCM(samples), nil
}

// stageError carries a recovered panic from an enhancement stage.
type stageError struct {
	stage string
	cause any
}

func (e *stageError) Error() string {
	return "enhance: " + e.stage + " panicked"
}

// preEmphasize applies y[n] = x[n] - c*x[n-1] in place, flattening the
// speech spectrum before spectral analysis.
func preEmphasize(samples []float64) {
	prev := 0.0
	for i, s := range samples {
		samples[i] = s - preEmphasisCoeff*prev
		prev = s
	}
}

// deEmphasize inverts preEmphasize, restoring natural timbre:
// y[n] = x[n] + c*y[n-1].
func deEmphasize(samples []float64) {
	prev := 0.0
	for i, s := range samples {
		samples[i] = s + preEmphasisCoeff*prev
		prev = samples[i]
	}
}

// highPass applies a single-pole high-pass filter, the discrete RC
// approximation alpha = rc/(rc+dt) with rc = 1/(2*pi*cutoff).
func highPass(samples []float64, cutoff float64, sampleRate int) {
	rc := 1 / (2 * math.Pi * cutoff)
	dt := 1 / float64(sampleRate)
	alpha := rc / (rc + dt)

	prevIn := samples[0]
	prevOut := samples[0]
	for i := 1; i < len(samples); i++ {
		in := samples[i]
		out := alpha * (prevOut + in - prevIn)
		samples[i] = out
		prevIn = in
		prevOut = out
	}
}

// noiseGate zeroes samples below an RMS-derived floor and attenuates the
// survivors by 10%. Used instead of spectral subtraction for long utterances.
func noiseGate(samples []float64) {
	floor := dsp.RMS(samples) * gateFloorRatio
	for i, s := range samples {
		if s < floor && s > -floor {
			samples[i] = 0
		} else {
			samples[i] = s * gateAttenuation
		}
	}
}

// applyAGC scales every sample toward the target RMS, with the gain capped
// to avoid clipping and noise-floor amplification.
func applyAGC(samples []float64, targetRMS, maxGain float64) {
	rms := dsp.RMS(samples)
	if rms == 0 {
		return
	}
	gain := targetRMS / rms
	if gain > maxGain {
		gain = maxGain
	}
	for i := range samples {
		v := samples[i] * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = v
	}
}

// trimSilence is an explicit pass-through. See [Config.TrimSilence].
func trimSilence(samples []float64) []float64 {
	return samples
}

// pcmToFloat converts 16-bit LE PCM bytes to float64 samples in [-1, 1].
func pcmToFloat(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(s) / 32768
	}
	return out
}

// floatToPCM converts float64 samples in [-1, 1] back to 16-bit LE PCM,
// clamping out-of-range values.
func floatToPCM(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		iv := int16(v)
		out[i*2] = byte(iv)
		out[i*2+1] = byte(iv >> 8)
	}
	return out
}
