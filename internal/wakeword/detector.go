// Package wakeword implements a continuous wake-word listener.
//
// The [Detector] consumes ~20 ms frames independently of the voice activity
// segmenter and classifies each frame with a coarse voiced-speech heuristic:
// adaptive energy thresholding, zero-crossing rate, and a dominant-frequency
// estimate derived from strong-sample zero crossings. It is not a trained
// model; the thresholds are hand-tuned and may trigger on non-speech
// transients, which is why downstream confirmation against the transcribed
// utterance exists (see [Verifier]).
package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot/earshot/internal/dsp"
	"github.com/earshot/earshot/pkg/audio"
)

const (
	// zcrMin and zcrMax bound the zero-crossing rate of a voiced trigger
	// frame. Below the band is hum or tone, above it is fricative or noise.
	zcrMin = 0.05
	zcrMax = 0.3

	// freqMin and freqMax bound the dominant-frequency estimate in Hz,
	// roughly the human pitch range.
	freqMin = 80
	freqMax = 400

	// idealZCR is the zero-crossing rate the confidence blend treats as a
	// perfect voiced-speech reading.
	idealZCR = 0.15

	// strongSampleRatio selects the samples used for the dominant-frequency
	// estimate: only crossings between samples above this fraction of the
	// frame peak are counted, so low-level dither does not inflate the
	// estimate.
	strongSampleRatio = 0.25
)

// Config holds the tunables for a [Detector]. Zero values select the
// defaults documented on each field.
type Config struct {
	// Word is the wake word the detector reports in its detections. It does
	// not influence frame classification; it labels the event and drives
	// transcript verification.
	Word string

	// Sensitivity scales the adaptive energy threshold. Values below 1 make
	// the detector trigger more easily. Default: 1.0.
	Sensitivity float64

	// EnergyFloor is the minimum frame RMS, in raw int16 units, for a frame
	// to ever be a candidate. Also the initial background estimate.
	// Default: 500.
	EnergyFloor float64

	// BackgroundMultiplier is the multiple of the background estimate a
	// candidate frame must additionally exceed. Default: 3.
	BackgroundMultiplier float64

	// NoiseAlpha is the EMA coefficient for the background energy estimate,
	// updated from non-candidate frames. Default: 0.05.
	NoiseAlpha float64

	// Debounce is the minimum interval between detections. Default: 2s.
	Debounce time.Duration

	// ChannelBuffer sizes the detection delivery channel. Default: 8.
	ChannelBuffer int
}

func (c Config) withDefaults() Config {
	if c.Sensitivity <= 0 {
		c.Sensitivity = 1.0
	}
	if c.EnergyFloor <= 0 {
		c.EnergyFloor = 500
	}
	if c.BackgroundMultiplier <= 0 {
		c.BackgroundMultiplier = 3
	}
	if c.NoiseAlpha <= 0 {
		c.NoiseAlpha = 0.05
	}
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 8
	}
	return c
}

// Detection is one wake-word trigger event.
type Detection struct {
	// Word is the configured wake word at the time of the trigger.
	Word string

	// Confidence in [0, 1], blended from normalized frame energy and the
	// zero-crossing rate's proximity to the voiced-speech ideal.
	Confidence float64

	// Direction is the direction of arrival in degrees. Always zero for
	// mono capture; populated only by multi-channel sources.
	Direction float64

	// Timestamp is the stream offset of the triggering frame.
	Timestamp time.Duration
}

// Detector listens for the wake word on an [audio.Source]. Safe for
// concurrent use.
type Detector struct {
	src audio.Source

	detections chan Detection
	errs       chan error

	mu      sync.Mutex
	cfg     Config
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	background  float64
	lastTrigger time.Duration
	triggered   bool
}

// New creates a Detector reading from src. The source must not be started by
// the caller; the detector owns its lifecycle.
func New(src audio.Source, cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		src:        src,
		cfg:        cfg,
		detections: make(chan Detection, cfg.ChannelBuffer),
		errs:       make(chan error, 4),
		background: cfg.EnergyFloor,
	}
}

// Detections returns the channel on which trigger events are delivered. The
// channel is never closed; consumers should select against their own
// cancellation.
func (d *Detector) Detections() <-chan Detection {
	return d.detections
}

// Errors returns the channel on which capture faults are surfaced.
func (d *Detector) Errors() <-chan error {
	return d.errs
}

// Word returns the currently configured wake word.
func (d *Detector) Word() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Word
}

// SetWakeWord swaps the target word while listening. Sensitivity and
// thresholds are preserved; the background estimate and debounce state are
// reset so the new word starts from a fresh listening state.
func (d *Detector) SetWakeWord(word string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Word = word
	d.background = d.cfg.EnergyFloor
	d.triggered = false
}

// SetSensitivity changes the threshold scaling while running. Values below 1
// make the detector trigger more easily. Non-positive values are ignored.
func (d *Detector) SetSensitivity(s float64) {
	if s <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Sensitivity = s
}

// Start begins capture and detection. Starting an already started Detector
// is an error.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("wakeword: detector already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := d.src.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("wakeword: starting capture source: %w", err)
	}

	d.started = true
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx)
	return nil
}

// Stop ends capture. Stopping a stopped Detector is a no-op.
func (d *Detector) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	err := d.src.Stop()
	<-done
	if err != nil {
		return fmt.Errorf("wakeword: stopping capture source: %w", err)
	}
	return nil
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.done)

	frames := d.src.Frames()
	srcErrs := d.src.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			d.ingest(f)
		case err, ok := <-srcErrs:
			if !ok {
				srcErrs = nil
				continue
			}
			select {
			case d.errs <- err:
			default:
				slog.Warn("detector error channel full, dropping capture fault", "error", err)
			}
		}
	}
}

// ingest classifies one frame. Runs on the capture goroutine.
func (d *Detector) ingest(f audio.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(f.PCM) < 4 {
		return
	}

	energy := dsp.RMSInt16(f.PCM)
	threshold := d.cfg.EnergyFloor
	if v := 3 * d.background; v > threshold {
		threshold = v
	}

	candidate := energy > threshold*d.cfg.Sensitivity &&
		energy > d.background*d.cfg.BackgroundMultiplier
	if !candidate {
		d.background = d.cfg.NoiseAlpha*energy + (1-d.cfg.NoiseAlpha)*d.background
		return
	}

	samples := audio.BytesToInt16(f.PCM)
	zcr := dsp.ZeroCrossingRate(samples)
	if zcr <= zcrMin || zcr >= zcrMax {
		return
	}
	freq := dominantFrequency(samples, f.SampleRate)
	if freq <= freqMin || freq >= freqMax {
		return
	}

	if d.triggered && f.Timestamp-d.lastTrigger < d.cfg.Debounce {
		return
	}
	d.triggered = true
	d.lastTrigger = f.Timestamp

	det := Detection{
		Word:       d.cfg.Word,
		Confidence: confidence(energy, threshold*d.cfg.Sensitivity, zcr),
		Timestamp:  f.Timestamp,
	}
	select {
	case d.detections <- det:
	default:
		slog.Warn("detection channel full, dropping trigger",
			"word", det.Word, "confidence", det.Confidence)
	}
}

// dominantFrequency estimates the strongest low-frequency component by
// counting zero crossings between strong samples only. Small-amplitude
// dither flips the raw sign frequently but rarely crosses the strong-sample
// band, so the count tracks the dominant periodicity.
func dominantFrequency(samples []int16, sampleRate int) float64 {
	var peak int16
	for _, s := range samples {
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}
	if peak == 0 {
		return 0
	}
	band := int16(float64(peak) * strongSampleRatio)

	crossings := 0
	prevPositive := false
	havePrev := false
	for _, s := range samples {
		if s < band && s > -band {
			continue
		}
		positive := s > 0
		if havePrev && positive != prevPositive {
			crossings++
		}
		prevPositive = positive
		havePrev = true
	}

	return float64(crossings) * float64(sampleRate) / (2 * float64(len(samples)))
}

// confidence blends normalized energy with the zero-crossing rate's
// proximity to the voiced-speech ideal, clamped to [0, 1].
func confidence(energy, threshold, zcr float64) float64 {
	energyScore := energy / (2 * threshold)
	if energyScore > 1 {
		energyScore = 1
	}

	zcrScore := 1 - (zcr-idealZCR)/idealZCR
	if zcr < idealZCR {
		zcrScore = 1 - (idealZCR-zcr)/idealZCR
	}
	if zcrScore < 0 {
		zcrScore = 0
	}

	c := 0.6*energyScore + 0.4*zcrScore
	if c > 1 {
		c = 1
	} else if c < 0 {
		c = 0
	}
	return c
}
