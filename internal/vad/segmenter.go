// Package vad segments a continuous audio frame stream into discrete speech
// utterances using adaptive energy thresholding.
//
// The [Segmenter] is a two-state machine. While idle it maintains a sliding
// pre-roll queue of recent frames and a background noise estimate; when a
// frame is classified as voiced it switches to accumulating, prepends the
// pre-roll so the utterance onset is not clipped, and appends every frame
// until silence has persisted longer than the configured timeout. Completed
// utterances are delivered on a buffered channel.
//
// The voicing rule is an OR of three redundant energy signals with hand-tuned
// ratios. The ratios are kept as package constants rather than configuration:
// they have not been validated against labeled data and should be changed
// together, not individually.
package vad

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
	// rmsNoiseRatio marks a frame voiced when its RMS exceeds this multiple
	// of the background noise estimate.
	rmsNoiseRatio = 3

	// energyNoiseRatio marks a frame voiced when its summed squared energy
	// exceeds this multiple of the background noise estimate.
	energyNoiseRatio = 1000

	// adaptiveNoiseRatio and adaptiveWindowRatio derive the adaptive
	// threshold from the noise estimate and the rolling window average.
	adaptiveNoiseRatio  = 2.5
	adaptiveWindowRatio = 1.5
)

// Config holds the tunables for a [Segmenter]. Zero values select the
// defaults documented on each field.
type Config struct {
	// StaticFloor is the minimum RMS (of full scale) a frame must exceed to
	// ever be considered voiced. Also the initial background noise estimate.
	// Default: 0.01.
	StaticFloor float64

	// ThresholdCeiling clamps the adaptive threshold so a run of loud frames
	// cannot push the segmenter into permanent insensitivity. Default: 0.35.
	ThresholdCeiling float64

	// NoiseAlpha is the EMA coefficient for the background noise estimate,
	// updated from frames classified as silence. Default: 0.05.
	NoiseAlpha float64

	// WindowFrames is the size of the rolling RMS window feeding the
	// adaptive threshold. Default: 10.
	WindowFrames int

	// PreRollFrames is how many trailing frames are kept while idle and
	// prepended to a new utterance. Default: 20 (400 ms at 20 ms frames).
	PreRollFrames int

	// SilenceTimeout is how long continuous silence must persist before an
	// accumulating utterance is considered complete. Default: 900 ms.
	SilenceTimeout time.Duration

	// MinSpeech is the minimum span between the first and last voiced frame
	// for an utterance to be emitted rather than discarded. Default: 300 ms.
	MinSpeech time.Duration

	// MinVoicedFrames is the minimum number of voiced frames an utterance
	// must contain. Default: 3.
	MinVoicedFrames int

	// ChannelBuffer sizes the utterance delivery channel. Default: 8.
	ChannelBuffer int
}

func (c Config) withDefaults() Config {
	if c.StaticFloor <= 0 {
		c.StaticFloor = 0.01
	}
	if c.ThresholdCeiling <= 0 {
		c.ThresholdCeiling = 0.35
	}
	if c.NoiseAlpha <= 0 {
		c.NoiseAlpha = 0.05
	}
	if c.WindowFrames <= 0 {
		c.WindowFrames = 10
	}
	if c.PreRollFrames <= 0 {
		c.PreRollFrames = 20
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 900 * time.Millisecond
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = 300 * time.Millisecond
	}
	if c.MinVoicedFrames <= 0 {
		c.MinVoicedFrames = 3
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 8
	}
	return c
}

// Utterance is one completed span of candidate speech, including pre-roll
// and trailing silence up to the timeout.
type Utterance struct {
	// PCM is 16-bit LE audio in the source's format. Owned by the receiver.
	PCM []byte

	SampleRate int
	Channels   int

	// Start is the stream offset of the first byte, pre-roll included.
	Start time.Duration

	// Speech is the span from the first to the last voiced frame. Always at
	// least the configured minimum.
	Speech time.Duration
}

// Duration returns the total playback length of the utterance.
func (u Utterance) Duration() time.Duration {
	bytesPerSecond := u.SampleRate * u.Channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(u.PCM)) * time.Second / time.Duration(bytesPerSecond)
}

type state int

const (
	stateIdle state = iota
	stateAccumulating
)

// Segmenter consumes frames from an [audio.Source] and emits completed
// utterances. Safe for concurrent use; all per-frame state is guarded by a
// single mutex so pre-roll and accumulation stay consistent with the
// classification that fed them.
type Segmenter struct {
	cfg Config
	src audio.Source

	utterances chan Utterance
	errs       chan error

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	state     state
	noise     float64
	window    []float64
	windowLen int
	windowPos int
	windowSum float64
	preRoll   []audio.Frame

	format       audio.Format
	current      []byte
	startOffset  time.Duration
	speechStart  time.Duration
	lastVoiced   time.Duration
	silence      time.Duration
	voicedFrames int
	dropped      uint64
}

// New creates a Segmenter reading from src. The source must not be started
// by the caller; the segmenter owns its lifecycle.
func New(src audio.Source, cfg Config) *Segmenter {
	cfg = cfg.withDefaults()
	return &Segmenter{
		cfg:        cfg,
		src:        src,
		utterances: make(chan Utterance, cfg.ChannelBuffer),
		errs:       make(chan error, 4),
		noise:      cfg.StaticFloor,
		window:     make([]float64, cfg.WindowFrames),
		preRoll:    make([]audio.Frame, 0, cfg.PreRollFrames),
	}
}

// Utterances returns the channel on which completed utterances are
// delivered. The channel is never closed; consumers should select against
// their own cancellation.
func (s *Segmenter) Utterances() <-chan Utterance {
	return s.utterances
}

// Errors returns the channel on which capture faults are surfaced. Faults
// terminate the capture session but never panic or escape Start.
func (s *Segmenter) Errors() <-chan error {
	return s.errs
}

// Start begins capture and segmentation. Starting an already started
// Segmenter is an error.
func (s *Segmenter) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("vad: segmenter already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := s.src.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("vad: starting capture source: %w", err)
	}

	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Stop ends capture, finalizing any in-progress utterance. Stopping a
// stopped Segmenter is a no-op.
func (s *Segmenter) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	err := s.src.Stop()
	<-done
	if err != nil {
		return fmt.Errorf("vad: stopping capture source: %w", err)
	}
	return nil
}

// Dropped reports how many completed utterances were discarded because the
// delivery channel was full.
func (s *Segmenter) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Segmenter) run(ctx context.Context) {
	defer close(s.done)

	frames := s.src.Frames()
	srcErrs := s.src.Errors()
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case f, ok := <-frames:
			if !ok {
				s.flush()
				return
			}
			s.ingest(f)
		case err, ok := <-srcErrs:
			if !ok {
				srcErrs = nil
				continue
			}
			select {
			case s.errs <- err:
			default:
				slog.Warn("segmenter error channel full, dropping capture fault", "error", err)
			}
		}
	}
}

// ingest classifies one frame and advances the state machine. Runs on the
// capture goroutine; must only copy and bookkeep, never block.
func (s *Segmenter) ingest(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(f.PCM) < 2 {
		return
	}
	s.format = audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}

	rms := dsp.RMSInt16(f.PCM) / 32768
	energy := rms * rms * float64(len(f.PCM)/2)

	voiced := s.classify(rms, energy)
	if !voiced {
		s.noise = s.cfg.NoiseAlpha*rms + (1-s.cfg.NoiseAlpha)*s.noise
	}
	s.pushWindow(rms)

	switch s.state {
	case stateIdle:
		if voiced {
			s.beginUtterance(f)
		} else {
			s.pushPreRoll(f)
		}
	case stateAccumulating:
		s.current = append(s.current, f.PCM...)
		if voiced {
			s.voicedFrames++
			s.lastVoiced = f.Timestamp + f.Duration()
			s.silence = 0
		} else {
			s.silence += f.Duration()
			if s.silence > s.cfg.SilenceTimeout {
				s.finishUtterance()
			}
		}
	}
}

// classify applies the triple-OR voicing rule against the current noise
// estimate and rolling window.
func (s *Segmenter) classify(rms, energy float64) bool {
	adaptive := s.cfg.StaticFloor
	if v := adaptiveNoiseRatio * s.noise; v > adaptive {
		adaptive = v
	}
	if v := adaptiveWindowRatio * s.windowAverage(); v > adaptive {
		adaptive = v
	}
	if adaptive > s.cfg.ThresholdCeiling {
		adaptive = s.cfg.ThresholdCeiling
	}

	return rms > adaptive ||
		energy > energyNoiseRatio*s.noise ||
		rms > rmsNoiseRatio*s.noise
}

func (s *Segmenter) pushWindow(rms float64) {
	if s.windowLen == len(s.window) {
		s.windowSum -= s.window[s.windowPos]
	} else {
		s.windowLen++
	}
	s.window[s.windowPos] = rms
	s.windowSum += rms
	s.windowPos = (s.windowPos + 1) % len(s.window)
}

func (s *Segmenter) windowAverage() float64 {
	if s.windowLen == 0 {
		return 0
	}
	return s.windowSum / float64(s.windowLen)
}

func (s *Segmenter) pushPreRoll(f audio.Frame) {
	if len(s.preRoll) == s.cfg.PreRollFrames {
		copy(s.preRoll, s.preRoll[1:])
		s.preRoll = s.preRoll[:len(s.preRoll)-1]
	}
	s.preRoll = append(s.preRoll, f)
}

func (s *Segmenter) beginUtterance(f audio.Frame) {
	s.state = stateAccumulating

	s.startOffset = f.Timestamp
	if len(s.preRoll) > 0 {
		s.startOffset = s.preRoll[0].Timestamp
	}
	s.current = s.current[:0]
	for _, pf := range s.preRoll {
		s.current = append(s.current, pf.PCM...)
	}
	s.current = append(s.current, f.PCM...)
	s.preRoll = s.preRoll[:0]

	s.speechStart = f.Timestamp
	s.lastVoiced = f.Timestamp + f.Duration()
	s.voicedFrames = 1
	s.silence = 0
}

// finishUtterance completes the accumulating utterance and returns to idle.
// The utterance is emitted only if it carries enough speech; otherwise it is
// discarded without notice.
func (s *Segmenter) finishUtterance() {
	speech := s.lastVoiced - s.speechStart
	pcm := s.current
	s.current = nil
	s.state = stateIdle

	if s.voicedFrames < s.cfg.MinVoicedFrames || speech < s.cfg.MinSpeech {
		slog.Debug("discarding short utterance",
			"speech", speech, "voiced_frames", s.voicedFrames)
		return
	}

	u := Utterance{
		PCM:        pcm,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Start:      s.startOffset,
		Speech:     speech,
	}
	select {
	case s.utterances <- u:
	default:
		s.dropped++
		slog.Warn("utterance channel full, dropping utterance",
			"duration", u.Duration(), "dropped_total", s.dropped)
	}
}

// flush finalizes an utterance cut off by Stop or source exhaustion.
func (s *Segmenter) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateAccumulating || len(s.current) == 0 {
		return
	}
	s.finishUtterance()
}
