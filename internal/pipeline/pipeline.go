// Package pipeline wires the capture, segmentation, enhancement, wake word,
// and transcription subsystems into one running unit.
//
// A single capture [audio.Source] is split three ways: one branch feeds the
// voice activity segmenter, one the wake word detector, and one a rolling
// ring buffer holding the most recent raw audio for inspection via
// [Pipeline.RecentAudio]. Utterances are
// enhanced and transcribed through the coordinator; results are published on
// [Pipeline.Results] and, when an archive is configured, persisted. Wake
// detections are published on [Pipeline.WakeEvents] and verified against the
// transcript that follows them.
//
// For testing, inject mock implementations via functional options
// (WithArchive, WithMetrics, etc.). When an option is not provided, New
// creates real implementations with default settings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earshot/earshot/internal/archive"
	"github.com/earshot/earshot/internal/enhance"
	"github.com/earshot/earshot/internal/observe"
	"github.com/earshot/earshot/internal/transcribe"
	"github.com/earshot/earshot/internal/vad"
	"github.com/earshot/earshot/internal/wakeword"
	"github.com/earshot/earshot/pkg/audio"
)

// wakeVerifyWindow is how long after a detection a transcript may still
// confirm it. Detections older than this are considered stale.
const wakeVerifyWindow = 10 * time.Second

// Result is one finished transcription flowing out of the pipeline.
type Result struct {
	// Text is the transcribed text.
	Text string

	// Confidence is the provider's confidence in [0, 1], 0 when unknown.
	Confidence float64

	// Provider names the transcriber that served the result.
	Provider string

	// WasFallbackUsed is true when at least one provider failed before
	// this result.
	WasFallbackUsed bool

	// WakeWord is the verified wake word that preceded this utterance, or
	// empty for continuous capture.
	WakeWord string

	// Start is the stream offset of the utterance's first sample.
	Start time.Duration

	// AudioDuration is the length of the transcribed audio.
	AudioDuration time.Duration

	// Elapsed is the total transcription latency across all attempts.
	Elapsed time.Duration

	// ArchiveID is the persisted record's ID, 0 when archiving is disabled
	// or failed.
	ArchiveID int64
}

// WakeEvent is one wake-word detection flowing out of the pipeline.
type WakeEvent struct {
	// Word is the wake word that triggered.
	Word string

	// Confidence in [0, 1].
	Confidence float64

	// Timestamp is the stream offset of the triggering frame.
	Timestamp time.Duration
}

// Pipeline owns the full capture-to-transcript processing chain.
type Pipeline struct {
	fanout *audio.Fanout
	seg    *vad.Segmenter
	det    *wakeword.Detector
	enh    *enhance.Enhancer
	coord  *transcribe.Coordinator
	tap    audio.Source

	verifier *wakeword.Verifier
	store    archive.Store
	metrics  *observe.Metrics

	preferred     string
	probeInterval time.Duration
	recentWindow  time.Duration

	// ring holds the most recent recentWindow of raw capture. Created
	// lazily from the first frame's format.
	ringMu       sync.Mutex
	ring         *audio.RingBuffer
	ringRate     int
	ringChannels int

	results chan Result
	wakes   chan WakeEvent

	// pendingWake is the most recent unconfirmed detection.
	mu          sync.Mutex
	pendingWake *wakeword.Detection

	running bool
	runMu   sync.Mutex

	resultsDropped uint64
	wakesDropped   uint64
}

// Option is a functional option for New. Use these to inject test doubles
// or tune subsystem configs.
type Option func(*options)

type options struct {
	segCfg       vad.Config
	detCfg       wakeword.Config
	enhCfg       enhance.Config
	verifier     *wakeword.Verifier
	store        archive.Store
	metrics      *observe.Metrics
	preferred    string
	probeEvery   time.Duration
	resultBuffer int
	recentWindow time.Duration
}

// WithSegmenterConfig overrides the voice activity segmenter tunables.
func WithSegmenterConfig(cfg vad.Config) Option {
	return func(o *options) { o.segCfg = cfg }
}

// WithDetectorConfig overrides the wake word detector tunables.
func WithDetectorConfig(cfg wakeword.Config) Option {
	return func(o *options) { o.detCfg = cfg }
}

// WithEnhancerConfig overrides the signal enhancement settings.
func WithEnhancerConfig(cfg enhance.Config) Option {
	return func(o *options) { o.enhCfg = cfg }
}

// WithVerifier injects a wake word verifier. Without one, any transcript
// following a detection confirms it.
func WithVerifier(v *wakeword.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithArchive injects a transcript archive. Without one, results are only
// published on the Results channel.
func WithArchive(s archive.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMetrics injects a metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPreferredProvider names the provider the coordinator tries first.
func WithPreferredProvider(name string) Option {
	return func(o *options) { o.preferred = name }
}

// WithProbeInterval enables periodic background probing of all providers.
// Zero (the default) disables probing.
func WithProbeInterval(d time.Duration) Option {
	return func(o *options) { o.probeEvery = d }
}

// WithRecentWindow sets how much trailing raw audio is retained for
// [Pipeline.RecentAudio]. Zero or negative disables retention.
// The default is 30 seconds.
func WithRecentWindow(d time.Duration) Option {
	return func(o *options) { o.recentWindow = d }
}

// WithResultBuffer sets the Results and WakeEvents channel capacity.
// The default is 16.
func WithResultBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.resultBuffer = n
		}
	}
}

// New builds a Pipeline reading from src and transcribing through coord.
// The source must not be started; the pipeline owns its lifecycle via Run.
func New(src audio.Source, coord *transcribe.Coordinator, opts ...Option) *Pipeline {
	o := &options{resultBuffer: 16, recentWindow: 30 * time.Second}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	branches := 2
	if o.recentWindow > 0 {
		branches = 3
	}
	fan := audio.NewFanout(src, branches)
	fan.OnDrop = func() {
		o.metrics.FramesDropped.Add(context.Background(), 1)
	}

	p := &Pipeline{
		fanout:        fan,
		seg:           vad.New(fan.Branch(0), o.segCfg),
		det:           wakeword.New(fan.Branch(1), o.detCfg),
		enh:           enhance.New(o.enhCfg),
		coord:         coord,
		verifier:      o.verifier,
		store:         o.store,
		metrics:       o.metrics,
		preferred:     o.preferred,
		probeInterval: o.probeEvery,
		recentWindow:  o.recentWindow,
		results:       make(chan Result, o.resultBuffer),
		wakes:         make(chan WakeEvent, o.resultBuffer),
	}
	if o.recentWindow > 0 {
		p.tap = fan.Branch(2)
	}
	return p
}

// Results returns the channel of finished transcriptions. The channel is
// never closed; results are dropped when the consumer falls behind.
func (p *Pipeline) Results() <-chan Result {
	return p.results
}

// WakeEvents returns the channel of wake word detections. The channel is
// never closed.
func (p *Pipeline) WakeEvents() <-chan WakeEvent {
	return p.wakes
}

// SetWakeWord swaps the active wake word while the pipeline is running.
// The detector restarts its calibration and a matching verifier is installed.
func (p *Pipeline) SetWakeWord(word string) {
	p.det.SetWakeWord(word)
	p.mu.Lock()
	p.verifier = wakeword.NewVerifier(word)
	p.pendingWake = nil
	p.mu.Unlock()
	slog.Info("wake word changed", "word", word)
}

// SetWakeSensitivity adjusts the detector's trigger threshold scaling while
// the pipeline is running.
func (p *Pipeline) SetWakeSensitivity(s float64) {
	p.det.SetSensitivity(s)
}

// SetPreferredProvider changes the provider tried first for subsequent
// utterances.
func (p *Pipeline) SetPreferredProvider(name string) {
	p.runMu.Lock()
	p.preferred = name
	p.runMu.Unlock()
}

// Run starts capture and processing and blocks until ctx is cancelled or a
// capture fault occurs. The error is nil on clean cancellation.
//
// Run may only be called once per Pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return errors.New("pipeline: already running")
	}
	p.running = true
	p.runMu.Unlock()

	if err := p.seg.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start segmenter: %w", err)
	}
	if err := p.det.Start(ctx); err != nil {
		_ = p.seg.Stop()
		return fmt.Errorf("pipeline: start detector: %w", err)
	}
	if p.tap != nil {
		if err := p.tap.Start(ctx); err != nil {
			_ = p.det.Stop()
			_ = p.seg.Stop()
			return fmt.Errorf("pipeline: start recent-audio tap: %w", err)
		}
	}
	p.metrics.ActiveStreams.Add(ctx, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.consumeUtterances(ctx) })
	g.Go(func() error { return p.consumeDetections(ctx) })
	g.Go(func() error { return p.consumeFaults(ctx) })
	g.Go(func() error { return p.consumeCoordinatorEvents(ctx) })
	if p.tap != nil {
		g.Go(func() error { return p.consumeTap(ctx) })
	}
	if p.probeInterval > 0 {
		g.Go(func() error { return p.probeLoop(ctx) })
	}

	err := g.Wait()

	if p.tap != nil {
		if stopErr := p.tap.Stop(); stopErr != nil {
			slog.Warn("pipeline: tap stop", "err", stopErr)
		}
	}
	if stopErr := p.det.Stop(); stopErr != nil {
		slog.Warn("pipeline: detector stop", "err", stopErr)
	}
	if stopErr := p.seg.Stop(); stopErr != nil {
		slog.Warn("pipeline: segmenter stop", "err", stopErr)
	}
	p.metrics.ActiveStreams.Add(context.Background(), -1)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consumeUtterances drains the segmenter, enhances each utterance, and
// transcribes it.
func (p *Pipeline) consumeUtterances(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ut := <-p.seg.Utterances():
			p.handleUtterance(ctx, ut)
		}
	}
}

// handleUtterance runs one utterance through enhancement, transcription,
// wake verification, and archiving.
func (p *Pipeline) handleUtterance(ctx context.Context, ut vad.Utterance) {
	p.metrics.RecordUtterance(ctx, ut.Duration().Seconds())

	ctx, span := observe.StageSpan(ctx, observe.StageEnhance, len(ut.PCM), ut.SampleRate, ut.Channels)
	enhStart := time.Now()
	pcm := p.enh.Process(ut.PCM)
	p.metrics.EnhanceDuration.Record(ctx, time.Since(enhStart).Seconds())
	observe.EndStageSpan(span, "", nil)

	p.runMu.Lock()
	preferred := p.preferred
	p.runMu.Unlock()

	ctx, span = observe.StageSpan(ctx, observe.StageTranscribe, len(pcm), ut.SampleRate, ut.Channels)
	tr, err := p.coord.ConvertToText(ctx, pcm, preferred)
	if err != nil {
		observe.EndStageSpan(span, "", err)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("transcription failed", "err", err, "audio_dur", ut.Duration())
		return
	}
	observe.EndStageSpan(span, tr.Provider, nil)
	p.metrics.RecordTranscription(ctx, tr.Provider, "ok", tr.TotalElapsed.Seconds())

	res := Result{
		Text:            tr.Text,
		Confidence:      tr.Confidence,
		Provider:        tr.Provider,
		WasFallbackUsed: tr.WasFallbackUsed,
		WakeWord:        p.confirmWake(ctx, ut.Start, tr.Text),
		Start:           ut.Start,
		AudioDuration:   ut.Duration(),
		Elapsed:         tr.TotalElapsed,
	}

	if p.store != nil {
		id, saveErr := p.store.Save(ctx, archive.Record{
			Text:          res.Text,
			Confidence:    res.Confidence,
			Provider:      res.Provider,
			WakeWord:      res.WakeWord,
			CapturedAt:    time.Now().Add(-res.AudioDuration),
			AudioDuration: res.AudioDuration,
			Elapsed:       res.Elapsed,
		})
		if saveErr != nil {
			slog.Warn("archive save failed", "err", saveErr)
		} else {
			res.ArchiveID = id
		}
	}

	select {
	case p.results <- res:
	default:
		p.resultsDropped++
		slog.Warn("result dropped, consumer too slow", "dropped", p.resultsDropped)
		p.metrics.UtterancesDropped.Add(ctx, 1)
	}
}

// confirmWake checks whether a pending detection is confirmed by transcript
// text. Returns the wake word on confirmation and clears the pending state.
func (p *Pipeline) confirmWake(ctx context.Context, utteranceStart time.Duration, text string) string {
	p.mu.Lock()
	pending := p.pendingWake
	verifier := p.verifier
	p.mu.Unlock()

	if pending == nil {
		return ""
	}
	// A stale detection cannot belong to this utterance.
	if utteranceStart > pending.Timestamp+wakeVerifyWindow {
		p.mu.Lock()
		p.pendingWake = nil
		p.mu.Unlock()
		return ""
	}

	verified := true
	if verifier != nil {
		_, verified = verifier.Verify(text)
	}
	p.metrics.RecordWakeDetection(ctx, pending.Word, verified)

	p.mu.Lock()
	p.pendingWake = nil
	p.mu.Unlock()

	if !verified {
		slog.Debug("wake word not confirmed by transcript", "word", pending.Word, "text", text)
		return ""
	}
	return pending.Word
}

// consumeTap keeps the recent-audio ring filled from the third fanout
// branch. The ring is created from the first frame's format so the tap works
// for any capture configuration.
func (p *Pipeline) consumeTap(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-p.tap.Frames():
			p.ringMu.Lock()
			if p.ring == nil {
				p.ring = audio.NewRingForDuration(p.recentWindow, f.SampleRate, f.Channels, 16)
				p.ringRate = f.SampleRate
				p.ringChannels = f.Channels
			}
			p.ring.Write(f.PCM)
			p.ringMu.Unlock()
		}
	}
}

// RecentAudio returns a copy of the most recent raw capture audio together
// with its format. Returns nil before the first frame arrives or when
// retention is disabled.
func (p *Pipeline) RecentAudio() (pcm []byte, sampleRate, channels int) {
	p.ringMu.Lock()
	defer p.ringMu.Unlock()
	if p.ring == nil || p.ring.Len() == 0 {
		return nil, 0, 0
	}
	pcm = make([]byte, p.ring.Len())
	p.ring.Peek(pcm)
	return pcm, p.ringRate, p.ringChannels
}

// consumeDetections drains the detector and publishes wake events.
func (p *Pipeline) consumeDetections(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case det := <-p.det.Detections():
			p.mu.Lock()
			d := det
			p.pendingWake = &d
			p.mu.Unlock()

			ev := WakeEvent{
				Word:       det.Word,
				Confidence: det.Confidence,
				Timestamp:  det.Timestamp,
			}
			select {
			case p.wakes <- ev:
			default:
				p.wakesDropped++
				slog.Warn("wake event dropped, consumer too slow", "dropped", p.wakesDropped)
			}
		}
	}
}

// consumeFaults watches both branches for capture faults. A fault terminates
// the pipeline.
func (p *Pipeline) consumeFaults(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.seg.Errors():
		return fmt.Errorf("pipeline: capture fault: %w", err)
	case err := <-p.det.Errors():
		return fmt.Errorf("pipeline: capture fault: %w", err)
	}
}

// consumeCoordinatorEvents forwards coordinator fallback and health events
// into metrics and logs.
func (p *Pipeline) consumeCoordinatorEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.coord.Fallbacks():
			p.metrics.RecordFallback(ctx, ev.Failed, ev.Next)
			p.metrics.RecordProviderError(ctx, ev.Failed)
		case hc := <-p.coord.HealthChanges():
			delta := int64(-1)
			if hc.Healthy {
				delta = 1
			}
			p.metrics.HealthyProviders.Add(ctx, delta)
			slog.Info("provider health changed", "provider", hc.Provider, "healthy", hc.Healthy)
		}
	}
}

// probeLoop periodically probes every provider to refresh health state.
func (p *Pipeline) probeLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			results := p.coord.TestAllProviders(ctx)
			for name, err := range results {
				if err != nil {
					slog.Warn("provider probe failed", "provider", name, "err", err)
				}
			}
		}
	}
}
