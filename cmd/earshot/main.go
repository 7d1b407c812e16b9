// Command earshot is the continuous audio capture and transcription daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earshot/earshot/internal/archive"
	archivepg "github.com/earshot/earshot/internal/archive/postgres"
	"github.com/earshot/earshot/internal/config"
	"github.com/earshot/earshot/internal/enhance"
	"github.com/earshot/earshot/internal/health"
	"github.com/earshot/earshot/internal/observe"
	"github.com/earshot/earshot/internal/pipeline"
	"github.com/earshot/earshot/internal/transcribe"
	"github.com/earshot/earshot/internal/vad"
	"github.com/earshot/earshot/internal/wakeword"
	"github.com/earshot/earshot/pkg/audio/capture"
	"github.com/earshot/earshot/pkg/provider/asr"
	"github.com/earshot/earshot/pkg/provider/asr/deepgram"
	asrmock "github.com/earshot/earshot/pkg/provider/asr/mock"
	asropenai "github.com/earshot/earshot/pkg/provider/asr/openai"
	"github.com/earshot/earshot/pkg/provider/asr/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "earshot"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Transcription providers ───────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	built, err := reg.CreateAllASR(cfg.Providers.ASR)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	coord := transcribe.NewCoordinator()
	for _, bp := range built {
		coord.Register(bp.Transcriber, bp.Priority)
		slog.Info("provider registered", "name", bp.Transcriber.Name(), "priority", bp.Priority)
	}

	// ── Capture source ────────────────────────────────────────────────────────
	var pcmFile io.Reader
	if cfg.Capture.Source == config.CaptureSourceReader {
		f, err := os.Open(cfg.Capture.SourcePath)
		if err != nil {
			slog.Error("failed to open capture input file", "path", cfg.Capture.SourcePath, "err", err)
			return 1
		}
		defer f.Close()
		pcmFile = f
	}
	src, err := capture.New(cfg.Capture.Source, capture.Config{
		Device:        cfg.Capture.Device,
		SampleRate:    cfg.Capture.SampleRate,
		Channels:      cfg.Capture.Channels,
		FrameDuration: cfg.Capture.FrameDuration(),
	}, nil, pcmFile)
	if err != nil {
		slog.Error("failed to open capture source", "err", err)
		return 1
	}

	// ── Transcript archive (optional) ─────────────────────────────────────────
	var store archive.Store
	if cfg.Archive.PostgresDSN != "" {
		pgStore, err := archivepg.NewStore(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			slog.Error("failed to open transcript archive", "err", err)
			return 1
		}
		defer pgStore.Close()
		store = pgStore
		slog.Info("transcript archive connected")

		if cfg.Archive.RetentionDays > 0 {
			go pruneLoop(ctx, pgStore, cfg.Archive.RetentionDays)
		}
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	opts := []pipeline.Option{
		pipeline.WithSegmenterConfig(vad.Config{
			StaticFloor:      cfg.VAD.StaticFloor,
			ThresholdCeiling: cfg.VAD.ThresholdCeiling,
			SilenceTimeout:   time.Duration(cfg.VAD.SilenceTimeoutMS) * time.Millisecond,
			MinSpeech:        time.Duration(cfg.VAD.MinSpeechMS) * time.Millisecond,
			PreRollFrames:    cfg.VAD.PreRollFrames,
		}),
		pipeline.WithDetectorConfig(wakeword.Config{
			Word:        cfg.WakeWord.Word,
			Sensitivity: cfg.WakeWord.Sensitivity,
			Debounce:    time.Duration(cfg.WakeWord.DebounceMS) * time.Millisecond,
		}),
		pipeline.WithEnhancerConfig(enhance.Config{
			SampleRate:              cfg.Capture.SampleRate,
			DisableNoiseSuppression: cfg.Enhance.DisableNoiseReduction,
			HighPass:                !cfg.Enhance.DisableHighPass,
			HighPassCutoff:          cfg.Enhance.HighPassCutoffHz,
			DisableAGC:              cfg.Enhance.DisableAGC,
			AGCMaxGain:              cfg.Enhance.AGCMaxGain,
			TrimSilence:             !cfg.Enhance.DisableTrim,
		}),
		pipeline.WithMetrics(metrics),
		pipeline.WithPreferredProvider(cfg.Providers.Preferred),
		pipeline.WithProbeInterval(cfg.Providers.ProbeInterval()),
	}
	if cfg.WakeWord.Word != "" {
		var vOpts []wakeword.VerifierOption
		if cfg.WakeWord.VerifyThreshold > 0 {
			vOpts = append(vOpts, wakeword.WithVerifyThreshold(cfg.WakeWord.VerifyThreshold))
		}
		opts = append(opts, pipeline.WithVerifier(wakeword.NewVerifier(cfg.WakeWord.Word, vOpts...)))
	}
	if cfg.Capture.BufferSeconds > 0 {
		opts = append(opts, pipeline.WithRecentWindow(time.Duration(cfg.Capture.BufferSeconds)*time.Second))
	}
	if store != nil {
		opts = append(opts, pipeline.WithArchive(store))
	}

	pipe := pipeline.New(src, coord, opts...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	var server *http.Server
	if cfg.Server.ListenAddr != "" {
		server = newServer(cfg, coord, metrics, pipe, store)
		go func() {
			var err error
			if cfg.Server.TLS != nil {
				err = server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(pipe, old, new)
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Result consumer ───────────────────────────────────────────────────────
	go consumeResults(ctx, pipe)

	slog.Info("pipeline ready, press Ctrl+C to shut down")

	if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("pipeline error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in transcriber factories into reg.
// Factories capture cfg so providers inherit the capture audio format.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	sampleRate := cfg.Capture.SampleRate
	channels := cfg.Capture.Channels

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if sampleRate > 0 {
			opts = append(opts, whisper.WithSampleRate(sampleRate))
		}
		if channels > 0 {
			opts = append(opts, whisper.WithChannels(channels))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterASR("whisper-native", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		if channels > 0 {
			opts = append(opts, whisper.WithNativeChannels(channels))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if sampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(sampleRate))
		}
		if channels > 0 {
			opts = append(opts, deepgram.WithChannels(channels))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		var opts []asropenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, asropenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, asropenai.WithLanguage(entry.Language))
		}
		if sampleRate > 0 {
			opts = append(opts, asropenai.WithSampleRate(sampleRate))
		}
		if channels > 0 {
			opts = append(opts, asropenai.WithChannels(channels))
		}
		return asropenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterASR("mock", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		return &asrmock.Transcriber{NameValue: entry.Name}, nil
	})
}

// ── HTTP surface ──────────────────────────────────────────────────────────────

// newServer assembles the health, metrics, and debug endpoints.
func newServer(cfg *config.Config, coord *transcribe.Coordinator, metrics *observe.Metrics, pipe *pipeline.Pipeline, store archive.Store) *http.Server {
	mux := http.NewServeMux()
	health.New(health.Providers(coord)).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/recent.wav", func(w http.ResponseWriter, _ *http.Request) {
		pcm, rate, channels := pipe.RecentAudio()
		if len(pcm) == 0 {
			http.Error(w, "no audio captured yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(whisper.EncodeWAV(pcm, rate, channels))
	})
	if store != nil {
		mux.Handle("/debug/search", archive.SearchHandler(store))
	}

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyConfigChange pushes the reloadable parts of a config update into the
// running pipeline. Changes to capture format or provider credentials require
// a restart and are logged, not applied.
func applyConfigChange(pipe *pipeline.Pipeline, old, new *config.Config) {
	diff := config.Diff(old, new)

	if diff.LogLevelChanged {
		slog.SetDefault(newLogger(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.WakeWordChanged {
		pipe.SetWakeWord(diff.NewWakeWord.Word)
		if diff.NewWakeWord.Sensitivity > 0 {
			pipe.SetWakeSensitivity(diff.NewWakeWord.Sensitivity)
		}
	}
	if diff.PreferredChanged {
		pipe.SetPreferredProvider(diff.NewPreferred)
		slog.Info("preferred provider changed", "provider", diff.NewPreferred)
	}
	if diff.ProvidersChanged {
		slog.Warn("provider set changed in config, restart to apply")
	}
}

// ── Background loops ──────────────────────────────────────────────────────────

// consumeResults logs transcripts and wake events until ctx is cancelled.
func consumeResults(ctx context.Context, pipe *pipeline.Pipeline) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-pipe.Results():
			slog.Info("transcript",
				"text", res.Text,
				"provider", res.Provider,
				"confidence", res.Confidence,
				"wake_word", res.WakeWord,
				"audio_dur", res.AudioDuration,
				"elapsed", res.Elapsed,
			)
		case ev := <-pipe.WakeEvents():
			slog.Info("wake word detected",
				"word", ev.Word,
				"confidence", ev.Confidence,
				"offset", ev.Timestamp,
			)
		}
	}
}

// pruneLoop deletes archived transcripts older than the retention window.
// Runs once at startup and then daily.
func pruneLoop(ctx context.Context, store archive.Store, retentionDays int) {
	retention := time.Duration(retentionDays) * 24 * time.Hour
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			slog.Warn("archive prune failed", "err", err)
		} else if n > 0 {
			slog.Info("archive pruned", "records", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
