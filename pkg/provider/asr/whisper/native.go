// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/earshot/earshot/pkg/provider/asr"
)

// Compile-time assertion that NativeProvider satisfies asr.Transcriber.
var _ asr.Transcriber = (*NativeProvider)(nil)

// NativeProvider implements asr.Transcriber using the whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. The model is loaded
// once at construction and shared across calls; each Transcribe creates its
// own whisper context, so concurrent calls for different utterances are
// safe.
type NativeProvider struct {
	modelPath string
	language  string
	channels  int

	mu    sync.Mutex
	model whisperlib.Model
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeChannels sets the channel count of PCM passed to Transcribe.
// Multi-channel audio is downmixed before inference. Defaults to 1.
func WithNativeChannels(channels int) NativeOption {
	return func(p *NativeProvider) { p.channels = channels }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		modelPath: modelPath,
		language:  defaultLanguage,
		channels:  1,
		model:     model,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Transcriber.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Close releases the whisper model. Must be called when the provider is no
// longer needed. Transcribe calls after Close return an error.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe converts the utterance to float32 mono samples, runs whisper.cpp
// inference in a fresh context, and concatenates the resulting segments.
func (p *NativeProvider) Transcribe(ctx context.Context, pcm []byte) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	start := time.Now()

	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return asr.Result{}, errors.New("whisper: provider is closed")
	}

	samples := pcmToFloat32Mono(pcm, p.channels)

	// A whisper context is not safe for concurrent use, but creating one per
	// call from the shared model is.
	wctx, err := model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return asr.Result{
		Text:    strings.Join(parts, " "),
		Elapsed: time.Since(start),
	}, nil
}

// Probe checks that the model file still exists on disk. The model is
// already loaded in memory, so this is purely a configuration sanity check,
// matching the lightweight semantics remote providers get from a
// reachability probe.
func (p *NativeProvider) Probe(_ context.Context) error {
	if _, err := os.Stat(p.modelPath); err != nil {
		return fmt.Errorf("whisper: model file %q: %w", p.modelPath, err)
	}
	return nil
}

// pcmToFloat32Mono converts 16-bit LE PCM to float32 samples in [-1, 1],
// averaging channels when the input is multi-channel.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			s := int16(binary.LittleEndian.Uint16(pcm[(i*channels+c)*2:]))
			sum += float32(s) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}
