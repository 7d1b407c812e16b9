// Package openai provides a transcriber backed by the OpenAI audio
// transcription API. It implements the asr.Transcriber interface.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/earshot/earshot/pkg/provider/asr"
	"github.com/earshot/earshot/pkg/provider/asr/whisper"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

const defaultSampleRate = 16000

// Ensure Provider implements the asr.Transcriber interface.
var _ asr.Transcriber = (*Provider)(nil)

// Provider implements asr.Transcriber using the OpenAI API. The utterance
// PCM is wrapped in a WAV container per request; the API does not accept raw
// PCM.
type Provider struct {
	client     oai.Client
	model      string
	language   string
	sampleRate int
	channels   int
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	timeout    time.Duration
	language   string
	sampleRate int
	channels   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// API-compatible local inference servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithLanguage sets the ISO-639-1 language hint (e.g., "en").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithSampleRate sets the audio sample rate in Hz. This must match the
// actual sample rate of PCM passed to Transcribe. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// WithChannels sets the channel count of PCM passed to Transcribe.
// Defaults to 1.
func WithChannels(channels int) Option {
	return func(c *config) {
		c.channels = channels
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai asr: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{sampleRate: defaultSampleRate, channels: 1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{
		client:     client,
		model:      model,
		language:   cfg.language,
		sampleRate: cfg.sampleRate,
		channels:   cfg.channels,
	}, nil
}

// Name implements asr.Transcriber.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements asr.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (asr.Result, error) {
	start := time.Now()

	wav := whisper.EncodeWAV(pcm, p.sampleRate, p.channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: p.model,
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return asr.Result{}, fmt.Errorf("openai asr: transcribe: %w", err)
	}

	return asr.Result{
		Text:    resp.Text,
		Elapsed: time.Since(start),
	}, nil
}

// Probe verifies key validity and API reachability by fetching the
// configured model's metadata, without uploading any audio.
func (p *Provider) Probe(ctx context.Context) error {
	if _, err := p.client.Models.Get(ctx, p.model); err != nil {
		return fmt.Errorf("openai asr: probe: %w", err)
	}
	return nil
}
