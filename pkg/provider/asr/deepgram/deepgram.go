// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// streaming WebSocket API. Each Transcribe call opens a short-lived stream,
// feeds it the whole utterance, closes the stream, and collects the final
// results the server flushes back. It implements the asr.Transcriber
// interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/earshot/earshot/pkg/provider/asr"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	probeEndpoint    = "https://api.deepgram.com/v1/projects"

	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// writeChunkBytes is the size of binary audio messages sent per write.
	writeChunkBytes = 8192
)

// Compile-time assertion that Provider implements asr.Transcriber.
var _ asr.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en",
// "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz. This must match the
// actual sample rate of PCM passed to Transcribe. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithChannels sets the channel count of PCM passed to Transcribe.
// Defaults to 1.
func WithChannels(channels int) Option {
	return func(p *Provider) {
		p.channels = channels
	}
}

// WithKeywords adds vocabulary boost hints for uncommon words such as the
// wake word itself. The boost intensity follows Deepgram's word:boost
// format.
func WithKeywords(keywords map[string]float64) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// Provider implements asr.Transcriber backed by the Deepgram streaming API.
// Safe for concurrent use; every call owns its own connection.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	channels   int
	keywords   map[string]float64
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		channels:   1,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Transcriber.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe streams the utterance to Deepgram and returns the concatenated
// final transcript. The stream is closed as soon as all audio is written, so
// the server flushes its remaining results immediately.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (asr.Result, error) {
	start := time.Now()

	wsURL, err := p.buildURL()
	if err != nil {
		return asr.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return asr.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "transcription complete")

	// Write concurrently with reading so a server that starts answering
	// early cannot stall the upload on a full socket buffer.
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.writeAudio(ctx, conn, pcm)
	}()

	var (
		parts      []string
		confidence float64
		finals     int
	)

readLoop:
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			select {
			case werr := <-writeErr:
				if werr != nil {
					return asr.Result{}, werr
				}
			default:
			}
			// Deepgram closes the socket after the Metadata message; a close
			// after at least one final result is the normal end of stream.
			if finals > 0 {
				break readLoop
			}
			return asr.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}

		var resp response
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Results":
			if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
				continue
			}
			alt := resp.Channel.Alternatives[0]
			if alt.Transcript != "" {
				parts = append(parts, alt.Transcript)
				confidence += alt.Confidence
				finals++
			}
		case "Metadata":
			// Sent once all results for the closed stream are flushed.
			break readLoop
		}
	}

	if err := <-writeErr; err != nil {
		return asr.Result{}, err
	}

	result := asr.Result{
		Text:    strings.Join(parts, " "),
		Elapsed: time.Since(start),
	}
	if finals > 0 {
		result.Confidence = confidence / float64(finals)
	}
	return result, nil
}

// writeAudio sends the utterance as binary chunks followed by the
// CloseStream control message that makes Deepgram flush pending results.
func (p *Provider) writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += writeChunkBytes {
		end := off + writeChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// Probe checks API reachability and key validity with a cheap management
// call, without opening a streaming session.
func (p *Provider) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeEndpoint, nil)
	if err != nil {
		return fmt.Errorf("deepgram: create probe request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deepgram: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deepgram: probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channels", strconv.Itoa(p.channels))

	for word, boost := range p.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", word, boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is the JSON structure returned by Deepgram for a Results event.
type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}
