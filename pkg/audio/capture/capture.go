// Package capture provides concrete [audio.Source] implementations and the
// factory that selects one by name at startup.
//
// Three sources are available:
//
//   - "miniaudio": the platform microphone, captured through the miniaudio
//     library (ALSA, CoreAudio, WASAPI, … selected automatically).
//   - "opus": a remote feed of Opus packets, decoded to PCM.
//   - "reader": a pull source wrapping an io.Reader; intended for tests
//     and offline file feeds.
//
// All sources deliver frames in the format given in [Config]; sources whose
// native format differs convert internally, so downstream code never sees a
// frame that does not match the pipeline's working format.
package capture

import (
	"fmt"
	"io"
	"time"

	"github.com/earshot/earshot/pkg/audio"
)

// Config holds the parameters shared by every capture source.
type Config struct {
	// Device selects the capture device by case-insensitive name substring.
	// Empty selects the OS default. Only the miniaudio source consults it.
	Device string

	// SampleRate of delivered frames in Hz. Default: 16000.
	SampleRate int

	// Channels of delivered frames. Default: 1 (mono).
	Channels int

	// FrameDuration is the target duration of each delivered frame.
	// Default: 20 ms.
	FrameDuration time.Duration

	// ChannelBuffer is the frame channel capacity. A slow consumer can lag
	// this many frames behind the capture callback before frames are dropped.
	// Default: 64.
	ChannelBuffer int
}

// withDefaults returns cfg with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 64
	}
	return c
}

// frameBytes returns the size in bytes of one frame of 16-bit PCM at the
// configured format.
func (c Config) frameBytes() int {
	samples := int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
	return samples * c.Channels * 2
}

// New creates the [audio.Source] registered under name. opusPackets and r are
// the source-specific inputs: the "opus" source requires a non-nil packet
// channel, the "reader" source a non-nil reader; both are ignored otherwise.
func New(name string, cfg Config, opusPackets <-chan []byte, r io.Reader) (audio.Source, error) {
	switch name {
	case "miniaudio", "":
		return NewMiniaudio(cfg)
	case "opus":
		if opusPackets == nil {
			return nil, fmt.Errorf("capture: source %q requires an opus packet channel", name)
		}
		return NewOpusFeed(cfg, opusPackets)
	case "reader":
		if r == nil {
			return nil, fmt.Errorf("capture: source %q requires a reader", name)
		}
		return NewReader(cfg, r), nil
	default:
		return nil, fmt.Errorf("capture: unknown source %q (valid: miniaudio, opus, reader)", name)
	}
}
