// Package audio defines the frame and buffer types shared by every stage of
// the Earshot capture pipeline.
//
// The two primary abstractions are:
//
//   - [Frame]: a single chunk of fixed-format PCM audio flowing from a
//     capture source towards the segmenter and wake-word detector.
//   - [RingBuffer]: a fixed-capacity byte ring that absorbs raw PCM faster
//     than consumers drain it, silently discarding the oldest data.
//
// Capture sources implement the [Source] interface defined in source.go;
// platform-specific implementations live in the audio/capture subpackages.
//
// This package lives under pkg/ because external code (third-party capture
// sources) is expected to implement [Source].
package audio

import "time"

// Frame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: produced by a capture
// [Source], inspected by the segmenter and wake-word detector, and accumulated
// into utterances. A Frame is immutable once created; ownership transfers to
// whichever component consumes it.
type Frame struct {
	// PCM holds 16-bit signed little-endian PCM samples.
	PCM []byte

	// SampleRate in Hz (16000 in all default configurations).
	SampleRate int

	// Channels: 1 for mono (the pipeline's working format).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
// Returns 0 for frames with an invalid format.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.PCM) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesToInt16 converts little-endian PCM bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16ToBytes converts int16 PCM samples to little-endian bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
