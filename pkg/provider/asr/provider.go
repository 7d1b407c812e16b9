// Package asr defines the Transcriber interface for speech-to-text backends.
//
// A transcriber wraps one speech recognition engine behind a batch contract:
// one completed, enhanced utterance in, one text result out. Adapters exist
// for local model files (whisper.cpp bindings), local inference servers
// (whisper-server HTTP), and cloud APIs (Deepgram, OpenAI). All of them are
// equally valid implementations; the transcription coordinator decides
// ordering and fallback between them.
//
// Implementations must be safe for concurrent use across utterances. The
// coordinator never runs two calls for the same utterance concurrently but
// may run calls for different utterances in parallel.
package asr

import (
	"context"
	"time"
)

// Result is one completed transcription.
type Result struct {
	// Text is the recognized transcript. May be empty when the utterance
	// contained no recognizable speech.
	Text string

	// Confidence in [0, 1] when the backend reports one, 0 otherwise.
	Confidence float64

	// Elapsed is the backend's processing time for this utterance.
	Elapsed time.Duration
}

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe converts one utterance of 16-bit LE PCM audio to text. The
	// audio format is fixed at construction of the adapter. Cancelling ctx
	// aborts the call; implementations must not leave goroutines or
	// connections behind on cancellation.
	Transcribe(ctx context.Context, pcm []byte) (Result, error)

	// Name identifies the backend in health records, fallback notifications,
	// and logs. Must be stable for the lifetime of the process.
	Name() string

	// Probe performs a lightweight connectivity check without running a full
	// transcription: an existence check for local models, a reachability
	// check for remote endpoints.
	Probe(ctx context.Context) error
}
