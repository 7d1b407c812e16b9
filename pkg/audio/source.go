package audio

import "context"

// Source is the entry point for a platform audio capture implementation.
// A Source delivers a continuous stream of fixed-format PCM [Frame] values
// from a microphone, a network feed, or a test fixture. The pipeline core
// depends only on this interface; the concrete implementation is selected by
// a factory at startup (see the audio/capture package).
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start begins frame delivery. The supplied ctx governs the capture
	// session: when it is cancelled the source stops and closes its channels.
	// Starting an already started source returns an error; device-level
	// failures after Start surface on the Errors channel, not as a return
	// value here.
	Start(ctx context.Context) error

	// Frames returns the read-only channel on which captured frames are
	// delivered. The channel is buffered so a briefly slow consumer does not
	// stall the capture callback, and is closed when the source stops.
	Frames() <-chan Frame

	// Errors returns the read-only channel on which capture faults (device
	// unavailable, stream interrupted) are reported. A fault is fatal to the
	// capture session only; the channel is closed when the source stops.
	Errors() <-chan error

	// Stop ends frame delivery and releases the underlying capture handle.
	// Stopping a source that was never started, or stopping twice, is a
	// no-op and returns nil.
	Stop() error
}
