// Package mock provides a test double for the asr.Transcriber interface.
//
// Use Transcriber to script per-call results and errors and to inspect which
// audio buffers were delivered and in what order.
//
// Example:
//
//	m := &mock.Transcriber{
//	    NameValue: "primary",
//	    Results:   []asr.Result{{Text: "hello"}},
//	}
//	result, err := m.Transcribe(ctx, pcm)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/earshot/earshot/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// PCM is a copy of the audio bytes that were passed to Transcribe.
	PCM []byte
}

// Transcriber is a mock implementation of asr.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock" when empty.
	NameValue string

	// Results are returned by successive Transcribe calls in order. Once
	// exhausted, the last entry repeats. Ignored while TranscribeErr is set.
	Results []asr.Result

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// ProbeErr, if non-nil, is returned by every Probe call.
	ProbeErr error

	// Delay, if non-zero, makes Transcribe block for the duration or until
	// the context is cancelled, whichever comes first.
	Delay time.Duration

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// ProbeCallCount is the number of times Probe was called.
	ProbeCallCount int
}

// Name returns NameValue, or "mock" when unset.
func (t *Transcriber) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.NameValue == "" {
		return "mock"
	}
	return t.NameValue
}

// Transcribe records the call, honors Delay and context cancellation, and
// returns the scripted result or error.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (asr.Result, error) {
	t.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Ctx: ctx, PCM: cp})
	callIndex := len(t.TranscribeCalls) - 1
	delay := t.Delay
	scriptedErr := t.TranscribeErr
	var result asr.Result
	if len(t.Results) > 0 {
		i := callIndex
		if i >= len(t.Results) {
			i = len(t.Results) - 1
		}
		result = t.Results[i]
	}
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}

	if scriptedErr != nil {
		return asr.Result{}, scriptedErr
	}
	return result, nil
}

// Probe records the call and returns ProbeErr.
func (t *Transcriber) Probe(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ProbeCallCount++
	return t.ProbeErr
}

// TranscribeCallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) TranscribeCallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (t *Transcriber) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
	t.ProbeCallCount = 0
}

// Ensure Transcriber implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Transcriber)(nil)
